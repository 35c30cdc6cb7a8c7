package ui

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// OpsServer serves pprof and a health probe on a separate port, kept off the public API
type OpsServer struct {
	router *chi.Mux
	logger *zap.Logger
}

// NewOpsServer creates the ops router. ready is polled by /healthz; nil means always ready.
func NewOpsServer(ready func(ctx context.Context) error, logger *zap.Logger) *OpsServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &OpsServer{router: chi.NewRouter(), logger: logger.Named("ops")}

	o.router.Use(middleware.Recoverer)
	o.router.Mount("/debug", middleware.Profiler())
	o.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				o.logger.Warn("health check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return o
}

// Handler exposes the router, mainly for tests
func (o *OpsServer) Handler() http.Handler {
	return o.router
}

// Run serves on addr until ctx is done
func (o *OpsServer) Run(ctx context.Context, addr string) error {
	return serve(ctx, &http.Server{
		Addr:              addr,
		Handler:           o.router,
		ReadHeaderTimeout: 10 * time.Second,
	}, o.logger)
}
