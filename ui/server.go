package ui

import (
	"context"
	"net/http"
	"time"

	"deanalyse/app"
	"deanalyse/internal/config"
	"deanalyse/models"
	"deanalyse/ports"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxMultipartMemory bounds how much of an upload gin buffers in memory
const maxMultipartMemory = 12 << 20

// UsageReporter is the part of the usage service the API exposes
type UsageReporter interface {
	GetSummary(ctx context.Context, start, end time.Time) (*models.UsageSummary, error)
}

// Deps are the services behind the API
type Deps struct {
	Upload *app.UploadService
	QA     *app.QAService
	Store  ports.ContextStore
	Usage  UsageReporter
	Logger *zap.Logger
}

// Server represents the JSON API server
type Server struct {
	router *gin.Engine
	cfg    config.ServerConfig
	deps   Deps
	logger *zap.Logger

	uploadLimiter *ipLimiter
	chatLimiter   *ipLimiter
}

// NewServer builds the router. gin's global mode is left to the caller.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:        gin.New(),
		cfg:           cfg,
		deps:          deps,
		logger:        logger.Named("api"),
		uploadLimiter: newIPLimiter(cfg.UploadRateLimit),
		chatLimiter:   newIPLimiter(cfg.ChatRateLimit),
	}
	s.router.MaxMultipartMemory = maxMultipartMemory

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.POST("/upload", s.uploadLimiter.middleware(), s.handleUpload)
	api.POST("/chat", s.chatLimiter.middleware(), s.handleChat)
	api.GET("/context", s.handleGetContext)
	api.DELETE("/context", s.handleDeleteContext)
	api.GET("/usage", s.handleUsage)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	return serve(ctx, &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}, s.logger)
}

// serve runs srv until ctx is done and gives in-flight requests ten seconds to finish
func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
