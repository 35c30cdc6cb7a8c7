package container

import (
	"context"
	"os"

	"deanalyse/adapters/coercer"
	"deanalyse/adapters/db"
	"deanalyse/adapters/llm"
	"deanalyse/adapters/spreadsheet"
	"deanalyse/ai"
	"deanalyse/app"
	"deanalyse/internal/config"
	"deanalyse/internal/errors"
	"deanalyse/internal/metrics"
	"deanalyse/internal/metrics/datadog"
	"deanalyse/internal/profiling"
	"deanalyse/internal/sandbox"
	"deanalyse/internal/session"
	"deanalyse/internal/usage"
	"deanalyse/ports"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	// Infrastructure
	DB      *sqlx.DB
	Metrics metrics.Backend
	Store   *session.MemoryStore

	// Model access; LLM is nil when no API key is configured
	LLM     ports.LLMClient
	Prompts *ai.PromptManager
	Usage   *usage.Service

	Executor *sandbox.Executor

	// Application services
	KPIs   *ai.KPISuggester
	Upload *app.UploadService
	QA     *app.QAService
}

// New wires every component from cfg. Call Shutdown to release them.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.ConfigInvalid("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{Config: cfg, Logger: logger}

	if err := c.initMetrics(ctx); err != nil {
		return nil, err
	}
	if err := c.initUsage(ctx); err != nil {
		c.closeMetrics()
		return nil, err
	}
	if err := c.initLLM(ctx); err != nil {
		c.release()
		return nil, err
	}
	if err := c.initServices(); err != nil {
		c.release()
		return nil, err
	}

	c.Store = session.NewMemoryStore(cfg.Session.Retention, session.WithLogger(logger))
	c.Store.StartSweeper(ctx, cfg.Session.SweepInterval)
	c.Upload = app.NewUploadService(
		spreadsheet.NewDataReader(logger),
		coercer.NewTypeCoercer(cfg.Coercion),
		profiling.NewDataProfiler(),
		c.KPIs,
		c.Store,
		cfg.Session.RetainRows,
		c.Metrics,
		logger,
	)

	logger.Info("container initialized",
		zap.Bool("llm_enabled", c.LLM != nil),
		zap.String("sandbox_mode", c.Executor.Mode()),
		zap.Bool("usage_persistent", c.DB != nil))
	return c, nil
}

// initMetrics selects Datadog when enabled and the no-op backend otherwise
func (c *Container) initMetrics(ctx context.Context) error {
	dd := c.Config.Metrics.Datadog
	if !dd.Enabled {
		c.Metrics = metrics.Nop{}
		return nil
	}
	backend, err := datadog.NewBackend(ctx, datadog.Options{
		Service:    dd.Service,
		Tags:       dd.Tags,
		FlushEvery: dd.FlushInterval,
		Logger:     c.Logger,
	})
	if err != nil {
		return errors.Wrap(err, "failed to start datadog metrics")
	}
	c.Metrics = backend
	return nil
}

// initUsage opens the usage database when a driver is configured
func (c *Container) initUsage(ctx context.Context) error {
	var repo ports.LLMUsageRepository = usage.NewMemoryRepository()
	if driver := c.Config.Database.Driver; driver != "" {
		conn, err := db.Open(ctx, driver, c.Config.Database.URL)
		if err != nil {
			return err
		}
		c.DB = conn
		repo = db.NewUsageRepository(conn)
	}
	c.Usage = usage.NewService(repo, c.Metrics, c.Logger)
	return nil
}

func (c *Container) initLLM(ctx context.Context) error {
	prompts, err := ai.NewPromptManager(c.Config.LLM.PromptsDir)
	if err != nil {
		return errors.Wrap(err, "failed to load prompts")
	}
	c.Prompts = prompts

	lc := c.Config.LLM
	client, err := llm.NewClient(ctx, llm.Config{
		Provider:  lc.Provider,
		APIKey:    lc.APIKey,
		BaseURL:   lc.BaseURL,
		Model:     lc.Model,
		Timeout:   lc.Timeout,
		Retries:   lc.Retries,
		BaseDelay: lc.BaseDelay,
		MaxDelay:  lc.MaxDelay,
	}, c.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to create llm client")
	}
	c.LLM = client
	if client == nil {
		c.Logger.Warn("no LLM API key configured; questions will receive the misconfiguration message")
	}
	return nil
}

func (c *Container) initServices() error {
	sc := c.Config.Sandbox
	executor, err := sandbox.NewExecutor(sandbox.Config{
		Mode:          sc.Mode,
		Timeout:       sc.Timeout,
		MemoryLimitMB: sc.MemoryLimitMB,
		MaxConcurrent: sc.MaxConcurrent,
		Env:           sandboxEnv(),
	}, c.Metrics, c.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to create sandbox")
	}
	c.Executor = executor

	c.KPIs = ai.NewKPISuggester(c.LLM, c.Prompts, c.Usage, c.Logger)
	c.QA = app.NewQAService(c.LLM, c.Prompts, c.Executor, c.Usage, c.Metrics, c.Logger)
	return nil
}

// sandboxEnv forwards the few variables a Go child process needs on some platforms
func sandboxEnv() []string {
	var env []string
	for _, name := range []string{"TMPDIR", "SYSTEMROOT"} {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

// Ready reports whether the usage database, when configured, is reachable
func (c *Container) Ready(ctx context.Context) error {
	if c.DB == nil {
		return nil
	}
	return c.DB.PingContext(ctx)
}

// Shutdown stops the sweeper, drains pending usage writes and closes the
// database and metrics backend
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Store != nil {
		c.Store.Stop()
	}

	drained := make(chan struct{})
	go func() {
		if c.Usage != nil {
			c.Usage.Wait()
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		c.Logger.Warn("shutdown deadline reached before usage records were persisted")
	}

	return c.release()
}

func (c *Container) release() error {
	var firstErr error
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			firstErr = errors.Wrap(err, "failed to close database")
		}
		c.DB = nil
	}
	if err := c.closeMetrics(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *Container) closeMetrics() error {
	if c.Metrics == nil {
		return nil
	}
	err := c.Metrics.Close()
	c.Metrics = nil
	if err != nil {
		return errors.Wrap(err, "failed to flush metrics")
	}
	return nil
}
