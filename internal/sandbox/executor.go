// Package sandbox evaluates model-generated Go analysis code with the yaegi
// interpreter. Code sees only an allow-listed set of packages plus the
// read-only frame API. Runs are bounded in time, in memory (subprocess mode)
// and in parallelism.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deanalyse/domain/core"
	"deanalyse/domain/dataset"
	"deanalyse/internal/metrics"
	"deanalyse/ports"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Execution modes
const (
	ModeSubprocess = "subprocess"
	ModeInProcess  = "inprocess"
)

// Config controls the executor
type Config struct {
	Mode          string
	Timeout       time.Duration
	MemoryLimitMB int64
	MaxConcurrent int64

	// Binary and Args start the child in subprocess mode. Binary defaults to
	// the running executable and Args to ["sandbox"].
	Binary string
	Args   []string
	// Env is appended to the child's minimal environment
	Env []string
}

// DefaultConfig is the production configuration
func DefaultConfig() Config {
	return Config{
		Mode:          ModeSubprocess,
		Timeout:       5 * time.Second,
		MemoryLimitMB: 256,
		MaxConcurrent: 4,
	}
}

type runFunc func(ctx context.Context, code string, df *dataset.Frame) *ports.ExecutionResult

// Executor implements ports.CodeExecutor
type Executor struct {
	run     runFunc
	mode    string
	timeout time.Duration
	sem     *semaphore.Weighted
	metrics metrics.Backend
	logger  *zap.Logger
}

// NewExecutor builds an executor for cfg.Mode
func NewExecutor(cfg Config, m metrics.Backend, logger *zap.Logger) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sandbox")
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MemoryLimitMB <= 0 {
		cfg.MemoryLimitMB = def.MemoryLimitMB
	}

	var run runFunc
	switch strings.ToLower(cfg.Mode) {
	case "", ModeSubprocess:
		cfg.Mode = ModeSubprocess
		r, err := newSubprocessRunner(cfg, logger)
		if err != nil {
			return nil, err
		}
		run = r.run
	case ModeInProcess:
		logger.Warn("running generated code in-process; a panic in a goroutine it starts stops the server")
		run = Run
	default:
		return nil, fmt.Errorf("unknown sandbox mode %q", cfg.Mode)
	}

	return &Executor{
		run:     run,
		mode:    strings.ToLower(cfg.Mode),
		timeout: cfg.Timeout,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		metrics: metrics.OrNop(m),
		logger:  logger,
	}, nil
}

// Mode reports how code is run
func (e *Executor) Mode() string { return e.mode }

// Execute waits for a free slot, then runs req under the configured time
// limit. Failures of the code itself are reported in the result.
func (e *Executor) Execute(ctx context.Context, req ports.ExecutionRequest) (*ports.ExecutionResult, error) {
	if req.Frame == nil {
		return nil, core.ErrNoRowsLoaded
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for sandbox slot: %w", err)
	}
	defer e.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result := e.run(runCtx, req.Code, req.Frame)

	status := "ok"
	switch {
	case strings.Contains(result.Error, core.ErrExecutionTimeout.Error()):
		status = "timeout"
	case strings.Contains(result.Error, core.ErrMemoryExceeded.Error()):
		status = "memory"
	case result.Failed():
		status = "error"
	}
	e.metrics.ObserveHistogram(metrics.SandboxSeconds, result.Duration.Seconds(), metrics.Labels{"status": status})
	e.logger.Debug("analysis code executed",
		zap.String("mode", e.mode),
		zap.String("status", status),
		zap.Duration("duration", result.Duration))

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return result, ctx.Err()
	}
	return result, nil
}

var _ ports.CodeExecutor = (*Executor)(nil)
