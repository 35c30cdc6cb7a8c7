package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"deanalyse/domain/core"
	"deanalyse/domain/dataset"
	"deanalyse/ports"

	"go.uber.org/zap"
)

const maxChildOutput = 1 << 20

// subprocessRunner re-executes a binary whose sandbox entry point calls
// RunChild. Each run gets a fresh process, an empty working directory and
// an environment holding only the child marker and Config.Env.
type subprocessRunner struct {
	binary        string
	args          []string
	env           []string
	memoryLimitMB int64
	logger        *zap.Logger
}

func newSubprocessRunner(cfg Config, logger *zap.Logger) (*subprocessRunner, error) {
	binary := cfg.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		binary = exe
	}
	args := cfg.Args
	if args == nil {
		args = []string{"sandbox"}
	}
	env := append([]string{ChildEnvMarker + "=1", "GOMAXPROCS=1"}, cfg.Env...)
	return &subprocessRunner{
		binary:        binary,
		args:          args,
		env:           env,
		memoryLimitMB: cfg.MemoryLimitMB,
		logger:        logger,
	}, nil
}

func (r *subprocessRunner) run(ctx context.Context, code string, df *dataset.Frame) *ports.ExecutionResult {
	start := time.Now()
	fail := func(err error) *ports.ExecutionResult {
		return &ports.ExecutionResult{Error: err.Error(), Duration: time.Since(start)}
	}

	req := childRequest{Code: code, Frame: df, MemoryLimitMB: r.memoryLimitMB}
	if deadline, ok := ctx.Deadline(); ok {
		req.TimeoutMillis = time.Until(deadline).Milliseconds()
		if req.TimeoutMillis <= 0 {
			return fail(timeoutError(context.DeadlineExceeded))
		}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fail(fmt.Errorf("encode sandbox request: %w", err))
	}

	dir, err := os.MkdirTemp("", "deanalyse-sandbox-")
	if err != nil {
		return fail(fmt.Errorf("create sandbox dir: %w", err))
	}
	defer os.RemoveAll(dir)

	cmd := exec.CommandContext(ctx, r.binary, r.args...)
	cmd.Dir = dir
	cmd.Env = append(append([]string{}, r.env...), "HOME="+dir, "TMPDIR="+dir)
	cmd.Stdin = bytes.NewReader(payload)
	stdout := newLimitedBuffer(maxChildOutput)
	stderr := newLimitedBuffer(8 << 10)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()

	if ctx.Err() != nil {
		r.logger.Warn("sandbox child killed", zap.Error(ctx.Err()), zap.Duration("elapsed", time.Since(start)))
		return fail(timeoutError(ctx.Err()))
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		switch exitErr.ExitCode() {
		case exitMemory:
			return fail(fmt.Errorf("%w: %s", core.ErrMemoryExceeded, strings.TrimSpace(stderr.String())))
		case exitTimeout:
			// the child still wrote its result; fall through to decoding
		default:
			r.logger.Error("sandbox child failed",
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.String("stderr", stderr.String()))
			return fail(fmt.Errorf("sandbox process exited with code %d", exitErr.ExitCode()))
		}
	} else if runErr != nil {
		return fail(fmt.Errorf("start sandbox process: %w", runErr))
	}

	result, err := decodeChildResult(stdout.Bytes())
	if err != nil {
		return fail(err)
	}
	result.Duration = time.Since(start)
	return result
}
