package sandbox

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"deanalyse/domain/core"
	"deanalyse/domain/dataset"
	"deanalyse/internal/sandbox/frame"
	"deanalyse/ports"

	"github.com/traefik/yaegi/interp"
)

const (
	// NoResultMarker is reported when the code defines neither Analyze nor result
	NoResultMarker = "<no result produced>"
	// MaxStdoutBytes bounds captured printed output
	MaxStdoutBytes = 16 << 10
)

type outcome struct {
	value    any
	produced bool
	err      error
}

// Run evaluates code against df inside the current process.
//
// The interpreter cannot preempt a running loop, so when ctx expires Run
// returns a timeout result while the evaluation goroutine keeps running until
// the code yields. Production traffic uses the subprocess executor, where the
// whole process is discarded instead.
func Run(ctx context.Context, code string, df *dataset.Frame) *ports.ExecutionResult {
	start := time.Now()
	stdout := newLimitedBuffer(MaxStdoutBytes)
	result := &ports.ExecutionResult{}
	finish := func() *ports.ExecutionResult {
		result.Stdout = stdout.String()
		result.Duration = time.Since(start)
		return result
	}

	src := wrapCode(code)
	if err := validateImports(src); err != nil {
		result.Error = err.Error()
		return finish()
	}

	i := interp.New(interp.Options{Stdout: stdout, Stderr: stdout})
	if err := i.Use(Symbols()); err != nil {
		result.Error = fmt.Sprintf("load symbols: %v", err)
		return finish()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		done <- evaluate(ctx, i, src, frame.New(df))
	}()

	select {
	case out := <-done:
		switch {
		case out.err != nil:
			result.Error = out.err.Error()
		case !out.produced:
			result.Result = NoResultMarker
		default:
			result.Result = RenderResult(out.value)
		}
	case <-ctx.Done():
		result.Error = timeoutError(ctx.Err()).Error()
	}
	return finish()
}

func evaluate(ctx context.Context, i *interp.Interpreter, src string, df *frame.Frame) outcome {
	if _, err := i.EvalWithContext(ctx, src); err != nil {
		if ctx.Err() != nil {
			return outcome{err: timeoutError(ctx.Err())}
		}
		return outcome{err: fmt.Errorf("compile: %w", err)}
	}

	if fn, err := i.Eval("main.Analyze"); err == nil && fn.IsValid() {
		return callAnalyze(fn, df)
	}
	if v, err := i.Eval("main.result"); err == nil && v.IsValid() {
		return outcome{value: v.Interface(), produced: true}
	}
	return outcome{}
}

func callAnalyze(fn reflect.Value, df *frame.Frame) outcome {
	switch analyze := fn.Interface().(type) {
	case func(*frame.Frame) (interface{}, error):
		v, err := analyze(df)
		if err != nil {
			return outcome{err: fmt.Errorf("Analyze returned error: %w", err)}
		}
		return outcome{value: v, produced: true}
	case func(*frame.Frame) interface{}:
		return outcome{value: analyze(df), produced: true}
	default:
		return outcome{err: fmt.Errorf("%w: Analyze has type %s, want func(*frame.Frame) (any, error)", core.ErrNoEntryPoint, fn.Type())}
	}
}

func timeoutError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: time limit reached", core.ErrExecutionTimeout)
	}
	return fmt.Errorf("execution cancelled: %w", err)
}
