package sandbox

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deanalyse/domain/core"
	"deanalyse/domain/dataset"
	"deanalyse/internal/metrics"
	"deanalyse/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/semaphore"
)

// The test binary doubles as the sandbox child in subprocess tests
func TestMain(m *testing.M) {
	if os.Getenv(ChildEnvMarker) == "1" {
		os.Exit(RunChild(os.Stdin, os.Stdout, os.Stderr))
	}
	os.Exit(m.Run())
}

func salesDataset(t *testing.T) *dataset.Frame {
	t.Helper()
	df, err := dataset.NewFrame([]dataset.Column{
		{Name: "region", Type: dataset.TypeText, Cells: []dataset.Cell{
			dataset.Text("north"), dataset.Text("south"), dataset.Text("north"),
		}},
		{Name: "revenue", Type: dataset.TypeNumeric, Cells: []dataset.Cell{
			dataset.Number(10), dataset.Number(20), dataset.Number(30),
		}},
	})
	require.NoError(t, err)
	return df
}

func runInProcess(t *testing.T, code string, timeout time.Duration) *ports.ExecutionResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return Run(ctx, code, salesDataset(t))
}

func TestRunAnalyzeWithError(t *testing.T) {
	res := runInProcess(t, `
import "frame"

func Analyze(df *frame.Frame) (any, error) {
	return df.Sum("revenue"), nil
}`, 5*time.Second)

	require.Empty(t, res.Error)
	assert.Equal(t, "60", res.Result)
}

func TestRunAnalyzeWithoutError(t *testing.T) {
	res := runInProcess(t, `package main

import (
	"fmt"
	"frame"
)

func Analyze(df *frame.Frame) any {
	fmt.Println("grouping", df.Len(), "rows")
	return df.GroupSum("region", "revenue")
}`, 5*time.Second)

	require.Empty(t, res.Error)
	assert.JSONEq(t, `{"north":40,"south":20}`, res.Result)
	assert.Equal(t, "grouping 3 rows\n", res.Stdout)
}

func TestRunStatsPackage(t *testing.T) {
	res := runInProcess(t, `
import (
	"frame"
	"stats"
)

func Analyze(df *frame.Frame) (any, error) {
	m, err := stats.Median(df.Numbers("revenue"))
	return m, err
}`, 5*time.Second)

	require.Empty(t, res.Error)
	assert.Equal(t, "20", res.Result)
}

func TestRunResultVariable(t *testing.T) {
	res := runInProcess(t, "var result = 6 * 7", 5*time.Second)

	require.Empty(t, res.Error)
	assert.Equal(t, "42", res.Result)
}

func TestRunNoResult(t *testing.T) {
	res := runInProcess(t, "func helper() int { return 1 }", 5*time.Second)

	assert.Empty(t, res.Error)
	assert.Equal(t, NoResultMarker, res.Result)
}

func TestRunForbiddenImport(t *testing.T) {
	res := runInProcess(t, `
import "os"

func Analyze(df any) (any, error) { return os.Getenv("HOME"), nil }`, 5*time.Second)

	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "forbidden")
	assert.Empty(t, res.Result)
}

func TestRunRuntimeErrorIsReported(t *testing.T) {
	res := runInProcess(t, `
import "frame"

func Analyze(df *frame.Frame) (any, error) {
	var xs []float64
	return xs[df.Len()], nil
}`, 5*time.Second)

	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "index out of range")
}

func TestRunUnknownColumnIsReported(t *testing.T) {
	res := runInProcess(t, `
import "frame"

func Analyze(df *frame.Frame) (any, error) { return df.Sum("profit"), nil }`, 5*time.Second)

	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, `unknown column "profit"`)
}

func TestRunAnalyzeReturnsError(t *testing.T) {
	res := runInProcess(t, `
import (
	"fmt"
	"frame"
)

func Analyze(df *frame.Frame) (any, error) { return nil, fmt.Errorf("no such month") }`, 5*time.Second)

	assert.Contains(t, res.Error, "no such month")
}

func TestRunCompileError(t *testing.T) {
	res := runInProcess(t, "func Analyze( {", 5*time.Second)
	assert.True(t, res.Failed())
}

func TestRunTimeout(t *testing.T) {
	res := runInProcess(t, `
import (
	"frame"
	"time"
)

func Analyze(df *frame.Frame) (any, error) {
	time.Sleep(time.Second)
	return 1, nil
}`, 50*time.Millisecond)

	assert.Contains(t, res.Error, core.ErrExecutionTimeout.Error())
}

func TestRenderResult(t *testing.T) {
	assert.Equal(t, "null", RenderResult(nil))
	assert.Equal(t, "plain", RenderResult("plain"))
	assert.Equal(t, `[1,2]`, RenderResult([]int{1, 2}))

	long := RenderResult(make([]int, 5000))
	assert.LessOrEqual(t, len([]rune(long)), MaxResultLength+len(truncatedSuffix))
	assert.Contains(t, long, truncatedSuffix)
}

func TestExecutorInProcess(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	m := metrics.NewMemory()
	exec, err := NewExecutor(Config{Mode: ModeInProcess, Timeout: 5 * time.Second, MaxConcurrent: 1}, m, nil)
	require.NoError(t, err)

	res, err := exec.Execute(context.Background(), ports.ExecutionRequest{
		Code:  "var result = \"ok\"",
		Frame: salesDataset(t),
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", res.Result)
	assert.Len(t, m.Observations(metrics.SandboxSeconds, metrics.Labels{"status": "ok"}), 1)
}

func TestExecutorInProcessWarns(t *testing.T) {
	obs, logs := observer.New(zap.WarnLevel)
	_, err := NewExecutor(Config{Mode: ModeInProcess}, nil, zap.New(obs))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("in-process").Len())
}

func TestExecutorRequiresRows(t *testing.T) {
	exec, err := NewExecutor(Config{Mode: ModeInProcess}, nil, nil)
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), ports.ExecutionRequest{Code: "var result = 1"})
	assert.ErrorIs(t, err, core.ErrNoRowsLoaded)
}

func TestExecutorBoundsConcurrency(t *testing.T) {
	var running, peak int32
	exec := &Executor{
		run: func(ctx context.Context, code string, df *dataset.Frame) *ports.ExecutionResult {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return &ports.ExecutionResult{Result: "x"}
		},
		timeout: time.Second,
		metrics: metrics.Nop{},
	}
	exec.sem = semaphore.NewWeighted(2)
	exec.logger = zap.NewNop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exec.Execute(context.Background(), ports.ExecutionRequest{Code: "x", Frame: salesDataset(t)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestExecutorCancelledWhileWaiting(t *testing.T) {
	exec, err := NewExecutor(Config{Mode: ModeInProcess, MaxConcurrent: 1}, nil, nil)
	require.NoError(t, err)
	require.True(t, exec.sem.TryAcquire(1))
	defer exec.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = exec.Execute(ctx, ports.ExecutionRequest{Code: "var result = 1", Frame: salesDataset(t)})
	assert.ErrorIs(t, err, context.Canceled)
}

func newSubprocessExecutor(t *testing.T, timeout time.Duration, memoryMB int64) *Executor {
	t.Helper()
	exec, err := NewExecutor(Config{
		Mode:          ModeSubprocess,
		Timeout:       timeout,
		MemoryLimitMB: memoryMB,
		Binary:        os.Args[0],
		Args:          []string{"-test.run=^$"},
	}, nil, nil)
	require.NoError(t, err)
	return exec
}

func TestSubprocessExecutor(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	exec := newSubprocessExecutor(t, 10*time.Second, 256)

	res, err := exec.Execute(context.Background(), ports.ExecutionRequest{
		Code: `
import (
	"fmt"
	"frame"
)

func Analyze(df *frame.Frame) (any, error) {
	fmt.Print("rows=", df.Len())
	return df.TopN("revenue", 1), nil
}`,
		Frame: salesDataset(t),
	})

	require.NoError(t, err)
	require.Empty(t, res.Error)
	assert.JSONEq(t, `[{"region":"north","revenue":30}]`, res.Result)
	assert.Equal(t, "rows=3", res.Stdout)
}

func TestSubprocessExecutorTimeout(t *testing.T) {
	exec := newSubprocessExecutor(t, 300*time.Millisecond, 256)

	res, err := exec.Execute(context.Background(), ports.ExecutionRequest{
		Code: `
import (
	"frame"
	"time"
)

func Analyze(df *frame.Frame) (any, error) {
	time.Sleep(30 * time.Second)
	return 1, nil
}`,
		Frame: salesDataset(t),
	})

	require.NoError(t, err)
	assert.Contains(t, res.Error, core.ErrExecutionTimeout.Error())
}

func TestSubprocessExecutorMemoryCeiling(t *testing.T) {
	exec := newSubprocessExecutor(t, 20*time.Second, 64)

	res, err := exec.Execute(context.Background(), ports.ExecutionRequest{
		Code: `
import (
	"frame"
	"time"
)

func Analyze(df *frame.Frame) (any, error) {
	var hoard [][]byte
	for i := 0; i < 400; i++ {
		chunk := make([]byte, 8<<20)
		hoard = append(hoard, chunk)
		time.Sleep(5 * time.Millisecond)
	}
	return len(hoard), nil
}`,
		Frame: salesDataset(t),
	})

	require.NoError(t, err)
	assert.Contains(t, res.Error, core.ErrMemoryExceeded.Error())
}

func TestSubprocessExecutorGoroutinePanic(t *testing.T) {
	exec := newSubprocessExecutor(t, 10*time.Second, 256)

	res, err := exec.Execute(context.Background(), ports.ExecutionRequest{
		Code: `
import "frame"

func Analyze(df *frame.Frame) (any, error) {
	done := make(chan int)
	go func() {
		var counts map[string]int
		counts["north"]++
		done <- 1
	}()
	return <-done, nil
}`,
		Frame: salesDataset(t),
	})

	require.NoError(t, err)
	assert.Contains(t, res.Error, "sandbox process exited with code 2")
	assert.NotContains(t, res.Error, "decode sandbox result")
}
