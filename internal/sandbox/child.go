package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"deanalyse/domain/dataset"
	"deanalyse/ports"
)

// Child process exit codes. They stay clear of 1 and 2, which the Go runtime
// uses for os.Exit(1) callers and for unrecovered panics and fatal errors.
const (
	exitOK         = 0
	exitBadRequest = 10
	exitTimeout    = 11
	exitMemory     = 12
)

// ChildEnvMarker is set in the environment of every sandbox child
const ChildEnvMarker = "DEANALYSE_SANDBOX_CHILD"

// childRequest is what the parent writes to the child's stdin
type childRequest struct {
	Code          string         `json:"code"`
	Frame         *dataset.Frame `json:"frame"`
	TimeoutMillis int64          `json:"timeout_ms"`
	MemoryLimitMB int64          `json:"memory_limit_mb"`
}

// RunChild is the entry point of the sandbox subprocess. It reads one
// request from in, evaluates it, writes one ExecutionResult to out and
// returns the process exit code.
func RunChild(in io.Reader, out io.Writer, errOut io.Writer) int {
	var req childRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		fmt.Fprintf(errOut, "decode request: %v\n", err)
		return exitBadRequest
	}

	if req.MemoryLimitMB > 0 {
		limit := req.MemoryLimitMB << 20
		debug.SetMemoryLimit(limit)
		go watchHeap(uint64(limit), errOut)
	}

	ctx := context.Background()
	if req.TimeoutMillis > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMillis)*time.Millisecond)
		defer cancel()
	}

	result := Run(ctx, req.Code, req.Frame)
	if err := json.NewEncoder(out).Encode(result); err != nil {
		fmt.Fprintf(errOut, "encode result: %v\n", err)
		return exitBadRequest
	}
	if ctx.Err() != nil {
		return exitTimeout
	}
	return exitOK
}

// watchHeap kills the process once the live heap passes limit. The soft
// limit alone only makes the GC work harder.
func watchHeap(limit uint64, errOut io.Writer) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		if m.HeapAlloc > limit {
			fmt.Fprintf(errOut, "memory limit exceeded: %d MB\n", m.HeapAlloc>>20)
			os.Exit(exitMemory)
		}
	}
}

// decodeChildResult parses the child's stdout
func decodeChildResult(raw []byte) (*ports.ExecutionResult, error) {
	var result ports.ExecutionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode sandbox result: %w", err)
	}
	return &result, nil
}
