package ports

import (
	"context"
	"time"

	"deanalyse/domain/dataset"
)

// ExecutionRequest is one run of model-generated code against a dataset
type ExecutionRequest struct {
	Code  string
	Frame *dataset.Frame
}

// ExecutionResult captures everything the code produced. A failed run is
// reported in Error rather than as a Go error so it can be shown to the model.
type ExecutionResult struct {
	Result   string        `json:"result"`
	Stdout   string        `json:"stdout"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the run ended in an error
func (r *ExecutionResult) Failed() bool {
	return r.Error != ""
}

// CodeExecutor evaluates generated code in isolation
type CodeExecutor interface {
	// Execute returns a non-nil error only when the executor itself could not
	// run (e.g. the request context was cancelled before a slot was free).
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}
