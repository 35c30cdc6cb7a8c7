package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound        = errors.New("resource not found")
	ErrSessionNotFound = fmt.Errorf("%w: session", ErrNotFound)

	// Ingestion errors
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyFile         = errors.New("file is empty")
	ErrFileTooLarge      = errors.New("file too large")
	ErrMissingHeader     = errors.New("missing header row")

	// Generated code errors
	ErrNoRowsLoaded  = errors.New("dataset rows are not retained for this session")
	ErrNoEntryPoint  = errors.New("no result produced")
	ErrForbiddenCode = errors.New("forbidden import in generated code")

	// Sandbox limits
	ErrExecutionTimeout = errors.New("execution exceeded time budget")
	ErrMemoryExceeded   = errors.New("execution exceeded memory budget")
)

// IsIngestionError reports whether err means the uploaded file itself was rejected
func IsIngestionError(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrEmptyFile) ||
		errors.Is(err, ErrFileTooLarge) ||
		errors.Is(err, ErrMissingHeader)
}
