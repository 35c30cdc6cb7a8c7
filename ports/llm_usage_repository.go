package ports

import (
	"context"
	"time"

	"deanalyse/models"
)

// LLMUsageRepository defines the interface for LLM usage data operations
type LLMUsageRepository interface {
	// Record usage for an LLM call
	RecordUsage(ctx context.Context, usage *models.LLMUsage) error

	// Get usage records within date range, newest first
	GetUsage(ctx context.Context, start, end time.Time) ([]*models.LLMUsage, error)

	// Get usage records of one session, newest first
	GetSessionUsage(ctx context.Context, sessionID string) ([]*models.LLMUsage, error)

	// Get aggregated usage summary for a period
	GetUsageSummary(ctx context.Context, start, end time.Time) (*models.UsageSummary, error)
}

// UsageRecorder receives one notification per model call. Implementations
// must not block the caller on persistence.
type UsageRecorder interface {
	RecordCall(ctx context.Context, sessionID, operationType string, usage *UsageData, elapsed time.Duration, callErr error)
}

// NopUsageRecorder discards every call
type NopUsageRecorder struct{}

func (NopUsageRecorder) RecordCall(context.Context, string, string, *UsageData, time.Duration, error) {}
