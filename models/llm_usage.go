package models

import (
	"time"

	"github.com/google/uuid"
)

// LLMUsage represents a single LLM API call's token usage
type LLMUsage struct {
	ID               uuid.UUID `json:"id" db:"id"`
	SessionID        string    `json:"session_id" db:"session_id"`
	Provider         string    `json:"provider" db:"provider"`             // 'openai', 'gemini', 'mock'
	Model            string    `json:"model" db:"model"`                   // e.g. 'gpt-4o'
	OperationType    string    `json:"operation_type" db:"operation_type"` // see Op* constants
	PromptTokens     int       `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens" db:"total_tokens"`
	DurationMs       int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// UsageSummary provides aggregated usage statistics for a period
type UsageSummary struct {
	PeriodStart           time.Time                 `json:"period_start"`
	PeriodEnd             time.Time                 `json:"period_end"`
	TotalTokens           int                       `json:"total_tokens" db:"total_tokens"`
	TotalPromptTokens     int                       `json:"total_prompt_tokens" db:"total_prompt_tokens"`
	TotalCompletionTokens int                       `json:"total_completion_tokens" db:"total_completion_tokens"`
	RequestCount          int                       `json:"request_count" db:"request_count"`
	ByOperation           map[string]OperationUsage `json:"by_operation"`
	ByModel               map[string]ModelUsage     `json:"by_model"`
}

// OperationUsage represents usage aggregated by operation type
type OperationUsage struct {
	OperationType string `json:"operation_type" db:"operation_type"`
	TotalTokens   int    `json:"total_tokens" db:"total_tokens"`
	RequestCount  int    `json:"request_count" db:"request_count"`
}

// ModelUsage represents usage aggregated by model
type ModelUsage struct {
	Model        string `json:"model" db:"model"`
	Provider     string `json:"provider" db:"provider"`
	TotalTokens  int    `json:"total_tokens" db:"total_tokens"`
	RequestCount int    `json:"request_count" db:"request_count"`
}

// NewUsageSummary returns an empty summary for the period
func NewUsageSummary(start, end time.Time) *UsageSummary {
	return &UsageSummary{
		PeriodStart: start,
		PeriodEnd:   end,
		ByOperation: make(map[string]OperationUsage),
		ByModel:     make(map[string]ModelUsage),
	}
}

// Add folds one record into the summary
func (s *UsageSummary) Add(u *LLMUsage) {
	s.RequestCount++
	s.TotalTokens += u.TotalTokens
	s.TotalPromptTokens += u.PromptTokens
	s.TotalCompletionTokens += u.CompletionTokens

	op := s.ByOperation[u.OperationType]
	op.OperationType = u.OperationType
	op.TotalTokens += u.TotalTokens
	op.RequestCount++
	s.ByOperation[u.OperationType] = op

	m := s.ByModel[u.Model]
	m.Model = u.Model
	m.Provider = u.Provider
	m.TotalTokens += u.TotalTokens
	m.RequestCount++
	s.ByModel[u.Model] = m
}

// Operation types for categorization
const (
	OpQAPlanning    = "qa_planning"
	OpQASynthesis   = "qa_synthesis"
	OpQAFallback    = "qa_fallback"
	OpKPISuggestion = "kpi_suggestion"
)
