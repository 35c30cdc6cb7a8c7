package db

import (
	"context"
	"time"

	apperrors "deanalyse/internal/errors"
	"deanalyse/models"
	"deanalyse/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// UsageRepository implements LLMUsageRepository for Postgres and SQLite.
// Queries are written with ? placeholders and rebound for the driver.
type UsageRepository struct {
	db *sqlx.DB
}

// NewUsageRepository creates a new SQL usage repository
func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

var _ ports.LLMUsageRepository = (*UsageRepository)(nil)

// RecordUsage records LLM usage for an API call
func (r *UsageRepository) RecordUsage(ctx context.Context, usage *models.LLMUsage) error {
	row := *usage
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	row.CreatedAt = row.CreatedAt.UTC()

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO llm_usage (
			id, session_id, provider, model, operation_type,
			prompt_tokens, completion_tokens, total_tokens, duration_ms, created_at
		) VALUES (
			:id, :session_id, :provider, :model, :operation_type,
			:prompt_tokens, :completion_tokens, :total_tokens, :duration_ms, :created_at
		)
	`, &row)
	if err != nil {
		return apperrors.DatabaseError("insert usage record", err)
	}
	return nil
}

const selectUsage = `
		SELECT id, session_id, provider, model, operation_type,
		       prompt_tokens, completion_tokens, total_tokens, duration_ms, created_at
		FROM llm_usage`

// GetUsage retrieves usage records within a date range, newest first
func (r *UsageRepository) GetUsage(ctx context.Context, start, end time.Time) ([]*models.LLMUsage, error) {
	var usages []*models.LLMUsage
	err := r.db.SelectContext(ctx, &usages, r.db.Rebind(selectUsage+`
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC
	`), start.UTC(), end.UTC())
	if err != nil {
		return nil, apperrors.DatabaseError("query usage records", err)
	}
	return usages, nil
}

// GetSessionUsage retrieves the usage records of one session, newest first
func (r *UsageRepository) GetSessionUsage(ctx context.Context, sessionID string) ([]*models.LLMUsage, error) {
	var usages []*models.LLMUsage
	err := r.db.SelectContext(ctx, &usages, r.db.Rebind(selectUsage+`
		WHERE session_id = ?
		ORDER BY created_at DESC
	`), sessionID)
	if err != nil {
		return nil, apperrors.DatabaseError("query session usage", err)
	}
	return usages, nil
}

// GetUsageSummary returns aggregated usage statistics for a period
func (r *UsageRepository) GetUsageSummary(ctx context.Context, start, end time.Time) (*models.UsageSummary, error) {
	summary := models.NewUsageSummary(start, end)
	start, end = start.UTC(), end.UTC()

	var totals struct {
		RequestCount          int `db:"request_count"`
		TotalTokens           int `db:"total_tokens"`
		TotalPromptTokens     int `db:"total_prompt_tokens"`
		TotalCompletionTokens int `db:"total_completion_tokens"`
	}
	err := r.db.GetContext(ctx, &totals, r.db.Rebind(`
		SELECT
			COUNT(*) AS request_count,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COALESCE(SUM(prompt_tokens), 0) AS total_prompt_tokens,
			COALESCE(SUM(completion_tokens), 0) AS total_completion_tokens
		FROM llm_usage
		WHERE created_at >= ? AND created_at <= ?
	`), start, end)
	if err != nil {
		return nil, apperrors.DatabaseError("sum usage", err)
	}
	summary.RequestCount = totals.RequestCount
	summary.TotalTokens = totals.TotalTokens
	summary.TotalPromptTokens = totals.TotalPromptTokens
	summary.TotalCompletionTokens = totals.TotalCompletionTokens

	var byOperation []models.OperationUsage
	err = r.db.SelectContext(ctx, &byOperation, r.db.Rebind(`
		SELECT operation_type, SUM(total_tokens) AS total_tokens, COUNT(*) AS request_count
		FROM llm_usage
		WHERE created_at >= ? AND created_at <= ?
		GROUP BY operation_type
	`), start, end)
	if err != nil {
		return nil, apperrors.DatabaseError("group usage by operation", err)
	}
	for _, op := range byOperation {
		summary.ByOperation[op.OperationType] = op
	}

	var byModel []models.ModelUsage
	err = r.db.SelectContext(ctx, &byModel, r.db.Rebind(`
		SELECT model, provider, SUM(total_tokens) AS total_tokens, COUNT(*) AS request_count
		FROM llm_usage
		WHERE created_at >= ? AND created_at <= ?
		GROUP BY model, provider
	`), start, end)
	if err != nil {
		return nil, apperrors.DatabaseError("group usage by model", err)
	}
	for _, m := range byModel {
		summary.ByModel[m.Model] = m
	}

	return summary, nil
}
