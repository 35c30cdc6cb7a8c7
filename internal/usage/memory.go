package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"deanalyse/models"
	"deanalyse/ports"
)

// MemoryRepository keeps the ledger in process memory. It is the default when
// no database is configured; records are lost on restart.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []*models.LLMUsage
}

// NewMemoryRepository creates an empty ledger
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

var _ ports.LLMUsageRepository = (*MemoryRepository)(nil)

func (r *MemoryRepository) RecordUsage(ctx context.Context, usage *models.LLMUsage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := *usage
	r.mu.Lock()
	r.records = append(r.records, &stored)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) GetUsage(ctx context.Context, start, end time.Time) ([]*models.LLMUsage, error) {
	return r.filter(ctx, func(u *models.LLMUsage) bool { return inRange(u.CreatedAt, start, end) })
}

func (r *MemoryRepository) GetSessionUsage(ctx context.Context, sessionID string) ([]*models.LLMUsage, error) {
	return r.filter(ctx, func(u *models.LLMUsage) bool { return u.SessionID == sessionID })
}

func (r *MemoryRepository) GetUsageSummary(ctx context.Context, start, end time.Time) (*models.UsageSummary, error) {
	records, err := r.GetUsage(ctx, start, end)
	if err != nil {
		return nil, err
	}
	summary := models.NewUsageSummary(start, end)
	for _, u := range records {
		summary.Add(u)
	}
	return summary, nil
}

// filter returns copies of the matching records, newest first
func (r *MemoryRepository) filter(ctx context.Context, keep func(*models.LLMUsage) bool) ([]*models.LLMUsage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []*models.LLMUsage
	for _, u := range r.records {
		if keep(u) {
			c := *u
			out = append(out, &c)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
