package usage

import (
	"context"
	"sync"
	"time"

	"deanalyse/internal/metrics"
	"deanalyse/models"
	"deanalyse/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries     = 3
	defaultBaseDelay      = 100 * time.Millisecond
	defaultPersistTimeout = 5 * time.Second
)

// Service handles LLM usage tracking and persistence
type Service struct {
	repo    ports.LLMUsageRepository
	metrics metrics.Backend
	logger  *zap.Logger

	maxRetries int
	baseDelay  time.Duration
	now        func() time.Time
	inflight   sync.WaitGroup
}

var _ ports.UsageRecorder = (*Service)(nil)

// NewService creates a new usage service
func NewService(repo ports.LLMUsageRepository, m metrics.Backend, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:       repo,
		metrics:    metrics.OrNop(m),
		logger:     logger.Named("usage"),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		now:        time.Now,
	}
}

// RecordCall observes the call latency and, when the provider reported usage,
// persists a ledger record in the background. It never blocks on the database.
func (s *Service) RecordCall(ctx context.Context, sessionID, operationType string, usage *ports.UsageData, elapsed time.Duration, callErr error) {
	status := "ok"
	if callErr != nil {
		status = "error"
	}
	s.metrics.ObserveHistogram(metrics.LLMCallSeconds, elapsed.Seconds(), metrics.Labels{
		"operation": operationType,
		"status":    status,
	})

	if usage == nil {
		if callErr == nil {
			s.logger.Warn("nil usage data provided", zap.String("operation", operationType))
		}
		return
	}
	if usage.PromptTokens < 0 || usage.CompletionTokens < 0 || usage.TotalTokens < 0 {
		s.logger.Error("invalid token counts",
			zap.String("operation", operationType),
			zap.Int("prompt_tokens", usage.PromptTokens),
			zap.Int("completion_tokens", usage.CompletionTokens),
			zap.Int("total_tokens", usage.TotalTokens))
		return
	}

	record := &models.LLMUsage{
		ID:               uuid.New(),
		SessionID:        sessionID,
		Provider:         usage.Provider,
		Model:            usage.Model,
		OperationType:    operationType,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		DurationMs:       elapsed.Milliseconds(),
		CreatedAt:        s.now(),
	}

	// Async persistence to avoid blocking LLM calls
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.persistWithRetry(record); err != nil {
			s.metrics.IncCounter(metrics.UsagePersistTotal, 1, metrics.Labels{"status": "failed"})
			s.logger.Error("failed to persist usage after retries",
				zap.String("operation", operationType),
				zap.Error(err))
			return
		}
		s.metrics.IncCounter(metrics.UsagePersistTotal, 1, metrics.Labels{"status": "ok"})
	}()
}

// persistWithRetry attempts to persist usage with linear backoff
func (s *Service) persistWithRetry(usage *models.LLMUsage) error {
	var err error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPersistTimeout)
		err = s.repo.RecordUsage(ctx, usage)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < s.maxRetries-1 {
			time.Sleep(time.Duration(attempt+1) * s.baseDelay)
		}
	}
	return err
}

// Wait blocks until every background write has finished. Called on shutdown.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// GetSummary returns aggregated usage for a time period
func (s *Service) GetSummary(ctx context.Context, start, end time.Time) (*models.UsageSummary, error) {
	return s.repo.GetUsageSummary(ctx, start, end)
}

// GetUsage returns detailed usage records for a time period
func (s *Service) GetUsage(ctx context.Context, start, end time.Time) ([]*models.LLMUsage, error) {
	return s.repo.GetUsage(ctx, start, end)
}

// GetSessionUsage returns the usage records of one session
func (s *Service) GetSessionUsage(ctx context.Context, sessionID string) ([]*models.LLMUsage, error) {
	return s.repo.GetSessionUsage(ctx, sessionID)
}
