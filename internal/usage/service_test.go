package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"deanalyse/internal/metrics"
	"deanalyse/models"
	"deanalyse/ports"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) RecordUsage(ctx context.Context, usage *models.LLMUsage) error {
	return m.Called(ctx, usage).Error(0)
}

func (m *mockRepository) GetUsage(ctx context.Context, start, end time.Time) ([]*models.LLMUsage, error) {
	args := m.Called(ctx, start, end)
	return args.Get(0).([]*models.LLMUsage), args.Error(1)
}

func (m *mockRepository) GetSessionUsage(ctx context.Context, sessionID string) ([]*models.LLMUsage, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).([]*models.LLMUsage), args.Error(1)
}

func (m *mockRepository) GetUsageSummary(ctx context.Context, start, end time.Time) (*models.UsageSummary, error) {
	args := m.Called(ctx, start, end)
	return args.Get(0).(*models.UsageSummary), args.Error(1)
}

func sampleUsage() *ports.UsageData {
	return &ports.UsageData{PromptTokens: 80, CompletionTokens: 20, TotalTokens: 100, Model: "gpt-4o-mini", Provider: "openai"}
}

func TestRecordCallPersists(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := NewMemoryRepository()
	m := metrics.NewMemory()
	svc := NewService(repo, m, nil)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	svc.RecordCall(context.Background(), "s1", models.OpQAPlanning, sampleUsage(), 1500*time.Millisecond, nil)
	svc.Wait()

	records, err := svc.GetSessionUsage(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, models.OpQAPlanning, r.OperationType)
	assert.Equal(t, "openai", r.Provider)
	assert.Equal(t, 100, r.TotalTokens)
	assert.Equal(t, int64(1500), r.DurationMs)
	assert.Equal(t, fixed, r.CreatedAt)
	assert.NotEqual(t, uuid.Nil, r.ID)

	assert.Equal(t, []float64{1.5}, m.Observations(metrics.LLMCallSeconds, metrics.Labels{"operation": models.OpQAPlanning, "status": "ok"}))
	assert.Equal(t, 1.0, m.Counter(metrics.UsagePersistTotal, metrics.Labels{"status": "ok"}))
}

func TestRecordCallWithoutUsage(t *testing.T) {
	repo := NewMemoryRepository()
	m := metrics.NewMemory()
	svc := NewService(repo, m, nil)

	svc.RecordCall(context.Background(), "s1", models.OpQASynthesis, nil, time.Second, errors.New("boom"))
	svc.RecordCall(context.Background(), "s1", models.OpQASynthesis, &ports.UsageData{TotalTokens: -1}, time.Second, nil)
	svc.Wait()

	records, err := svc.GetSessionUsage(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Len(t, m.Observations(metrics.LLMCallSeconds, metrics.Labels{"operation": models.OpQASynthesis, "status": "error"}), 1)
	assert.Len(t, m.Observations(metrics.LLMCallSeconds, metrics.Labels{"operation": models.OpQASynthesis, "status": "ok"}), 1)
}

func TestRecordCallRetries(t *testing.T) {
	repo := &mockRepository{}
	repo.On("RecordUsage", mock.Anything, mock.AnythingOfType("*models.LLMUsage")).Return(errors.New("connection reset")).Twice()
	repo.On("RecordUsage", mock.Anything, mock.AnythingOfType("*models.LLMUsage")).Return(nil).Once()

	m := metrics.NewMemory()
	svc := NewService(repo, m, nil)
	svc.baseDelay = time.Millisecond

	svc.RecordCall(context.Background(), "s1", models.OpKPISuggestion, sampleUsage(), time.Millisecond, nil)
	svc.Wait()

	repo.AssertNumberOfCalls(t, "RecordUsage", 3)
	assert.Equal(t, 1.0, m.Counter(metrics.UsagePersistTotal, metrics.Labels{"status": "ok"}))
}

func TestRecordCallGivesUp(t *testing.T) {
	repo := &mockRepository{}
	repo.On("RecordUsage", mock.Anything, mock.Anything).Return(errors.New("database down"))

	m := metrics.NewMemory()
	svc := NewService(repo, m, nil)
	svc.baseDelay = time.Millisecond

	svc.RecordCall(context.Background(), "s1", models.OpQAFallback, sampleUsage(), time.Millisecond, nil)
	svc.Wait()

	repo.AssertNumberOfCalls(t, "RecordUsage", defaultMaxRetries)
	assert.Equal(t, 1.0, m.Counter(metrics.UsagePersistTotal, metrics.Labels{"status": "failed"}))
}

func TestMemoryRepositorySummary(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, op := range []string{models.OpQAPlanning, models.OpQASynthesis, models.OpQAPlanning} {
		require.NoError(t, repo.RecordUsage(ctx, &models.LLMUsage{
			SessionID:        "s1",
			Provider:         "gemini",
			Model:            "gemini-2.0-flash",
			OperationType:    op,
			PromptTokens:     10,
			CompletionTokens: 5,
			TotalTokens:      15,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.RecordUsage(ctx, &models.LLMUsage{OperationType: models.OpQAPlanning, TotalTokens: 1000, CreatedAt: base.Add(-time.Hour)}))

	records, err := repo.GetUsage(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, records[0].CreatedAt.After(records[2].CreatedAt), "newest first")

	summary, err := repo.GetUsageSummary(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.RequestCount)
	assert.Equal(t, 45, summary.TotalTokens)
	assert.Equal(t, 2, summary.ByOperation[models.OpQAPlanning].RequestCount)
	assert.Equal(t, "gemini", summary.ByModel["gemini-2.0-flash"].Provider)
}

func TestServiceDelegatesSummary(t *testing.T) {
	repo := &mockRepository{}
	start, end := time.Unix(0, 0), time.Unix(3600, 0)
	want := models.NewUsageSummary(start, end)
	repo.On("GetUsageSummary", mock.Anything, start, end).Return(want, nil)

	got, err := NewService(repo, nil, nil).GetSummary(context.Background(), start, end)
	require.NoError(t, err)
	assert.Same(t, want, got)
	repo.AssertExpectations(t)
}
