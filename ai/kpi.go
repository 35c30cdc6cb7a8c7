package ai

import (
	"context"
	"strconv"
	"strings"

	"deanalyse/domain/profile"
	"deanalyse/models"
	"deanalyse/ports"

	"go.uber.org/zap"
)

// maxKPIs caps how many suggestions are kept from a response
const maxKPIs = 3

// KPISuggester asks the model which metrics are worth tracking for a dataset.
// Only column names, column types and the row count are sent.
type KPISuggester struct {
	client *StructuredClient[[]profile.KpiSuggestion]
	logger *zap.Logger
}

// NewKPISuggester returns nil when llm is nil; a nil suggester suggests nothing
func NewKPISuggester(llm ports.LLMClient, pm *PromptManager, usage ports.UsageRecorder, logger *zap.Logger) *KPISuggester {
	if llm == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KPISuggester{
		client: NewStructuredClient[[]profile.KpiSuggestion](llm, pm, usage, logger),
		logger: logger.Named("kpi"),
	}
}

// Suggest never fails: any error yields an empty list
func (s *KPISuggester) Suggest(ctx context.Context, sessionID string, p *profile.Profile) []profile.KpiSuggestion {
	if s == nil || p == nil {
		return []profile.KpiSuggestion{}
	}

	result, err := s.client.GetJsonResponseFromPrompt(ctx, sessionID, models.OpKPISuggestion,
		PromptKPISystem, PromptKPIUser, map[string]string{
			"COLUMNS":   ColumnsDescription(p),
			"ROW_COUNT": strconv.Itoa(p.RowCount),
		})
	if err != nil {
		s.logger.Warn("error generating KPIs", zap.Error(err))
		return []profile.KpiSuggestion{}
	}

	kpis := make([]profile.KpiSuggestion, 0, maxKPIs)
	for _, k := range *result {
		if strings.TrimSpace(k.Title) == "" {
			continue
		}
		kpis = append(kpis, k)
		if len(kpis) == maxKPIs {
			break
		}
	}
	return kpis
}
