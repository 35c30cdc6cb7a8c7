package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"deanalyse/ports"

	"go.uber.org/zap"
)

// StructuredClient provides typed JSON responses from LLM calls
type StructuredClient[T any] struct {
	LLM           ports.LLMClient
	PromptManager *PromptManager
	Usage         ports.UsageRecorder
	MaxTokens     int
	Temperature   float64
	logger        *zap.Logger
}

// NewStructuredClient creates a new structured client
func NewStructuredClient[T any](llm ports.LLMClient, pm *PromptManager, usage ports.UsageRecorder, logger *zap.Logger) *StructuredClient[T] {
	if usage == nil {
		usage = ports.NopUsageRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StructuredClient[T]{
		LLM:           llm,
		PromptManager: pm,
		Usage:         usage,
		MaxTokens:     300,
		Temperature:   0.5,
		logger:        logger.Named("structured"),
	}
}

// GetJsonResponseFromPrompt renders the system and user templates, makes the
// call, and parses the cleaned content into T.
func (client *StructuredClient[T]) GetJsonResponseFromPrompt(ctx context.Context, sessionID, operation, systemName, userName string, replacements map[string]string) (*T, error) {
	system, err := client.PromptManager.RenderPrompt(systemName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load/render prompt: %w", err)
	}
	prompt, err := client.PromptManager.RenderPrompt(userName, replacements)
	if err != nil {
		return nil, fmt.Errorf("failed to load/render prompt: %w", err)
	}

	start := time.Now()
	resp, err := client.LLM.Complete(ctx, ports.LLMRequest{
		System:      system,
		Prompt:      prompt,
		MaxTokens:   client.MaxTokens,
		Temperature: client.Temperature,
	})
	var usage *ports.UsageData
	if resp != nil {
		usage = resp.Usage
	}
	client.Usage.RecordCall(ctx, sessionID, operation, usage, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	content := cleanJSONContent(resp.Content)
	var result T
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		client.logger.Warn("failed to parse JSON content",
			zap.String("operation", operation),
			zap.Int("content_length", len(content)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to parse JSON content into result type: %w", err)
	}
	return &result, nil
}

// cleanJSONContent removes markdown code fences, a leading "json" language
// tag, and chatter lines before the first JSON value.
func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		if nl := strings.Index(content, "\n"); nl >= 0 {
			content = content[nl+1:]
		} else {
			content = strings.TrimPrefix(content, "```")
		}
	}
	content = strings.TrimSpace(content)
	if strings.HasSuffix(content, "```") {
		content = strings.TrimSuffix(content, "```")
	}
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "json") {
		content = strings.TrimSpace(content[4:])
	}

	// drop prose preceding the JSON value
	if idx := strings.IndexAny(content, "[{"); idx > 0 {
		prefix := content[:idx]
		if !strings.ContainsAny(prefix, `"]}`) {
			content = content[idx:]
		}
	}
	return strings.TrimSpace(content)
}
