package llm

import (
	"context"
	"fmt"
	"strings"

	"deanalyse/ports"

	"go.uber.org/zap"
)

// NewClient creates an LLM client based on config. An empty API key yields
// (nil, nil): the service then runs without model features.
func NewClient(ctx context.Context, config Config, logger *zap.Logger) (ports.LLMClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(config.Provider)) {
	case "", "openai":
		client, err := NewOpenAIClient(config, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "gemini":
		client, err := NewGeminiClient(ctx, config, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q: %w", config.Provider, ErrMisconfigured)
	}
}
