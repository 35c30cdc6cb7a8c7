package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deanalyse/ports"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiClient implements ports.LLMClient with the Google Gen AI SDK
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiClient builds a Gemini Developer API client. BaseURL, when set,
// points the SDK at a different endpoint (used by tests).
func NewGeminiClient(ctx context.Context, config Config, logger *zap.Logger) (*GeminiClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("missing Gemini API key: %w", ErrMisconfigured)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = DefaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions.BaseURL = config.BaseURL
	}
	if config.Timeout > 0 {
		timeout := config.Timeout
		cc.HTTPOptions.Timeout = &timeout
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model, logger: logger.Named("gemini")}, nil
}

func (c *GeminiClient) Provider() string { return "gemini" }

// Complete issues one GenerateContent call. Failures are not retried here;
// the QA fallback path makes the second attempt.
func (c *GeminiClient) Complete(ctx context.Context, req ports.LLMRequest) (*ports.LLMResponse, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if strings.TrimSpace(req.System) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		c.logger.Debug("generate content failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, mapGeminiError(err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("gemini response has no text")
	}

	usage := &ports.UsageData{Model: c.model, Provider: c.Provider()}
	if resp.ModelVersion != "" {
		usage.Model = resp.ModelVersion
	}
	if md := resp.UsageMetadata; md != nil {
		usage.PromptTokens = int(md.PromptTokenCount)
		usage.CompletionTokens = int(md.CandidatesTokenCount)
		usage.TotalTokens = int(md.TotalTokenCount)
	}
	return &ports.LLMResponse{Content: text, Usage: usage}, nil
}

func mapGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return newAPIError("gemini", apiErr.Code, apiErr.Status, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return newAPIError("gemini", apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message)
	}
	return fmt.Errorf("gemini request failed: %v: %w", err, ErrUnavailable)
}
