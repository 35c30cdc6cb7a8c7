package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deanalyse/ports"

	"go.uber.org/zap"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

// Config holds the settings shared by all providers
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// OpenAIClient implements ports.LLMClient against any OpenAI-compatible
// /chat/completions endpoint
type OpenAIClient struct {
	APIKey     string
	BaseURL    string
	Model      string
	Retries    int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	sleep      func(context.Context, time.Duration) error
}

// NewOpenAIClient validates config and fills defaults
func NewOpenAIClient(config Config, logger *zap.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("missing OpenAI API key: %w", ErrMisconfigured)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseURL := strings.TrimSpace(config.BaseURL)
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := config.Retries
	if retries <= 0 {
		retries = 3
	}
	baseDelay := config.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := config.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 4 * time.Second
	}

	return &OpenAIClient{
		APIKey:     config.APIKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Model:      model,
		Retries:    retries,
		BaseDelay:  baseDelay,
		MaxDelay:   maxDelay,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("openai"),
		sleep:      sleepContext,
	}, nil
}

func (c *OpenAIClient) Provider() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one system+user exchange. 429, 5xx and network timeouts are
// retried with exponential backoff; Retry-After is honoured when present.
func (c *OpenAIClient) Complete(ctx context.Context, req ports.LLMRequest) (*ports.LLMResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	raw, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := c.BaseURL + "/chat/completions"

	backoff := c.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= c.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, wait, err := c.do(ctx, url, raw)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.Retries {
			break
		}

		if wait <= 0 {
			wait = withJitter(backoff)
			if wait > c.MaxDelay {
				wait = c.MaxDelay
			}
			backoff *= 2
		}
		c.logger.Debug("retrying chat completion",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// do performs a single attempt. The returned duration is the server's
// Retry-After hint, zero when absent.
func (c *OpenAIClient) do(ctx context.Context, url string, body []byte) (*ports.LLMResponse, time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("openai request failed: %v: %w", err, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respRaw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		code, message := decodeErrorBody(respRaw)
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), newAPIError(c.Provider(), resp.StatusCode, code, message)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, 0, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, 0, fmt.Errorf("openai response missing choices")
	}

	model := decoded.Model
	if model == "" {
		model = c.Model
	}
	return &ports.LLMResponse{
		Content: decoded.Choices[0].Message.Content,
		Usage: &ports.UsageData{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
			Model:            model,
			Provider:         c.Provider(),
		},
	}, 0, nil
}

func decodeErrorBody(body []byte) (code, message string) {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    any    `json:"code"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Message == "" {
		return "", strings.TrimSpace(string(body))
	}
	switch v := envelope.Error.Code.(type) {
	case string:
		code = v
	case float64:
		code = strconv.Itoa(int(v))
	}
	if code == "" {
		code = envelope.Error.Type
	}
	return code, envelope.Error.Message
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, ErrUnavailable)
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
