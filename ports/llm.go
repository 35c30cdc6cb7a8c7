package ports

import "context"

// UsageData represents raw usage data from LLM provider APIs
type UsageData struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
	Provider         string `json:"provider"`
}

// LLMRequest is a single system+user completion request
type LLMRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// LLMResponse carries the completion text and the usage reported by the provider
type LLMResponse struct {
	Content string
	Usage   *UsageData
}

// LLMClient interface for LLM providers.
// Implementations return errors wrapping the sentinels in adapters/llm so
// callers can classify failures without reading provider text.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (*LLMResponse, error)

	// Provider names the backend, e.g. "openai" or "gemini"
	Provider() string
}
