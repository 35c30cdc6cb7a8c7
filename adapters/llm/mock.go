package llm

import (
	"context"
	"errors"
	"sync"

	"deanalyse/ports"
)

// MockReply is one scripted outcome
type MockReply struct {
	Content string
	Err     error
}

// MockLLMClient replays scripted replies in order and records every request.
// Once the script is exhausted the last reply is repeated.
type MockLLMClient struct {
	mu       sync.Mutex
	replies  []MockReply
	requests []ports.LLMRequest
}

// NewMockLLMClient scripts the given replies
func NewMockLLMClient(replies ...MockReply) *MockLLMClient {
	return &MockLLMClient{replies: replies}
}

func (m *MockLLMClient) Provider() string { return "mock" }

func (m *MockLLMClient) Complete(ctx context.Context, req ports.LLMRequest) (*ports.LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.requests)
	m.requests = append(m.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.replies) == 0 {
		return nil, errors.New("mock: no scripted reply")
	}
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}

	reply := m.replies[idx]
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &ports.LLMResponse{
		Content: reply.Content,
		Usage: &ports.UsageData{
			PromptTokens:     len(req.System+req.Prompt) / 4,
			CompletionTokens: len(reply.Content) / 4,
			TotalTokens:      (len(req.System+req.Prompt) + len(reply.Content)) / 4,
			Model:            "mock",
			Provider:         "mock",
		},
	}, nil
}

// Calls returns how many requests were made
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request seen so far
func (m *MockLLMClient) Requests() []ports.LLMRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.LLMRequest, len(m.requests))
	copy(out, m.requests)
	return out
}
