// Package llm provides streaming LLM clients for the devserver's response
// generator.
package llm

import (
	"context"
)

// StreamCallback is called for each token during streaming.
type StreamCallback func(token string, index int) error

// ChatMessage represents a chat message for the LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request represents a streaming completion request.
type Request struct {
	Model     string
	Messages  []ChatMessage
	MaxTokens int
}

// Response summarizes a finished stream.
type Response struct {
	Content    string
	Model      string
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// StreamReply streams a completion, invoking the callback per token.
	StreamReply(ctx context.Context, req *Request, callback StreamCallback) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}
