// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"fmt"
)

// Stage labels the pipeline step issuing a completion.
type Stage string

const (
	StageRoute        Stage = "route"
	StageConversation Stage = "conversation"
	StageSynthesize   Stage = "synthesize"
	StageRepair       Stage = "repair"
	StageInterpret    Stage = "interpret"
	StageReframe      Stage = "reframe"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	Stage       Stage
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Models names the two model tiers used by the pipeline.
type Models struct {
	// Main serves synthesis, repair and interpretation.
	Main string
	// Fast serves routing and short conversational replies.
	Fast string
}

// NewClient creates a new LLM client based on provider.
func NewClient(ctx context.Context, provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic, "":
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	case ProviderGemini:
		return NewGeminiClient(ctx, apiKey)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// DefaultModels returns the model tiers used when none are configured.
func DefaultModels(provider Provider) Models {
	switch provider {
	case ProviderOpenAI:
		return Models{Main: "gpt-4o", Fast: "gpt-4o-mini"}
	case ProviderGemini:
		return Models{Main: "gemini-2.5-pro", Fast: "gemini-2.5-flash"}
	default:
		return Models{Main: "claude-3-5-sonnet-20241022", Fast: "claude-3-5-haiku-20241022"}
	}
}

// UserPrompt builds a single-turn request.
func UserPrompt(stage Stage, model, system, prompt string) *CompletionRequest {
	return &CompletionRequest{
		Model:    model,
		System:   system,
		Messages: []ChatMessage{{Role: "user", Content: prompt}},
		Stage:    stage,
	}
}
