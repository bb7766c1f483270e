// Package llm defines the generation provider interface and its HTTP adapters.
// Providers are interchangeable behind this interface.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider names accepted by New and CheckCredential.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// StopReason describes why the provider stopped generating.
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonMaxTokens = "max_tokens"
)

// Message is a single turn in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a provider's Complete() call.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Model        string // override provider default if set
}

// CompletionResponse is returned by Complete().
type CompletionResponse struct {
	Text         string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Provider is the core abstraction for generation backends.
type Provider interface {
	// Complete sends a completion request and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name, e.g. "anthropic".
	Name() string

	// ModelID returns the current model identifier string.
	ModelID() string
}

// CheckCredential reports whether key is present and looks like a key for
// the named provider. It makes no network call.
func CheckCredential(provider, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("no API key configured for %s", provider)
	}
	if strings.ContainsAny(key, " \t\r\n") {
		return fmt.Errorf("%s API key contains whitespace", provider)
	}
	switch provider {
	case ProviderAnthropic:
		if !strings.HasPrefix(key, "sk-ant-") || len(key) < 20 {
			return fmt.Errorf("API key does not look like an Anthropic key")
		}
	case ProviderOpenAI:
		if !strings.HasPrefix(key, "sk-") || strings.HasPrefix(key, "sk-ant-") || len(key) < 20 {
			return fmt.Errorf("API key does not look like an OpenAI key")
		}
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
	return nil
}
