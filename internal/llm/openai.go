package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/leadflow/internal/errors"
)

const (
	openAIAPIBase      = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAIProvider implements Provider using the Chat Completions API.
type OpenAIProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// NewOpenAIProvider constructs a new OpenAI provider.
func NewOpenAIProvider(apiKey string, opts ...Option) *OpenAIProvider {
	o := applyOptions(openAIAPIBase, openAIDefaultModel, opts)
	return &OpenAIProvider{
		apiKey:    apiKey,
		baseURL:   o.baseURL,
		model:     o.model,
		maxTokens: o.maxTokens,
		client:    o.client,
		logger:    o.logger.With().Str("component", "openai").Logger(),
	}
}

func (p *OpenAIProvider) Name() string    { return ProviderOpenAI }
func (p *OpenAIProvider) ModelID() string { return p.model }

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a blocking completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTok := p.maxTokens
	if req.MaxTokens > 0 {
		maxTok = req.MaxTokens
	}

	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.SystemPrompt})
	}
	msgs = append(msgs, req.Messages...)

	or := openAIRequest{Model: model, Messages: msgs, MaxTokens: maxTok}
	if req.Temperature > 0 {
		t := req.Temperature
		or.Temperature = &t
	}

	body, err := json.Marshal(or)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var r openAIResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		if resp.StatusCode >= 300 {
			return nil, perrors.NewAPIError(ProviderOpenAI, resp.StatusCode, truncate(string(raw), 200))
		}
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if r.Error != nil || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if r.Error != nil {
			msg = r.Error.Type + ": " + r.Error.Message
		}
		return nil, perrors.NewAPIError(ProviderOpenAI, resp.StatusCode, msg)
	}

	out := &CompletionResponse{
		InputTokens:  r.Usage.PromptTokens,
		OutputTokens: r.Usage.CompletionTokens,
	}
	if len(r.Choices) > 0 {
		out.Text = r.Choices[0].Message.Content
		switch r.Choices[0].FinishReason {
		case "length":
			out.StopReason = StopReasonMaxTokens
		default:
			out.StopReason = StopReasonEndTurn
		}
	}

	p.logger.Debug().
		Str("model", model).
		Str("stop_reason", out.StopReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("openai complete")
	return out, nil
}

// New builds the provider named by name.
func New(name, apiKey string, opts ...Option) (Provider, error) {
	switch name {
	case ProviderAnthropic:
		return NewAnthropicProvider(apiKey, opts...), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
