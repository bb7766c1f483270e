package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/leadflow/internal/errors"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 2048
	defaultModel        = "claude-sonnet-4-5"
)

// AnthropicProvider implements Provider using the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// Option configures an HTTP provider.
type Option func(*httpOptions)

type httpOptions struct {
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

func WithModel(model string) Option {
	return func(o *httpOptions) {
		if model != "" {
			o.model = model
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(o *httpOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *httpOptions) { o.client = c }
}

func WithBaseURL(u string) Option {
	return func(o *httpOptions) { o.baseURL = u }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *httpOptions) { o.logger = l }
}

func applyOptions(base, model string, opts []Option) httpOptions {
	o := httpOptions{
		baseURL:   base,
		model:     model,
		maxTokens: defaultMaxTokens,
		// The orchestrator's context deadline is the real limit; this only
		// guards against a caller that forgot one.
		client: &http.Client{Timeout: 120 * time.Second},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewAnthropicProvider constructs a new Anthropic provider.
func NewAnthropicProvider(apiKey string, opts ...Option) *AnthropicProvider {
	o := applyOptions(anthropicAPIBase, defaultModel, opts)
	return &AnthropicProvider{
		apiKey:    apiKey,
		baseURL:   o.baseURL,
		model:     o.model,
		maxTokens: o.maxTokens,
		client:    o.client,
		logger:    o.logger.With().Str("component", "anthropic").Logger(),
	}
}

func (p *AnthropicProvider) Name() string    { return ProviderAnthropic }
func (p *AnthropicProvider) ModelID() string { return p.model }

// ---- Anthropic wire types ----

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *AnthropicProvider) buildRequest(req CompletionRequest) anthropicRequest {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	maxTok := p.maxTokens
	if req.MaxTokens > 0 {
		maxTok = req.MaxTokens
	}
	ar := anthropicRequest{
		Model:     model,
		MaxTokens: maxTok,
		System:    req.SystemPrompt,
		Messages:  req.Messages,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		ar.Temperature = &t
	}
	return ar
}

// Complete sends a blocking completion request.
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ar := p.buildRequest(req)
	body, err := json.Marshal(ar)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var ar2 anthropicResponse
	if err := json.Unmarshal(raw, &ar2); err != nil {
		if resp.StatusCode >= 300 {
			return nil, perrors.NewAPIError(ProviderAnthropic, resp.StatusCode, truncate(string(raw), 200))
		}
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if ar2.Error != nil || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if ar2.Error != nil {
			msg = ar2.Error.Type + ": " + ar2.Error.Message
		}
		return nil, perrors.NewAPIError(ProviderAnthropic, resp.StatusCode, msg)
	}

	out := &CompletionResponse{
		StopReason:   ar2.StopReason,
		InputTokens:  ar2.Usage.InputTokens,
		OutputTokens: ar2.Usage.OutputTokens,
	}
	for _, block := range ar2.Content {
		if block.Type == "text" {
			out.Text += block.Text
		}
	}

	p.logger.Debug().
		Str("model", ar.Model).
		Str("stop_reason", out.StopReason).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Msg("anthropic complete")
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
