// Package orchestrator wraps the generation provider with a hard timeout,
// a pre-flight credential check and failure classification. It never
// retries; callers decide what to do with a GenerationError.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/leadflow/internal/blueprint"
	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/llm"
	"github.com/p-blackswan/leadflow/internal/metrics"
	"github.com/p-blackswan/leadflow/internal/prompts"
	"github.com/p-blackswan/leadflow/internal/session"
)

// Operation labels used for metrics and logs.
const (
	OpBlueprint = "blueprint"
	OpQuestions = "questions"
	OpChat      = "chat"
)

const (
	DefaultTimeout   = 45 * time.Second
	DefaultMaxTokens = 2048
	maxQuestions     = 5
)

// Orchestrator calls the provider on behalf of the conversation manager.
type Orchestrator struct {
	provider     llm.Provider
	providerName string
	apiKey       string
	prompts      *prompts.Set
	timeout      time.Duration
	maxTokens    int
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout sets the hard per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxTokens caps the provider's output.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithMetrics records call durations and failure classes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. provider may be nil when no provider is
// configured; every call then fails pre-flight as misconfigured.
func New(provider llm.Provider, providerName, apiKey string, p *prompts.Set, logger zerolog.Logger, opts ...Option) *Orchestrator {
	if p == nil {
		p = prompts.Default()
	}
	o := &Orchestrator{
		provider:     provider,
		providerName: providerName,
		apiKey:       apiKey,
		prompts:      p,
		timeout:      DefaultTimeout,
		maxTokens:    DefaultMaxTokens,
		logger:       logger.With().Str("component", "orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Preflight reports whether a provider is configured with a plausible
// credential. It makes no network call.
func (o *Orchestrator) Preflight() error {
	if o.provider == nil {
		return &perrors.GenerationError{
			Class:    perrors.ClassMisconfigured,
			Provider: o.providerName,
			Err:      errors.New("no provider configured"),
		}
	}
	if err := llm.CheckCredential(o.providerName, o.apiKey); err != nil {
		return &perrors.GenerationError{Class: perrors.ClassMisconfigured, Provider: o.providerName, Err: err}
	}
	return nil
}

// GenerateBlueprint produces a blueprint for a validated questionnaire.
func (o *Orchestrator) GenerateBlueprint(ctx context.Context, w session.WizardData) (*blueprint.Blueprint, error) {
	text, err := o.call(ctx, OpBlueprint, llm.CompletionRequest{
		SystemPrompt: o.prompts.BlueprintSystem,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: describe(w)}},
	})
	if err != nil {
		return nil, err
	}
	bp, err := ParseBlueprint(text)
	if err != nil {
		return nil, o.fail(OpBlueprint, perrors.ClassMalformed, err)
	}
	return bp, nil
}

// GenerateQuestions produces the first clarifying questions.
func (o *Orchestrator) GenerateQuestions(ctx context.Context, w session.WizardData, bp *blueprint.Blueprint) ([]string, error) {
	content := describe(w)
	if bp != nil && bp.Summary != "" {
		content += "\n\nDraft blueprint summary: " + bp.Summary
	}
	text, err := o.call(ctx, OpQuestions, llm.CompletionRequest{
		SystemPrompt: o.prompts.QuestionsSystem,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: content}},
		MaxTokens:    512,
	})
	if err != nil {
		return nil, err
	}
	qs := ParseQuestions(text)
	if len(qs) == 0 {
		return nil, o.fail(OpQuestions, perrors.ClassMalformed, errors.New("no questions in response"))
	}
	return qs, nil
}

// Reply continues the conversation. history is chronological and must not
// include message.
func (o *Orchestrator) Reply(ctx context.Context, w session.WizardData, bp *blueprint.Blueprint, history []llm.Message, message string) (string, error) {
	system := o.prompts.ChatSystem + "\n\nVisitor questionnaire:\n" + describe(w)
	if bp != nil && bp.Summary != "" {
		system += "\n\nBlueprint you prepared: " + bp.Summary
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})

	text, err := o.call(ctx, OpChat, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     msgs,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (o *Orchestrator) call(ctx context.Context, op string, req llm.CompletionRequest) (text string, err error) {
	if err := o.Preflight(); err != nil {
		var ge *perrors.GenerationError
		errors.As(err, &ge)
		return "", o.fail(op, ge.Class, ge.Err)
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = o.maxTokens
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		o.metrics.ObserveGeneration(op, time.Since(start).Seconds())
		if r := recover(); r != nil {
			text, err = "", o.fail(op, perrors.ClassProvider, fmt.Errorf("provider panic: %v", r))
		}
	}()

	resp, err := o.provider.Complete(cctx, req)
	if err != nil {
		return "", o.fail(op, classify(cctx, err), err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return "", o.fail(op, perrors.ClassEmpty, errors.New("provider returned no text"))
	}

	o.logger.Debug().
		Str("op", op).
		Str("model", o.provider.ModelID()).
		Int("in_tokens", resp.InputTokens).
		Int("out_tokens", resp.OutputTokens).
		Dur("took", time.Since(start)).
		Msg("generation complete")
	return resp.Text, nil
}

func (o *Orchestrator) fail(op, class string, err error) error {
	o.metrics.RecordGenerationError(class)
	ge := &perrors.GenerationError{Class: class, Provider: o.providerName, Err: err}
	o.logger.Error().Err(err).
		Str("op", op).
		Str("class", class).
		Str("provider", o.providerName).
		Msg("generation failed")
	return ge
}

func classify(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return perrors.ClassTimeout
	}
	var apiErr *perrors.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 529:
			return perrors.ClassRateLimited
		case 401, 403:
			return perrors.ClassMisconfigured
		}
	}
	return perrors.ClassProvider
}

func describe(w session.WizardData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", w.Goal)
	fmt.Fprintf(&b, "Current workflow: %s\n", w.Workflow)
	fmt.Fprintf(&b, "Tools in use: %s\n", w.Tools)
	fmt.Fprintf(&b, "Pain points: %s", w.PainPoints)
	return b.String()
}

// ParseBlueprint extracts a blueprint from provider text. A JSON object
// anywhere in the text is decoded; prose without one is kept as Markdown.
func ParseBlueprint(text string) (*blueprint.Blueprint, error) {
	text = strings.TrimSpace(text)
	start, end := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		var bp blueprint.Blueprint
		if err := json.Unmarshal([]byte(text[start:end+1]), &bp); err == nil {
			if bp.Empty() {
				return nil, errors.New("blueprint JSON has no content")
			}
			bp.Questions = ParseQuestions(strings.Join(bp.Questions, "\n"))
			return &bp, nil
		}
	}
	if strings.HasPrefix(text, "{") {
		return nil, errors.New("blueprint JSON could not be decoded")
	}
	bp := &blueprint.Blueprint{Markdown: text}
	if bp.Empty() {
		return nil, errors.New("empty blueprint")
	}
	return bp, nil
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d{1,2}[.)])\s*`)

// ParseQuestions splits provider text into questions, dropping numbering,
// bullets and blank lines.
func ParseQuestions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == maxQuestions {
			break
		}
	}
	return out
}
