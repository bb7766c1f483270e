// Package conversation drives a visitor from questionnaire submission to a
// quote request or subscription. The Manager owns the session state machine;
// everything it talks to (store, cache, limiter, provider, notifier) is
// injected so it can be tested against fakes.
package conversation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/leadflow/internal/blueprint"
	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/llm"
	"github.com/p-blackswan/leadflow/internal/metrics"
	"github.com/p-blackswan/leadflow/internal/notify"
	"github.com/p-blackswan/leadflow/internal/prompts"
	"github.com/p-blackswan/leadflow/internal/session"
	"github.com/p-blackswan/leadflow/internal/store"
)

// Next actions returned to the UI.
const (
	ActionAnswerQuestions = "answer_questions"
	ActionContinue        = "continue"
	ActionShowEstimate    = "show_estimate"
	ActionRequestQuote    = "request_quote"
	ActionManualReview    = "manual_review"
	ActionNone            = "none"
	ActionStartOver       = "start_over"
)

// Quote request sources.
const (
	SourceWebhook   = "webhook"
	SourcePageVisit = "page_visit"
	SourceUI        = "ui"
)

// Repository is the durable store the manager needs.
type Repository interface {
	session.Store
	AppendMessage(ctx context.Context, msg *store.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*store.ChatMessage, error)
	EnqueueReview(ctx context.Context, r *store.Review) error
	UpsertQuoteRequest(ctx context.Context, sessionID, source string, at time.Time) (bool, error)
	GetQuoteRequest(ctx context.Context, sessionID string) (*store.QuoteRequest, error)
}

// Cache is the fingerprint-keyed blueprint cache.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (*blueprint.Entry, bool, error)
	Put(ctx context.Context, fingerprint string, bp blueprint.Blueprint) (*blueprint.Entry, bool, error)
	Link(ctx context.Context, sessionID, fingerprint string) error
	Forget(ctx context.Context, sessionID string) (string, error)
}

// Limiter admits submissions and chat turns.
type Limiter interface {
	AllowSubmission(ctx context.Context, identity string) error
	AllowChat(ctx context.Context, identity, sessionID string) error
	ForgetSession(ctx context.Context, sessionID string) error
}

// Generator produces blueprints, questions and replies. Failures are
// returned as *perrors.GenerationError.
type Generator interface {
	GenerateBlueprint(ctx context.Context, w session.WizardData) (*blueprint.Blueprint, error)
	GenerateQuestions(ctx context.Context, w session.WizardData, bp *blueprint.Blueprint) ([]string, error)
	Reply(ctx context.Context, w session.WizardData, bp *blueprint.Blueprint, history []llm.Message, message string) (string, error)
}

// Config holds manager policy.
type Config struct {
	Retention       time.Duration
	RequiredAnswers int
	HistoryTurns    int
	NotifyTimeout   time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Retention:       session.DefaultRetention,
		RequiredAnswers: 3,
		HistoryTurns:    20,
		NotifyTimeout:   5 * time.Second,
	}
}

// Deps are the manager's collaborators. Notifier, Prompts and Metrics are
// optional.
type Deps struct {
	Store     Repository
	Cache     Cache
	Limiter   Limiter
	Generator Generator
	Notifier  notify.Notifier
	Prompts   *prompts.Set
	Metrics   *metrics.Metrics
}

// Manager is the conversation façade.
type Manager struct {
	cfg      Config
	store    Repository
	cache    Cache
	limiter  Limiter
	gen      Generator
	notifier notify.Notifier
	prompts  *prompts.Set
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the manager's time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager.
func New(cfg Config, deps Deps, logger zerolog.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.RequiredAnswers <= 0 {
		cfg.RequiredAnswers = def.RequiredAnswers
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = def.HistoryTurns
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	m := &Manager{
		cfg:      cfg,
		store:    deps.Store,
		cache:    deps.Cache,
		limiter:  deps.Limiter,
		gen:      deps.Generator,
		notifier: deps.Notifier,
		prompts:  deps.Prompts,
		metrics:  deps.Metrics,
		now:      time.Now,
		logger:   logger.With().Str("component", "conversation").Logger(),
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	if m.prompts == nil {
		m.prompts = prompts.Default()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result is the outcome of a façade operation. The endpoint layer maps it
// to a transport response.
type Result struct {
	Success       bool                 `json:"success"`
	Message       string               `json:"message,omitempty"`
	SessionID     string               `json:"session_id,omitempty"`
	State         session.State        `json:"state,omitempty"`
	Progress      int                  `json:"progress"`
	NextAction    string               `json:"next_action,omitempty"`
	FromCache     bool                 `json:"from_cache"`
	ManualReview  bool                 `json:"manual_review,omitempty"`
	AlreadyMarked bool                 `json:"already_marked,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	Reply         string               `json:"reply,omitempty"`
	Questions     []string             `json:"questions,omitempty"`
	Blueprint     *blueprint.Blueprint `json:"blueprint,omitempty"`
}

func (m *Manager) result(sess *session.Session) *Result {
	return &Result{
		Success:      true,
		SessionID:    sess.ID,
		State:        sess.State,
		Progress:     m.ProgressPercentage(sess),
		FromCache:    sess.MetaBool(session.MetaFromCache),
		ManualReview: sess.MetaBool(session.MetaManualReview),
	}
}

// ProgressPercentage returns 0–100 for sess. It never decreases over a
// session's lifetime; an expired session keeps its last value.
func (m *Manager) ProgressPercentage(sess *session.Session) int {
	recorded := sess.MetaInt(session.MetaProgress)
	if sess.State == session.StateExpired {
		return recorded
	}
	p := progressFor(sess.State, sess.MetaInt(session.MetaAnswers), m.cfg.RequiredAnswers)
	if recorded > p {
		return recorded
	}
	return p
}

// setState moves sess to target and records the new progress.
func (m *Manager) setState(sess *session.Session, target session.State) {
	from := sess.State
	sess.State = target
	sess.SetMeta(session.MetaProgress, m.ProgressPercentage(sess))
	m.metrics.RecordTransition(string(from), string(target))
	m.logger.Debug().
		Str("session_id", sess.ID).
		Str("from", string(from)).
		Str("to", string(target)).
		Msg("state transition")
}

// blueprintOf decodes the blueprint stored in session metadata.
func blueprintOf(sess *session.Session) *blueprint.Blueprint {
	v, ok := sess.Meta(session.MetaBlueprint)
	if !ok || v == nil {
		return nil
	}
	if bp, ok := v.(*blueprint.Blueprint); ok {
		return bp
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var bp blueprint.Blueprint
	if err := json.Unmarshal(raw, &bp); err != nil {
		return nil
	}
	return &bp
}

// loadSession validates id and loads the session. It does not check expiry.
func (m *Manager) loadSession(ctx context.Context, id string) (*session.Session, error) {
	if !session.ValidID(id) {
		return nil, perrors.ErrInvalidSession
	}
	sess, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, perrors.NewStoreError("load session", err)
	}
	if sess == nil {
		return nil, perrors.ErrSessionNotFound
	}
	return sess, nil
}

// loadActive loads a session that is about to be mutated. A session past its
// retention window is moved to EXPIRED and rejected.
func (m *Manager) loadActive(ctx context.Context, id string) (*session.Session, error) {
	sess, err := m.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.State == session.StateExpired {
		return nil, perrors.ErrSessionExpired
	}
	if sess.Expired(m.now()) {
		m.setState(sess, session.StateExpired)
		if err := m.store.Save(ctx, sess); err != nil {
			m.logger.Warn().Err(err).Str("session_id", id).Msg("failed to persist expiry")
		}
		return nil, perrors.ErrSessionExpired
	}
	return sess, nil
}

func (m *Manager) save(ctx context.Context, sess *session.Session) error {
	if err := m.store.Save(ctx, sess); err != nil {
		return perrors.NewStoreError("save session", err)
	}
	return nil
}

// logOutcome logs err at a severity matching its kind: infrastructure and
// generation failures in full, expected rejections as debug noise.
func (m *Manager) logOutcome(op, sessionID string, err error) {
	if err == nil {
		return
	}
	if perrors.IsDiagnostic(err) {
		m.logger.Error().Err(err).
			Str("op", op).
			Str("session_id", sessionID).
			Str("kind", perrors.KindOf(err)).
			Msg("operation failed")
		return
	}
	m.logger.Debug().Err(err).
		Str("op", op).
		Str("session_id", sessionID).
		Str("kind", perrors.KindOf(err)).
		Msg("operation rejected")
}

func (m *Manager) notify(ctx context.Context, lead notify.Lead) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.NotifyTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, lead); err != nil {
		m.metrics.RecordNotifyFailure(string(lead.Event))
		m.logger.Error().Err(err).
			Str("event", string(lead.Event)).
			Str("session_id", lead.SessionID).
			Str("submission_id", lead.SubmissionID).
			Str("email", lead.Email).
			Msg("lead notification failed")
	}
}

func leadFor(sess *session.Session, event notify.Event, at time.Time) notify.Lead {
	email := sess.MetaString(session.MetaSubscriberEmail)
	if email == "" {
		email = sess.WizardData.Email
	}
	return notify.Lead{
		Event:        event,
		SessionID:    sess.ID,
		SubmissionID: sess.MetaString(session.MetaSubmissionID),
		State:        string(sess.State),
		Email:        email,
		Goal:         sess.WizardData.Goal,
		Workflow:     sess.WizardData.Workflow,
		Tools:        sess.WizardData.Tools,
		PainPoints:   sess.WizardData.PainPoints,
		At:           at,
	}
}
