package conversation

import (
	"context"
	"errors"
	"time"

	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/notify"
	"github.com/p-blackswan/leadflow/internal/session"
	"github.com/p-blackswan/leadflow/internal/store"
	"github.com/p-blackswan/leadflow/internal/validate"
)

// Outcome is the result of TransitionState. A disallowed edge is reported
// here rather than as a panic so the caller can show a friendly message.
type Outcome struct {
	Success bool
	Reason  string
	Err     error
}

// TransitionState applies an explicit jump to target on sess in memory.
func (m *Manager) TransitionState(sess *session.Session, target session.State) Outcome {
	if err := CheckTransition(sess.State, target); err != nil {
		var te *perrors.TransitionError
		errors.As(err, &te)
		return Outcome{Reason: te.Reason, Err: err}
	}
	sess.Touch(m.now())
	m.setState(sess, target)
	return Outcome{Success: true}
}

// Transition loads a session, applies TransitionState and persists it.
// A disallowed edge returns a Result with Success false and the reason,
// together with the *perrors.TransitionError.
func (m *Manager) Transition(ctx context.Context, sessionID string, target session.State) (*Result, error) {
	sess, err := m.loadActive(ctx, sessionID)
	if err != nil {
		m.logOutcome("transition", sessionID, err)
		return nil, err
	}

	out := m.TransitionState(sess, target)
	if !out.Success {
		m.logOutcome("transition", sessionID, out.Err)
		res := m.result(sess)
		res.Success = false
		res.Reason = out.Reason
		return res, out.Err
	}
	if err := m.save(ctx, sess); err != nil {
		m.logOutcome("transition", sessionID, err)
		return nil, err
	}

	res := m.result(sess)
	res.NextAction = nextActionFor(sess.State)
	if sess.State == session.StateEstimateReady {
		res.Blueprint = blueprintOf(sess)
	}
	return res, nil
}

func nextActionFor(state session.State) string {
	switch state {
	case session.StateQuestionsAsked:
		return ActionAnswerQuestions
	case session.StateGatheringDetails:
		return ActionContinue
	case session.StateEstimateReady:
		return ActionRequestQuote
	case session.StateExpired:
		return ActionStartOver
	}
	return ActionNone
}

// RequestQuote marks a session as having asked for a quote. Every source
// (webhook, page visit, UI) goes through one idempotent upsert keyed by the
// session id; only the first marking notifies sales. The session is marked
// and saved before the upsert, so a failed save leaves no quote row behind
// and a retry is still treated as the first request.
func (m *Manager) RequestQuote(ctx context.Context, sessionID, source string) (*Result, error) {
	switch source {
	case SourceWebhook, SourcePageVisit, SourceUI:
	default:
		return nil, perrors.NewValidationError("source", "must be one of webhook, page_visit, ui")
	}

	sess, err := m.loadActive(ctx, sessionID)
	if err != nil {
		m.logLeadFailure("quote", sessionID, source, err)
		return nil, err
	}

	now := m.now()
	if sess.MetaString(session.MetaQuoteRequestedAt) == "" {
		sess.SetMeta(session.MetaQuoteRequestedAt, now.UTC().Format(time.RFC3339))
		sess.SetMeta(session.MetaQuoteSource, source)
		sess.Touch(now)
		if Reachable(sess.State, session.StateQuoteRequested) {
			m.setState(sess, session.StateQuoteRequested)
		}
		if err := m.save(ctx, sess); err != nil {
			m.logLeadFailure("quote", sessionID, source, err)
			return nil, err
		}
	}

	first, err := m.store.UpsertQuoteRequest(ctx, sess.ID, source, now)
	if err != nil {
		// The session is marked; a retry records the row and notifies.
		err = perrors.NewStoreError("upsert quote request", err)
		m.logLeadFailure("quote", sessionID, source, err)
		return nil, err
	}
	if !first {
		res := m.result(sess)
		res.AlreadyMarked = true
		res.NextAction = nextActionFor(sess.State)
		return res, nil
	}

	lead := leadFor(sess, notify.EventQuoteRequested, now)
	lead.Source = source
	m.notify(ctx, lead)

	m.logger.Info().Str("session_id", sess.ID).Str("source", source).Msg("quote requested")
	res := m.result(sess)
	res.NextAction = ActionNone
	return res, nil
}

// Subscribe records a newsletter subscription for a session.
func (m *Manager) Subscribe(ctx context.Context, sessionID, email string) (*Result, error) {
	addr, err := validate.Email(email)
	if err != nil {
		return nil, err
	}
	sess, err := m.loadActive(ctx, sessionID)
	if err != nil {
		m.logLeadFailure("subscribe", sessionID, addr, err)
		return nil, err
	}

	if sess.MetaString(session.MetaSubscribedAt) != "" {
		res := m.result(sess)
		res.AlreadyMarked = true
		return res, nil
	}

	now := m.now()
	sess.SetMeta(session.MetaSubscriberEmail, addr)
	sess.SetMeta(session.MetaSubscribedAt, now.UTC().Format(time.RFC3339))
	sess.Touch(now)
	if Reachable(sess.State, session.StateSubscribed) {
		m.setState(sess, session.StateSubscribed)
	}
	if err := m.save(ctx, sess); err != nil {
		m.logLeadFailure("subscribe", sessionID, addr, err)
		return nil, err
	}

	m.notify(ctx, leadFor(sess, notify.EventSubscribed, now))
	res := m.result(sess)
	res.NextAction = ActionNone
	return res, nil
}

// TrackConsultationClick records that the visitor clicked the consultation
// link. State is unchanged; completed sessions still record the click.
func (m *Manager) TrackConsultationClick(ctx context.Context, sessionID string) (*Result, error) {
	return m.track(ctx, sessionID, "consultation", func(sess *session.Session, now time.Time) {
		sess.SetMeta(session.MetaConsultationClicks, sess.MetaInt(session.MetaConsultationClicks)+1)
		sess.SetMeta(session.MetaConsultationClicked, now.UTC().Format(time.RFC3339))
		sess.Touch(now)
	})
}

// TrackAdditionalWorkflowClick records that the visitor started another
// workflow and preserves this session: activity is refreshed and expiry is
// pushed out by a full retention window.
func (m *Manager) TrackAdditionalWorkflowClick(ctx context.Context, sessionID string) (*Result, error) {
	return m.track(ctx, sessionID, "additional_workflow", func(sess *session.Session, now time.Time) {
		sess.SetMeta(session.MetaAdditionalWorkflow, now.UTC().Format(time.RFC3339))
		sess.SetMeta(session.MetaPreserved, true)
		sess.Touch(now)
		sess.Extend(now, m.cfg.Retention)
	})
}

func (m *Manager) track(ctx context.Context, sessionID, event string, apply func(*session.Session, time.Time)) (*Result, error) {
	sess, err := m.loadActive(ctx, sessionID)
	if err != nil {
		m.logOutcome("track_"+event, sessionID, err)
		return nil, err
	}
	apply(sess, m.now())
	if err := m.save(ctx, sess); err != nil {
		m.logOutcome("track_"+event, sessionID, err)
		return nil, err
	}
	res := m.result(sess)
	res.NextAction = nextActionFor(sess.State)
	return res, nil
}

// View is a read-only snapshot of a session.
type View struct {
	Session  *session.Session `json:"session"`
	Progress int              `json:"progress"`
	Expired  bool             `json:"expired"`
}

// Get returns a session. Expired sessions are still readable.
func (m *Manager) Get(ctx context.Context, sessionID string) (*View, error) {
	sess, err := m.loadSession(ctx, sessionID)
	if err != nil {
		m.logOutcome("get", sessionID, err)
		return nil, err
	}
	return &View{
		Session:  sess,
		Progress: m.ProgressPercentage(sess),
		Expired:  sess.State == session.StateExpired || sess.Expired(m.now()),
	}, nil
}

// Export is everything stored about a session.
type Export struct {
	View
	Messages     []*store.ChatMessage `json:"messages"`
	QuoteRequest *store.QuoteRequest  `json:"quote_request,omitempty"`
	ExportedAt   time.Time            `json:"exported_at"`
}

// Export returns the session with its chat history and quote record.
func (m *Manager) Export(ctx context.Context, sessionID string) (*Export, error) {
	view, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := m.store.ListMessages(ctx, sessionID, 0)
	if err != nil {
		err = perrors.NewStoreError("list messages", err)
		m.logOutcome("export", sessionID, err)
		return nil, err
	}
	if msgs == nil {
		msgs = []*store.ChatMessage{}
	}
	qr, err := m.store.GetQuoteRequest(ctx, sessionID)
	if err != nil {
		err = perrors.NewStoreError("get quote request", err)
		m.logOutcome("export", sessionID, err)
		return nil, err
	}
	return &Export{View: *view, Messages: msgs, QuoteRequest: qr, ExportedAt: m.now().UTC()}, nil
}

// Delete removes a session and everything derived from it: chat history,
// review and quote rows, its blueprint reference and its chat counter.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	if _, err := m.loadSession(ctx, sessionID); err != nil {
		m.logOutcome("delete", sessionID, err)
		return err
	}

	deleted, err := m.store.Delete(ctx, sessionID)
	if err != nil {
		err = perrors.NewStoreError("delete session", err)
		m.logOutcome("delete", sessionID, err)
		return err
	}
	if !deleted {
		return perrors.ErrSessionNotFound
	}

	if _, err := m.cache.Forget(ctx, sessionID); err != nil {
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to forget cached blueprint")
	}
	if err := m.limiter.ForgetSession(ctx, sessionID); err != nil {
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to forget chat counter")
	}
	m.logger.Info().Str("session_id", sessionID).Msg("session deleted")
	return nil
}

// logLeadFailure logs a failed paying-intent event with enough context to
// follow up by hand. Infrastructure failures are errors; rejections such as
// an expired session are warnings.
func (m *Manager) logLeadFailure(op, sessionID, detail string, err error) {
	ev := m.logger.Warn()
	if perrors.IsDiagnostic(err) {
		ev = m.logger.Error()
	}
	ev.Err(err).
		Str("op", op).
		Str("session_id", sessionID).
		Str("detail", detail).
		Str("kind", perrors.KindOf(err)).
		Msg("lead event not recorded")
}
