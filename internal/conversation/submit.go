package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/p-blackswan/leadflow/internal/blueprint"
	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/fingerprint"
	"github.com/p-blackswan/leadflow/internal/llm"
	"github.com/p-blackswan/leadflow/internal/notify"
	"github.com/p-blackswan/leadflow/internal/ratelimit"
	"github.com/p-blackswan/leadflow/internal/session"
	"github.com/p-blackswan/leadflow/internal/store"
	"github.com/p-blackswan/leadflow/internal/validate"
)

// Submit accepts a questionnaire from identity, produces (or reuses) a
// blueprint, creates the session and asks the first clarifying questions.
// A generation failure does not fail the submission: the visitor gets a
// session flagged for manual review.
func (m *Manager) Submit(ctx context.Context, identity string, q session.WizardData) (*Result, error) {
	res, err := m.submit(ctx, identity, q)
	switch {
	case err == nil && res.ManualReview:
		m.metrics.RecordSubmission("manual_review")
	case err == nil && res.FromCache:
		m.metrics.RecordSubmission("cached")
	case err == nil:
		m.metrics.RecordSubmission("created")
	default:
		m.metrics.RecordSubmission(perrors.KindOf(err))
		m.logOutcome("submit", "", err)
	}
	return res, err
}

func (m *Manager) submit(ctx context.Context, identity string, q session.WizardData) (*Result, error) {
	w, err := validate.Questionnaire(q)
	if err != nil {
		return nil, err
	}
	if err := m.limiter.AllowSubmission(ctx, identity); err != nil {
		if errors.Is(err, perrors.ErrRateLimited) {
			m.metrics.RecordRateLimited(ratelimit.ScopeSubmission)
		}
		return nil, err
	}

	fp := fingerprint.Compute(w)
	bp, fromCache, genErr := m.blueprintFor(ctx, fp, w)

	now := m.now()
	sess := session.New(w, now, m.cfg.Retention)
	submissionID := uuid.NewString()
	sess.SetMeta(session.MetaSubmissionID, submissionID)
	sess.SetMeta(session.MetaFingerprint, fp)
	sess.SetMeta(session.MetaFromCache, fromCache)
	if bp != nil {
		sess.SetMeta(session.MetaBlueprint, bp)
	}
	if genErr != nil {
		sess.SetMeta(session.MetaManualReview, true)
	}
	sess.SetMeta(session.MetaProgress, 0)

	questions, err := m.GetInitialQuestions(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := m.save(ctx, sess); err != nil {
		return nil, err
	}
	m.appendHistory(ctx, sess.ID, llm.RoleAssistant, strings.Join(questions, "\n"))

	if err := m.cache.Link(ctx, sess.ID, fp); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to link blueprint reference")
	}

	res := m.result(sess)
	res.Questions = questions
	res.Blueprint = bp
	res.NextAction = ActionAnswerQuestions

	if genErr != nil {
		m.enqueueReview(ctx, sess, genErr)
		res.NextAction = ActionManualReview
		res.Message = m.prompts.ManualReviewMessage
	}

	m.logger.Info().
		Str("session_id", sess.ID).
		Str("submission_id", submissionID).
		Str("fingerprint", fp).
		Bool("from_cache", fromCache).
		Bool("manual_review", genErr != nil).
		Msg("submission accepted")
	return res, nil
}

// blueprintFor returns the cached blueprint for fp or generates and caches
// a new one together with its clarifying questions, so a cache hit never
// contacts the provider. When several submissions race on the same
// fingerprint, each caller ends up with the blueprint that won the cache
// write.
func (m *Manager) blueprintFor(ctx context.Context, fp string, w session.WizardData) (*blueprint.Blueprint, bool, error) {
	entry, ok, err := m.cache.Get(ctx, fp)
	if err != nil {
		m.logger.Warn().Err(err).Str("fingerprint", fp).Msg("blueprint cache unavailable, generating")
	}
	if ok {
		m.metrics.RecordCache("hit")
		bp := entry.Blueprint
		return &bp, true, nil
	}
	m.metrics.RecordCache("miss")

	bp, err := m.gen.GenerateBlueprint(ctx, w)
	if err != nil {
		return nil, false, err
	}
	if len(bp.Questions) == 0 {
		qs, err := m.gen.GenerateQuestions(ctx, w, bp)
		if err != nil {
			m.logger.Warn().Err(err).Str("fingerprint", fp).Msg("question generation failed, fallback questions will be used")
		} else {
			bp.Questions = qs
		}
	}

	winner, stored, err := m.cache.Put(ctx, fp, *bp)
	if err != nil {
		m.logger.Warn().Err(err).Str("fingerprint", fp).Msg("failed to cache blueprint")
		return bp, false, nil
	}
	if !stored {
		m.metrics.RecordCache("lost_race")
		out := winner.Blueprint
		return &out, false, nil
	}
	m.metrics.RecordCache("stored")
	return bp, false, nil
}

// GetInitialQuestions asks the first clarifying questions and moves sess from
// INIT to QUESTIONS_ASKED. Questions carried by the session's blueprint are
// used as is; a blueprint without questions gets the fallback set. The
// provider is only asked when the session has no blueprint and is not under
// manual review. Called again while still in QUESTIONS_ASKED it returns the
// questions already asked. It mutates sess in memory; the caller persists it.
func (m *Manager) GetInitialQuestions(ctx context.Context, sess *session.Session) ([]string, error) {
	switch sess.State {
	case session.StateQuestionsAsked:
		if qs := sess.MetaStrings(session.MetaInitialQuestions); len(qs) > 0 {
			return qs, nil
		}
		return nil, &perrors.TransitionError{
			From: string(sess.State), To: string(session.StateQuestionsAsked),
			Reason: "no questions recorded",
		}
	case session.StateInit:
	default:
		return nil, &perrors.TransitionError{
			From: string(sess.State), To: string(session.StateQuestionsAsked),
			Reason: "initial questions are only asked at the start of a conversation",
		}
	}

	questions := m.prompts.FallbackQuestions
	bp := blueprintOf(sess)
	switch {
	case bp != nil:
		if len(bp.Questions) > 0 {
			questions = bp.Questions
		}
	case !sess.MetaBool(session.MetaManualReview):
		qs, err := m.gen.GenerateQuestions(ctx, sess.WizardData, bp)
		if err == nil {
			questions = qs
		} else {
			m.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("using fallback questions")
		}
	}
	questions = append([]string(nil), questions...)

	sess.SetMeta(session.MetaInitialQuestions, questions)
	sess.Touch(m.now())
	m.setState(sess, session.StateQuestionsAsked)
	return questions, nil
}

func (m *Manager) enqueueReview(ctx context.Context, sess *session.Session, genErr error) {
	class := perrors.ClassProvider
	var ge *perrors.GenerationError
	if errors.As(genErr, &ge) {
		class = ge.Class
	}
	payload, _ := json.Marshal(sess.WizardData)
	review := &store.Review{
		ID:           uuid.NewString(),
		SessionID:    sess.ID,
		SubmissionID: sess.MetaString(session.MetaSubmissionID),
		Fingerprint:  sess.MetaString(session.MetaFingerprint),
		Payload:      string(payload),
		ErrorClass:   class,
		Error:        genErr.Error(),
		CreatedAt:    m.now(),
	}
	if err := m.store.EnqueueReview(ctx, review); err != nil {
		m.logger.Error().Err(err).
			Str("session_id", sess.ID).
			Str("submission_id", review.SubmissionID).
			Str("payload", review.Payload).
			Msg("failed to enqueue manual review")
	}

	lead := leadFor(sess, notify.EventManualReview, m.now())
	lead.Reason = class
	m.notify(ctx, lead)
}

func (m *Manager) appendHistory(ctx context.Context, sessionID, role, content string) {
	if content == "" {
		return
	}
	err := m.store.AppendMessage(ctx, &store.ChatMessage{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: m.now(),
	})
	if err != nil {
		m.logger.Error().Err(err).Str("session_id", sessionID).Str("role", role).Msg("failed to append chat history")
	}
}
