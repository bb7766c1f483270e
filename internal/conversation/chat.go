package conversation

import (
	"context"
	"errors"
	"strings"

	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/llm"
	"github.com/p-blackswan/leadflow/internal/session"
	"github.com/p-blackswan/leadflow/internal/store"
	"github.com/p-blackswan/leadflow/internal/validate"
)

// Turn is the outcome of one processed chat message.
type Turn struct {
	Reply      string
	NextAction string
	Progress   int
	// Degraded is set when the provider failed and a canned reply was used.
	Degraded bool
}

// Chat handles one visitor message on a session. The bootstrap sentinel is
// answered with the initial questions and is never sent to the provider.
func (m *Manager) Chat(ctx context.Context, identity, sessionID, message string) (*Result, error) {
	res, err := m.chat(ctx, identity, sessionID, message)
	switch {
	case err != nil:
		m.metrics.RecordChatTurn(perrors.KindOf(err))
		m.logOutcome("chat", sessionID, err)
	case res.NextAction == ActionManualReview:
		m.metrics.RecordChatTurn("degraded")
	default:
		m.metrics.RecordChatTurn("ok")
	}
	return res, err
}

func (m *Manager) chat(ctx context.Context, identity, sessionID, message string) (*Result, error) {
	if !session.ValidID(sessionID) {
		return nil, perrors.ErrInvalidSession
	}
	msg, err := validate.ChatMessage(message)
	if err != nil {
		return nil, err
	}

	if msg == validate.BootstrapSentinel {
		return m.bootstrap(ctx, sessionID)
	}

	sess, err := m.loadActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := acceptsMessages(sess); err != nil {
		return nil, err
	}

	past, err := m.store.ListMessages(ctx, sessionID, m.cfg.HistoryTurns)
	if err != nil {
		return nil, perrors.NewStoreError("list messages", err)
	}

	// Counters move only for turns that are otherwise admissible.
	if err := m.limiter.AllowChat(ctx, identity, sessionID); err != nil {
		var rl *perrors.RateLimitError
		if errors.As(err, &rl) {
			m.metrics.RecordRateLimited(rl.Scope)
		}
		return nil, err
	}

	turn, err := m.ProcessUserResponse(ctx, sess, msg, toLLM(past))
	if err != nil {
		return nil, err
	}
	if err := m.save(ctx, sess); err != nil {
		return nil, err
	}
	m.appendHistory(ctx, sess.ID, llm.RoleUser, msg)
	m.appendHistory(ctx, sess.ID, llm.RoleAssistant, turn.Reply)

	res := m.result(sess)
	res.Reply = turn.Reply
	res.NextAction = turn.NextAction
	if turn.NextAction == ActionShowEstimate {
		res.Blueprint = blueprintOf(sess)
	}
	return res, nil
}

// bootstrap answers the sentinel turn: it runs the initial-questions step
// and persists the session if it changed.
func (m *Manager) bootstrap(ctx context.Context, sessionID string) (*Result, error) {
	sess, err := m.loadActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	before := sess.State
	questions, err := m.GetInitialQuestions(ctx, sess)
	if err != nil {
		return nil, err
	}
	if sess.State != before {
		if err := m.save(ctx, sess); err != nil {
			return nil, err
		}
		m.appendHistory(ctx, sess.ID, llm.RoleAssistant, strings.Join(questions, "\n"))
	}

	res := m.result(sess)
	res.Questions = questions
	res.NextAction = ActionAnswerQuestions
	if sess.MetaBool(session.MetaManualReview) {
		res.NextAction = ActionManualReview
		res.Message = m.prompts.ManualReviewMessage
	}
	return res, nil
}

// ProcessUserResponse answers a validated message and advances sess by at
// most one state: QUESTIONS_ASKED moves to GATHERING_DETAILS on the first
// answer, and GATHERING_DETAILS moves to ESTIMATE_READY once enough answers
// are recorded. history is the prior conversation in chronological order.
// sess is mutated in memory; the caller persists it.
func (m *Manager) ProcessUserResponse(ctx context.Context, sess *session.Session, message string, history []llm.Message) (*Turn, error) {
	if err := acceptsMessages(sess); err != nil {
		return nil, err
	}
	if message == validate.BootstrapSentinel {
		qs, err := m.GetInitialQuestions(ctx, sess)
		if err != nil {
			return nil, err
		}
		return &Turn{Reply: strings.Join(qs, "\n"), NextAction: ActionAnswerQuestions, Progress: m.ProgressPercentage(sess)}, nil
	}

	now := m.now()
	sess.Touch(now)
	sess.SetMeta(session.MetaChatTurns, sess.MetaInt(session.MetaChatTurns)+1)

	reply, err := m.gen.Reply(ctx, sess.WizardData, blueprintOf(sess), history, message)
	if err != nil {
		m.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("reply generation failed, using fallback")
		return &Turn{
			Reply:      m.prompts.FallbackReply,
			NextAction: ActionManualReview,
			Progress:   m.ProgressPercentage(sess),
			Degraded:   true,
		}, nil
	}

	answers := sess.MetaInt(session.MetaAnswers) + 1
	sess.SetMeta(session.MetaAnswers, answers)

	next := ActionContinue
	switch sess.State {
	case session.StateQuestionsAsked:
		m.setState(sess, session.StateGatheringDetails)
	case session.StateGatheringDetails:
		if answers >= m.cfg.RequiredAnswers {
			m.setState(sess, session.StateEstimateReady)
			next = ActionShowEstimate
		} else {
			sess.SetMeta(session.MetaProgress, m.ProgressPercentage(sess))
		}
	}

	return &Turn{Reply: reply, NextAction: next, Progress: m.ProgressPercentage(sess)}, nil
}

func acceptsMessages(sess *session.Session) error {
	if sess.State != session.StateQuestionsAsked && sess.State != session.StateGatheringDetails {
		return &perrors.TransitionError{
			From:   string(sess.State),
			To:     string(session.StateGatheringDetails),
			Reason: "messages are only accepted while gathering details",
		}
	}
	return nil
}

const openingTurn = "I just submitted the questionnaire above."

func toLLM(msgs []*store.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, msg := range msgs {
		role := msg.Role
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		out = append(out, llm.Message{Role: role, Content: msg.Content})
	}
	// The conversation opens with our questions, but providers expect the
	// first turn to come from the user.
	if len(out) > 0 && out[0].Role != llm.RoleUser {
		out = append([]llm.Message{{Role: llm.RoleUser, Content: openingTurn}}, out...)
	}
	return out
}
