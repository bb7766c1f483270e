// Package session defines the durable conversation session and the contract
// of the store that persists it.
package session

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRetention is how long a session accepts transitions after creation.
const DefaultRetention = 30 * 24 * time.Hour

// IDPrefix starts every session id.
const IDPrefix = "sess_"

var idPattern = regexp.MustCompile(`^sess_[A-Za-z0-9]{32}$`)

// State is a conversation state.
type State string

const (
	StateInit             State = "INIT"
	StateQuestionsAsked   State = "QUESTIONS_ASKED"
	StateGatheringDetails State = "GATHERING_DETAILS"
	StateEstimateReady    State = "ESTIMATE_READY"
	StateQuoteRequested   State = "QUOTE_REQUESTED"
	StateSubscribed       State = "SUBSCRIBED"
	StateComplete         State = "COMPLETE"
	StateExpired          State = "EXPIRED"
)

// AllStates lists every state in forward order.
var AllStates = []State{
	StateInit, StateQuestionsAsked, StateGatheringDetails, StateEstimateReady,
	StateQuoteRequested, StateSubscribed, StateComplete, StateExpired,
}

// ParseState returns the State named by s, case-insensitively.
func ParseState(s string) (State, bool) {
	up := State(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range AllStates {
		if st == up {
			return st, true
		}
	}
	return "", false
}

// Metadata keys written by the conversation manager.
const (
	MetaSubmissionID        = "submission_id"
	MetaFingerprint         = "fingerprint"
	MetaBlueprint           = "blueprint_data"
	MetaFromCache           = "from_cache"
	MetaManualReview        = "manual_review"
	MetaInitialQuestions    = "initial_questions"
	MetaAnswers             = "answers_count"
	MetaChatTurns           = "chat_turns"
	MetaQuoteRequestedAt    = "quote_requested_at"
	MetaQuoteSource         = "quote_source"
	MetaSubscribedAt        = "subscribed_at"
	MetaSubscriberEmail     = "subscriber_email"
	MetaConsultationClicks  = "consultation_clicks"
	MetaConsultationClicked = "consultation_clicked_at"
	MetaAdditionalWorkflow  = "additional_workflow_clicked_at"
	MetaPreserved           = "preserved"
	MetaProgress            = "progress"
)

// WizardData is the sanitized questionnaire answer set. Field order is fixed.
type WizardData struct {
	Goal       string `json:"goal"`
	Workflow   string `json:"workflow"`
	Tools      string `json:"tools"`
	PainPoints string `json:"pain_points"`
	Email      string `json:"email,omitempty"`
}

// Session is one visitor's conversation.
type Session struct {
	ID             string         `json:"id"`
	State          State          `json:"state"`
	WizardData     WizardData     `json:"wizard_data"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// Store persists sessions. Load returns nil, nil when the id is absent.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) (bool, error)
	// SweepExpired deletes sessions last touched before the cutoff and
	// returns how many were removed.
	SweepExpired(ctx context.Context, before time.Time) (int64, error)
}

// NewID returns a fresh session id: "sess_" plus 32 hex characters.
func NewID() string {
	return IDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidID reports whether id has the required shape.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// New creates a session in StateInit.
func New(wizard WizardData, now time.Time, retention time.Duration) *Session {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Session{
		ID:             NewID(),
		State:          StateInit,
		WizardData:     wizard,
		Metadata:       map[string]any{},
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(retention),
	}
}

// Expired reports whether now is past the session's expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Touch records activity at now.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivityAt) {
		s.LastActivityAt = now
	}
}

// Extend pushes expiry to now + retention if that is later.
func (s *Session) Extend(now time.Time, retention time.Duration) {
	if exp := now.Add(retention); exp.After(s.ExpiresAt) {
		s.ExpiresAt = exp
	}
}

// SetMeta writes a metadata key. Existing keys are overwritten, never dropped.
func (s *Session) SetMeta(key string, val any) {
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	s.Metadata[key] = val
}

// Meta returns the raw metadata value for key.
func (s *Session) Meta(key string) (any, bool) {
	v, ok := s.Metadata[key]
	return v, ok
}

// MetaString returns a string metadata value, or "".
func (s *Session) MetaString(key string) string {
	v, _ := s.Metadata[key].(string)
	return v
}

// MetaBool returns a bool metadata value, or false.
func (s *Session) MetaBool(key string) bool {
	v, _ := s.Metadata[key].(bool)
	return v
}

// MetaInt returns an integer metadata value. Values that round-tripped
// through JSON arrive as float64 or json.Number.
func (s *Session) MetaInt(key string) int {
	switch v := s.Metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// MetaStrings returns a []string metadata value.
func (s *Session) MetaStrings(key string) []string {
	switch v := s.Metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
