package httpapi

import "github.com/p-blackswan/leadflow/internal/session"

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Instance   string `json:"instance,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// SubmitRequest is the body of POST /api/v1/submissions.
type SubmitRequest = session.WizardData

// MessageRequest is the body of POST /api/v1/sessions/:id/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

// TransitionRequest is the body of POST /api/v1/sessions/:id/transition.
type TransitionRequest struct {
	State string `json:"state"`
}

// QuoteRequest is the optional body of POST /api/v1/sessions/:id/quote.
type QuoteRequest struct {
	Source string `json:"source"`
}

// QuoteWebhook is the body of POST /api/v1/webhooks/quote, sent by the
// booking form once a visitor completes it.
type QuoteWebhook struct {
	SessionID string `json:"session_id"`
}

// SubscribeRequest is the body of POST /api/v1/sessions/:id/subscribe.
type SubscribeRequest struct {
	Email string `json:"email"`
}
