// Package notify sends lead notifications to the sales team.
package notify

import (
	"context"
	"time"
)

// Event names a lead notification.
type Event string

const (
	EventQuoteRequested Event = "quote_requested"
	EventSubscribed     Event = "subscribed"
	EventManualReview   Event = "manual_review"
)

// Lead is the payload of a notification. It carries enough context for a
// person to follow up without querying the database.
type Lead struct {
	Event        Event
	SessionID    string
	SubmissionID string
	State        string
	Source       string
	Email        string
	Goal         string
	Workflow     string
	Tools        string
	PainPoints   string
	Reason       string
	At           time.Time
}

// Notifier delivers lead notifications.
type Notifier interface {
	Notify(ctx context.Context, lead Lead) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Lead) error { return nil }
