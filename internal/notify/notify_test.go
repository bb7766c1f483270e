package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/retry"
)

type mockSlackAPI struct {
	channels []string
	err      error
	// failures are returned, in order, before any post succeeds.
	failures []error
	calls    int
}

func (m *mockSlackAPI) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	m.calls++
	if m.err != nil {
		return "", "", m.err
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return "", "", err
	}
	m.channels = append(m.channels, channelID)
	return channelID, "1700000000.000100", nil
}

func TestSlackNotifier_Notify(t *testing.T) {
	mock := &mockSlackAPI{}
	n := NewSlackWithAPI(mock, "C0LEADS", zerolog.Nop())

	err := n.Notify(context.Background(), Lead{
		Event:     EventQuoteRequested,
		SessionID: "sess_0123456789abcdef0123456789abcdef",
		Source:    "webhook",
		At:        time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"C0LEADS"}, mock.channels)
}

func TestSlackNotifier_Error(t *testing.T) {
	mock := &mockSlackAPI{err: errors.New("channel_not_found")}
	n := NewSlackWithAPI(mock, "C0LEADS", zerolog.Nop())

	err := n.Notify(context.Background(), Lead{Event: EventManualReview})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manual_review")
	assert.Equal(t, 1, mock.calls, "permanent errors are not retried")
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestSlackNotifier_RetriesTransientFailures(t *testing.T) {
	mock := &mockSlackAPI{failures: []error{
		&slack.RateLimitedError{RetryAfter: time.Millisecond},
		slack.StatusCodeError{Code: 503, Status: "503 Service Unavailable"},
	}}
	n := NewSlackWithAPI(mock, "C0LEADS", zerolog.Nop(), WithRetry(fastRetry()))

	err := n.Notify(context.Background(), Lead{Event: EventQuoteRequested, SessionID: "sess_x"})
	require.NoError(t, err)
	assert.Equal(t, 3, mock.calls)
	assert.Equal(t, []string{"C0LEADS"}, mock.channels)
}

func TestSlackNotifier_GivesUpAfterMaxAttempts(t *testing.T) {
	mock := &mockSlackAPI{err: slack.StatusCodeError{Code: 502, Status: "502 Bad Gateway"}}
	n := NewSlackWithAPI(mock, "C0LEADS", zerolog.Nop(), WithRetry(fastRetry()))

	err := n.Notify(context.Background(), Lead{Event: EventSubscribed})
	require.Error(t, err)
	assert.Equal(t, 3, mock.calls)

	var apiErr *perrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 502, apiErr.StatusCode)
}

func TestLeadBlocks(t *testing.T) {
	blocks := LeadBlocks(Lead{Event: EventSubscribed, SessionID: "sess_x"})
	assert.Len(t, blocks, 2) // header + fields

	blocks = LeadBlocks(Lead{
		Event:     EventManualReview,
		SessionID: "sess_x",
		Goal:      "Automate reporting",
		Workflow:  strings.Repeat("w", 900),
		Reason:    "timeout",
	})
	assert.Len(t, blocks, 5) // header + fields + divider + detail + context
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 5))
	assert.Equal(t, "ab…", clip("abcdef", 2))
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Notify(context.Background(), Lead{}))
}
