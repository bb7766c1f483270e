package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/retry"
)

// SlackAPI abstracts the Slack client for testing.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts lead notifications to a Slack channel.
type SlackNotifier struct {
	api     SlackAPI
	channel string
	retry   retry.Config
	logger  zerolog.Logger
}

// SlackOption configures a SlackNotifier.
type SlackOption func(*SlackNotifier)

// WithRetry overrides the backoff used for transient Slack failures.
func WithRetry(cfg retry.Config) SlackOption {
	return func(n *SlackNotifier) { n.retry = cfg }
}

// NewSlack creates a notifier backed by a bot token.
func NewSlack(botToken, channel string, logger zerolog.Logger, opts ...SlackOption) *SlackNotifier {
	return NewSlackWithAPI(slack.New(botToken), channel, logger, opts...)
}

// NewSlackWithAPI creates a notifier over an existing client.
func NewSlackWithAPI(api SlackAPI, channel string, logger zerolog.Logger, opts ...SlackOption) *SlackNotifier {
	n := &SlackNotifier{
		api:     api,
		channel: channel,
		retry:   retry.DefaultConfig(),
		logger:  logger.With().Str("component", "notify").Logger(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Notify posts lead to the configured channel. Slack rate limits and 5xx
// responses are retried within ctx.
func (n *SlackNotifier) Notify(ctx context.Context, lead Lead) error {
	blocks := LeadBlocks(lead)
	var ts string
	attempt := 0
	err := retry.Do(ctx, n.retry, func(ctx context.Context) error {
		attempt++
		var err error
		_, ts, err = n.api.PostMessageContext(ctx, n.channel,
			slack.MsgOptionText(headline(lead), false),
			slack.MsgOptionBlocks(blocks...),
		)
		if err != nil {
			err = classify(err)
			n.logger.Debug().Err(err).Int("attempt", attempt).Str("event", string(lead.Event)).Msg("slack post failed")
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to post %s notification: %w", lead.Event, err)
	}
	n.logger.Debug().
		Str("event", string(lead.Event)).
		Str("session_id", lead.SessionID).
		Str("ts", ts).
		Msg("lead notification posted")
	return nil
}

// classify maps Slack client errors onto the shared error types so the
// retry policy can tell transient failures from permanent ones.
func classify(err error) error {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return fmt.Errorf("%w: %w", &perrors.RateLimitError{Scope: "slack", RetryAfter: rl.RetryAfter}, err)
	}
	var sc slack.StatusCodeError
	if errors.As(err, &sc) {
		apiErr := perrors.NewAPIError("slack", sc.Code, sc.Status)
		apiErr.Err = err
		return apiErr
	}
	return err
}

func headline(lead Lead) string {
	switch lead.Event {
	case EventQuoteRequested:
		return "New quote request"
	case EventSubscribed:
		return "New subscriber"
	case EventManualReview:
		return "Blueprint needs manual review"
	default:
		return "Lead update"
	}
}

// LeadBlocks renders lead as Block Kit blocks.
func LeadBlocks(lead Lead) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject("plain_text", headline(lead), false, false),
		),
	}

	var fields []*slack.TextBlockObject
	addField := func(label, value string) {
		if value == "" {
			return
		}
		fields = append(fields, slack.NewTextBlockObject("mrkdwn",
			fmt.Sprintf("*%s:*\n%s", label, value), false, false))
	}
	addField("Session", "`"+lead.SessionID+"`")
	addField("Submission", lead.SubmissionID)
	addField("State", lead.State)
	addField("Source", lead.Source)
	addField("Email", lead.Email)
	if !lead.At.IsZero() {
		addField("At", lead.At.UTC().Format("2006-01-02 15:04 MST"))
	}
	blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))

	var detail strings.Builder
	for _, kv := range [][2]string{
		{"Goal", lead.Goal},
		{"Workflow", lead.Workflow},
		{"Tools", lead.Tools},
		{"Pain points", lead.PainPoints},
	} {
		if kv[1] == "" {
			continue
		}
		fmt.Fprintf(&detail, "*%s:* %s\n", kv[0], clip(kv[1], 500))
	}
	if detail.Len() > 0 {
		blocks = append(blocks, slack.NewDividerBlock(),
			slack.NewSectionBlock(
				slack.NewTextBlockObject("mrkdwn", detail.String(), false, false),
				nil, nil,
			))
	}

	if lead.Reason != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn", ":warning: "+lead.Reason, false, false),
		))
	}
	return blocks
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
