// Package validate checks and sanitizes visitor input before it reaches the
// conversation manager. Lengths are counted in runes after HTML stripping and
// trimming.
package validate

import (
	"net/mail"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"

	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/session"
)

// BootstrapSentinel is the empty-turn value the UI sends to open a
// conversation. It is routed to the initial questions and never forwarded to
// the provider.
const BootstrapSentinel = "__start__"

// MaxMessageLength bounds a single chat message.
const MaxMessageLength = 2000

type bounds struct{ min, max int }

var fieldBounds = map[string]bounds{
	"goal":        {10, 500},
	"workflow":    {20, 2000},
	"tools":       {3, 500},
	"pain_points": {10, 1000},
}

// Questionnaire validates q and returns its sanitized copy.
func Questionnaire(q session.WizardData) (session.WizardData, error) {
	out := session.WizardData{
		Goal:       StripHTML(q.Goal),
		Workflow:   StripHTML(q.Workflow),
		Tools:      StripHTML(q.Tools),
		PainPoints: StripHTML(q.PainPoints),
		Email:      strings.TrimSpace(q.Email),
	}

	for _, f := range []struct {
		name  string
		value string
	}{
		{"goal", out.Goal},
		{"workflow", out.Workflow},
		{"tools", out.Tools},
		{"pain_points", out.PainPoints},
	} {
		if err := length(f.name, f.value, fieldBounds[f.name]); err != nil {
			return session.WizardData{}, err
		}
	}

	if out.Email != "" {
		email, err := Email(out.Email)
		if err != nil {
			return session.WizardData{}, err
		}
		out.Email = email
	}
	return out, nil
}

func length(field, value string, b bounds) error {
	n := utf8.RuneCountInString(value)
	switch {
	case n == 0:
		return perrors.NewValidationError(field, "is required")
	case n < b.min:
		return perrors.NewValidationError(field, "must be at least "+strconv.Itoa(b.min)+" characters")
	case n > b.max:
		return perrors.NewValidationError(field, "must be at most "+strconv.Itoa(b.max)+" characters")
	}
	return nil
}

// Email validates a single RFC 5322 address and returns the bare address.
// Display names ("Ann <ann@example.com>") are rejected.
func Email(s string) (string, error) {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s || !strings.Contains(addr.Address[strings.LastIndexByte(addr.Address, '@')+1:], ".") {
		return "", perrors.NewValidationError("email", "is not a valid email address")
	}
	return addr.Address, nil
}

// ChatMessage validates and sanitizes a chat message. The bootstrap sentinel
// is returned unchanged.
func ChatMessage(m string) (string, error) {
	if m == BootstrapSentinel {
		return m, nil
	}
	clean := StripHTML(m)
	n := utf8.RuneCountInString(clean)
	if n == 0 {
		return "", perrors.NewValidationError("message", "is required")
	}
	if n > MaxMessageLength {
		return "", perrors.NewValidationError("message", "must be at most "+strconv.Itoa(MaxMessageLength)+" characters")
	}
	if !strings.ContainsFunc(clean, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
		return "", perrors.NewValidationError("message", "must contain at least one letter or digit")
	}
	return clean, nil
}

// StripHTML removes markup, dropping the contents of script and style
// elements, and trims the result. Entities are decoded.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a malformed tail; keep what was read so far.
			return strings.TrimSpace(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			if isRawText(name) {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isRawText(name) && skip > 0 {
				skip--
			}
		}
	}
}

func isRawText(tag []byte) bool {
	t := string(tag)
	return t == "script" || t == "style"
}
