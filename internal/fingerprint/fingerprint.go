// Package fingerprint derives the content key used to deduplicate blueprint
// generation across visitors.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/p-blackswan/leadflow/internal/session"
)

// version is mixed into the hash. Bump it whenever Normalize changes.
const version = "v1"

// Normalize trims, collapses internal whitespace runs to one space, applies
// Unicode NFKC and full case folding.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	// A Caser is stateful, so each call gets its own.
	return cases.Fold().String(s)
}

// Compute returns the hex SHA-256 over the four required questionnaire
// fields. The optional email is excluded: two visitors describing the same
// workflow share one generation.
func Compute(w session.WizardData) string {
	h := sha256.New()
	h.Write([]byte(version))
	for _, field := range []string{w.Goal, w.Workflow, w.Tools, w.PainPoints} {
		h.Write([]byte{0})
		h.Write([]byte(Normalize(field)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
