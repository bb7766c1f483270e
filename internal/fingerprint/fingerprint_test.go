package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/p-blackswan/leadflow/internal/session"
)

func sample() session.WizardData {
	return session.WizardData{
		Goal:       "Automate reporting",
		Workflow:   "Every Monday I copy numbers from three sheets into a summary",
		Tools:      "Sheets",
		PainPoints: "manual copy-paste",
	}
}

func TestCompute_Deterministic(t *testing.T) {
	a := Compute(sample())
	b := Compute(sample())
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestCompute_IgnoresWhitespaceAndCase(t *testing.T) {
	w := sample()
	w.Goal = "  AUTOMATE   reporting\n"
	w.Workflow = "Every monday I copy numbers\tfrom three sheets into a SUMMARY "
	w.Tools = "sheets"
	assert.Equal(t, Compute(sample()), Compute(w))
}

func TestCompute_IgnoresEmail(t *testing.T) {
	w := sample()
	w.Email = "visitor@example.com"
	assert.Equal(t, Compute(sample()), Compute(w))
}

func TestCompute_DistinguishesContent(t *testing.T) {
	w := sample()
	w.PainPoints = "manual copy paste errors"
	assert.NotEqual(t, Compute(sample()), Compute(w))
}

func TestCompute_FieldBoundaries(t *testing.T) {
	a := session.WizardData{Goal: "ab", Workflow: "c"}
	b := session.WizardData{Goal: "a", Workflow: "bc"}
	assert.NotEqual(t, Compute(a), Compute(b), "moving text between fields changes the key")
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  Hello \t\n WORLD "))
	assert.Equal(t, Normalize("école"), Normalize("ÉCOLE"))
	assert.Equal(t, "file", Normalize("\ufb01le"), "compatibility ligatures normalize")
	assert.Equal(t, "", Normalize("   "))
}
