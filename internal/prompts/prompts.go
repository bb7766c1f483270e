// Package prompts loads the system prompts and fallback copy used when talking
// to the generation provider. A YAML file may override any section of the
// embedded defaults; ${VAR} references in the file are expanded from the
// environment.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Set is the full collection of prompt templates.
type Set struct {
	BlueprintSystem     string   `yaml:"blueprint_system"`
	QuestionsSystem     string   `yaml:"questions_system"`
	ChatSystem          string   `yaml:"chat_system"`
	FallbackQuestions   []string `yaml:"fallback_questions"`
	FallbackReply       string   `yaml:"fallback_reply"`
	ManualReviewMessage string   `yaml:"manual_review_message"`
}

// Default returns the embedded prompt set.
func Default() *Set {
	var s Set
	if err := yaml.Unmarshal(defaultsYAML, &s); err != nil {
		panic("prompts: embedded defaults are invalid: " + err.Error())
	}
	return &s
}

// Load reads path and overlays it on the embedded defaults.
// An empty path returns the defaults.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prompts: read %s: %w", path, err)
	}
	s, err := LoadBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("prompts: %s: %w", path, err)
	}
	return s, nil
}

// LoadBytes parses YAML from data and overlays it on the embedded defaults.
func LoadBytes(data []byte) (*Set, error) {
	var override Set
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &override); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	s := Default()
	s.merge(&override)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Set) merge(o *Set) {
	if strings.TrimSpace(o.BlueprintSystem) != "" {
		s.BlueprintSystem = o.BlueprintSystem
	}
	if strings.TrimSpace(o.QuestionsSystem) != "" {
		s.QuestionsSystem = o.QuestionsSystem
	}
	if strings.TrimSpace(o.ChatSystem) != "" {
		s.ChatSystem = o.ChatSystem
	}
	if len(o.FallbackQuestions) > 0 {
		s.FallbackQuestions = o.FallbackQuestions
	}
	if strings.TrimSpace(o.FallbackReply) != "" {
		s.FallbackReply = o.FallbackReply
	}
	if strings.TrimSpace(o.ManualReviewMessage) != "" {
		s.ManualReviewMessage = o.ManualReviewMessage
	}
}

// Validate checks that every fallback question is non-blank.
func (s *Set) Validate() error {
	if len(s.FallbackQuestions) == 0 {
		return fmt.Errorf("fallback_questions must not be empty")
	}
	for i, q := range s.FallbackQuestions {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("fallback_questions[%d] is blank", i)
		}
	}
	return nil
}

// envVarPattern matches ${VAR_NAME}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}
