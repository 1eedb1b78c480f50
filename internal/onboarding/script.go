package onboarding

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Script validation errors.
var (
	ErrEmptyScript     = errors.New("script must contain at least one prompt")
	ErrEmptyPromptID   = errors.New("prompt id cannot be empty")
	ErrDuplicatePrompt = errors.New("duplicate prompt id")
	ErrEmptyQuestion   = errors.New("prompt question cannot be empty")
)

var defaultPrompts = []Prompt{
	{ID: "name", QuestionText: "Hello! Welcome to our app. I'm your voice assistant. What's your name?"},
	{ID: "purpose", QuestionText: "Nice to meet you! What brings you to our app today?"},
	{ID: "referral", QuestionText: "That's great! How did you hear about us?"},
	{ID: "interests", QuestionText: "Which features are you most excited to try?"},
	{ID: "notifications", QuestionText: "Last question: would you like to receive notifications about new features and updates?"},
}

// DefaultPrompts returns a fresh copy of the built-in five question script.
func DefaultPrompts() []Prompt {
	out := make([]Prompt, len(defaultPrompts))
	copy(out, defaultPrompts)
	return out
}

// scriptFile is the on-disk YAML layout.
type scriptFile struct {
	Prompts []Prompt `yaml:"prompts"`
}

// LoadScript reads a YAML script of the form:
//
//	prompts:
//	  - id: name
//	    question: What's your name?
func LoadScript(path string) ([]Prompt, error) {
	slog.Debug("onboarding.LoadScript: reading script", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	prompts, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("invalid script %s: %w", path, err)
	}
	slog.Info("onboarding.LoadScript: script loaded", "path", path, "prompts", len(prompts))
	return prompts, nil
}

// ParseScript decodes and validates a YAML script.
func ParseScript(data []byte) ([]Prompt, error) {
	var f scriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode YAML: %w", err)
	}
	if err := ValidatePrompts(f.Prompts); err != nil {
		return nil, err
	}
	return f.Prompts, nil
}

// ValidatePrompts checks that a script is non-empty with unique, non-empty IDs and questions.
func ValidatePrompts(prompts []Prompt) error {
	if len(prompts) == 0 {
		return ErrEmptyScript
	}
	seen := make(map[string]struct{}, len(prompts))
	for i, p := range prompts {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("prompt %d: %w", i, ErrEmptyPromptID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("prompt %d (%s): %w", i, p.ID, ErrDuplicatePrompt)
		}
		seen[p.ID] = struct{}{}
		if strings.TrimSpace(p.QuestionText) == "" {
			return fmt.Errorf("prompt %d (%s): %w", i, p.ID, ErrEmptyQuestion)
		}
	}
	return nil
}
