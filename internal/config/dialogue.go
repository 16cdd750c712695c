package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"intake-chatbot/pkg"
)

//go:embed dialogue.yaml
var defaultDialogue []byte

// TopicCount is the fixed number of intake topics.
const TopicCount = 6

// Dialogue is the static conversation table: greetings, the six topics and
// the keyword rules for summary subjects and consent-time concerns.
type Dialogue struct {
	Greetings []string          `yaml:"greetings"`
	Topics    []pkg.TopicSpec   `yaml:"topics"`
	Subjects  []pkg.KeywordRule `yaml:"subjects"`
	Concerns  []pkg.KeywordRule `yaml:"concerns"`
}

// DefaultDialogue returns the embedded dialogue table.
func DefaultDialogue() (*Dialogue, error) {
	return ParseDialogue(defaultDialogue)
}

// LoadDialogue reads a dialogue table from path, or the embedded default when
// path is empty.
func LoadDialogue(path string) (*Dialogue, error) {
	if path == "" {
		return DefaultDialogue()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read dialogue: %w", err)
	}
	return ParseDialogue(data)
}

// ParseDialogue decodes and validates a dialogue table.
func ParseDialogue(data []byte) (*Dialogue, error) {
	var d Dialogue
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("config: parse dialogue: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks that the table holds exactly six topics indexed 1..6, in
// order, each with a prompt, a rephrase template and a fallback question.
func (d *Dialogue) Validate() error {
	var errs []error
	if len(d.Greetings) == 0 {
		errs = append(errs, errors.New("at least one greeting is required"))
	}
	if len(d.Topics) != TopicCount {
		errs = append(errs, fmt.Errorf("expected %d topics, got %d", TopicCount, len(d.Topics)))
	}
	for i, t := range d.Topics {
		if t.Index != i+1 {
			errs = append(errs, fmt.Errorf("topic %d has index %d", i+1, t.Index))
		}
		if strings.TrimSpace(t.Prompt) == "" {
			errs = append(errs, fmt.Errorf("topic %d has no prompt", t.Index))
		}
		if strings.TrimSpace(t.Question) == "" {
			errs = append(errs, fmt.Errorf("topic %d has no fallback question", t.Index))
		}
		if strings.TrimSpace(t.Rephrase) == "" {
			errs = append(errs, fmt.Errorf("topic %d has no rephrase template", t.Index))
		}
		if t.MinWords < 1 {
			errs = append(errs, fmt.Errorf("topic %d needs min_words >= 1", t.Index))
		}
	}
	for _, r := range append(append([]pkg.KeywordRule{}, d.Subjects...), d.Concerns...) {
		if r.Label == "" || len(r.Triggers) == 0 {
			errs = append(errs, fmt.Errorf("keyword rule %q needs a label and triggers", r.Label))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid dialogue: %w", errors.Join(errs...))
	}
	return nil
}
