package core

import (
	"fmt"
	"regexp"
	"strings"

	"intake-chatbot/pkg"
)

// Matcher applies a declarative keyword table to free text.  It backs both
// the summary whitelist and the concern keywords of the consent pipeline.
type Matcher struct {
	rules []compiledRule
}

type compiledRule struct {
	label string
	re    *regexp.Regexp
}

// NewMatcher compiles the keyword rules.  Triggers match whole words or
// phrases, case-insensitively; a trailing "*" allows any word suffix.
func NewMatcher(rules []pkg.KeywordRule) (*Matcher, error) {
	m := &Matcher{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		alts := make([]string, 0, len(r.Triggers))
		for _, trig := range r.Triggers {
			trig = strings.ToLower(strings.TrimSpace(trig))
			if trig == "" {
				continue
			}
			prefix := strings.HasSuffix(trig, "*")
			trig = strings.TrimSuffix(trig, "*")
			words := strings.Fields(trig)
			for i, w := range words {
				words[i] = regexp.QuoteMeta(w)
			}
			alt := strings.Join(words, `\s+`)
			if prefix {
				alt += `\w*`
			}
			alts = append(alts, alt)
		}
		if len(alts) == 0 {
			return nil, fmt.Errorf("keyword rule %q has no triggers", r.Label)
		}
		re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("keyword rule %q: %w", r.Label, err)
		}
		m.rules = append(m.rules, compiledRule{label: r.Label, re: re})
	}
	return m, nil
}

// Match returns the labels whose triggers occur in text, in table order.
func (m *Matcher) Match(text string) []string {
	var out []string
	for _, r := range m.rules {
		if r.re.MatchString(text) {
			out = append(out, r.label)
		}
	}
	return out
}

// MatchTurns scans the turns authored by role and returns each matching label
// once, ordered by first mention.
func (m *Matcher) MatchTurns(turns []pkg.Turn, role pkg.Role) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range turns {
		if t.Role != role {
			continue
		}
		for _, r := range m.rules {
			if seen[r.label] {
				continue
			}
			if r.re.MatchString(t.Text) {
				seen[r.label] = true
				out = append(out, r.label)
			}
		}
	}
	return out
}
