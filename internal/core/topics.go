package core

import (
	"intake-chatbot/pkg"
)

// TopicExtractor derives the summary whitelist: the subjects the user raised
// in their own words.  Assistant turns are never scanned, so nothing the
// assistant suggested can leak into the list.
type TopicExtractor struct {
	matcher *Matcher
}

// NewTopicExtractor compiles the subject rules.
func NewTopicExtractor(rules []pkg.KeywordRule) (*TopicExtractor, error) {
	m, err := NewMatcher(rules)
	if err != nil {
		return nil, err
	}
	return &TopicExtractor{matcher: m}, nil
}

// Whitelist returns the deduplicated subject labels found in user turns.
func (x *TopicExtractor) Whitelist(turns []pkg.Turn) []string {
	return x.matcher.MatchTurns(turns, pkg.RoleUser)
}
