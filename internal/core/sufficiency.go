package core

import (
	"strings"
	"unicode"

	"intake-chatbot/pkg"
)

// genericResponses are short answers that never count as elaboration on the
// substantive topics.
var genericResponses = map[string]struct{}{
	"yes": {}, "no": {}, "ok": {}, "okay": {}, "sure": {},
	"fine": {}, "good": {}, "bad": {}, "maybe": {},
}

// Evaluator decides whether an answer meets the elaboration bar of a topic.
type Evaluator struct {
	topics map[int]pkg.TopicSpec
}

// NewEvaluator builds an evaluator over the topic table.
func NewEvaluator(topics []pkg.TopicSpec) *Evaluator {
	m := make(map[int]pkg.TopicSpec, len(topics))
	for _, t := range topics {
		m[t.Index] = t
	}
	return &Evaluator{topics: m}
}

// Sufficient reports whether text is an adequate answer to the topic.
// Topics without an entry use the identity/closing rule of a single word.
func (e *Evaluator) Sufficient(text string, topic int) bool {
	spec, ok := e.topics[topic]
	if !ok {
		spec = pkg.TopicSpec{Index: topic, MinWords: 1}
	}
	n := WordCount(text)
	if n < spec.MinWords || n == 0 {
		return false
	}
	if spec.RejectGeneric && isGeneric(text) {
		return false
	}
	return true
}

// WordCount counts whitespace-separated tokens that contain at least one
// letter or digit.  Punctuation-only input counts as zero words.
func WordCount(text string) int {
	n := 0
	for _, tok := range strings.Fields(text) {
		if strings.IndexFunc(tok, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsNumber(r) }) >= 0 {
			n++
		}
	}
	return n
}

func isGeneric(text string) bool {
	_, ok := genericResponses[strings.ToLower(strings.TrimSpace(text))]
	return ok
}
