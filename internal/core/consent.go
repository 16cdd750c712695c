package core

import (
	"regexp"
	"strings"

	"intake-chatbot/pkg"
)

var (
	affirmativeWords = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "yup": true, "sure": true,
		"ok": true, "okay": true, "open": true, "willing": true, "please": true,
		"absolutely": true, "definitely": true,
	}
	affirmativePhrases = []string{"would like", "go ahead", "that would help", "sounds good"}
	negativeWords      = map[string]bool{
		"no": true, "nope": true, "nah": true, "not": true, "never": true,
		"don't": true, "dont": true,
	}
)

// ClassifyConsent reports whether reply accepts the offer of help.  A reply
// is affirmative when it contains an affirmative keyword, or when it contains
// no negative word at all.  Both present is a tie and resolves to
// affirmative, and so does an empty reply: offering help is preferred over
// silently dropping it.
func ClassifyConsent(reply string) bool {
	norm := normalizeSpeech(reply)
	words := strings.Fields(norm)
	for _, w := range words {
		if affirmativeWords[w] {
			return true
		}
	}
	padded := " " + norm + " "
	for _, p := range affirmativePhrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	for _, w := range words {
		if negativeWords[w] {
			return false
		}
	}
	return true
}

// Identity holds what the user shared about themselves.
type Identity struct {
	Name     string
	Location string
	Concerns []string
}

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bmy name(?: is|'s)\s+([a-z][a-z'-]*)`),
		regexp.MustCompile(`(?i)\bcall me\s+([a-z][a-z'-]*)`),
		regexp.MustCompile(`(?i)\bi(?:'m| am|m)\s+([a-z][a-z'-]*)`),
		regexp.MustCompile(`(?i)^\s*([a-z][a-z'-]*)\s+here\b`),
	}
	locationPattern = regexp.MustCompile(`(?i)\b(?:i live in|i'm in|i am in|i'm from|i am from|i come from|located in|based in|staying in|living in)\s+([^,.;!?]+)`)

	// nameStopwords are words that follow "I'm" without being a name.
	nameStopwords = map[string]bool{
		"a": true, "an": true, "the": true, "not": true, "so": true, "very": true, "just": true,
		"really": true, "good": true, "fine": true, "okay": true, "ok": true, "here": true,
		"from": true, "in": true, "feeling": true, "doing": true, "going": true, "trying": true,
		"having": true, "tired": true, "sad": true, "sorry": true, "worried": true, "scared": true,
		"afraid": true, "happy": true, "also": true, "still": true, "always": true, "kind": true,
		"sort": true, "glad": true, "well": true, "at": true, "on": true, "with": true, "living": true,
		"staying": true, "based": true, "located": true, "anxious": true, "stressed": true,
		"been": true, "getting": true, "struggling": true, "alright": true, "lonely": true,
		"depressed": true, "overwhelmed": true, "unsure": true, "sure": true, "hi": true, "hello": true,
		"hey": true, "yes": true, "no": true, "pretty": true, "quite": true, "bit": true,
	}
)

// identityScanTurns bounds how many early user turns are searched for a name.
const identityScanTurns = 5

// IdentityExtractor pulls name, broad location and concern keywords out of a
// transcript with simple pattern rules.
type IdentityExtractor struct {
	concerns *Matcher
}

// NewIdentityExtractor compiles the concern rules.
func NewIdentityExtractor(concerns []pkg.KeywordRule) (*IdentityExtractor, error) {
	m, err := NewMatcher(concerns)
	if err != nil {
		return nil, err
	}
	return &IdentityExtractor{concerns: m}, nil
}

// Extract scans the user turns.  The name is looked for in the first few
// user turns only; a one-word first answer is taken as the name since the
// greeting asks for it.
func (x *IdentityExtractor) Extract(turns []pkg.Turn) Identity {
	var id Identity
	seen := 0
	for _, t := range turns {
		if t.Role != pkg.RoleUser {
			continue
		}
		seen++
		if id.Name == "" && seen <= identityScanTurns {
			id.Name = extractName(t.Text, seen == 1)
		}
		if id.Location == "" {
			id.Location = extractLocation(t.Text)
		}
	}
	id.Concerns = x.concerns.MatchTurns(turns, pkg.RoleUser)
	return id
}

func extractName(text string, first bool) string {
	for _, re := range namePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if name := acceptName(m[1]); name != "" {
				return name
			}
		}
	}
	if first {
		words := strings.Fields(normalizeSpeech(text))
		if len(words) == 1 {
			return acceptName(words[0])
		}
	}
	return ""
}

func acceptName(w string) string {
	w = strings.Trim(strings.ToLower(w), "'-")
	if len(w) < 2 || nameStopwords[w] {
		return ""
	}
	return strings.ToUpper(w[:1]) + w[1:]
}

func extractLocation(text string) string {
	m := locationPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	loc := strings.TrimSpace(m[1])
	if i := strings.Index(strings.ToLower(loc), " and "); i > 0 {
		loc = strings.TrimSpace(loc[:i])
	}
	if len(loc) < 3 || len(loc) > 50 {
		return ""
	}
	return loc
}
