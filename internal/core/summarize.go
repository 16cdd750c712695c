package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"intake-chatbot/pkg"
)

// MaxSectionChars bounds each digest section independently.
const MaxSectionChars = 600

// Section headings in digest order.
var sectionHeadings = []string{
	"PRESENTING CONCERNS",
	"EMOTIONAL STATE",
	"RISK FACTORS",
	"SUPPORT NEEDS",
	"RECOMMENDED CARE",
}

var headingRe = regexp.MustCompile(`(?i)(?:\d\s*[).:-]\s*)?\b(PRESENTING CONCERNS|EMOTIONAL STATE|RISK FACTORS|SUPPORT NEEDS|RECOMMENDED CARE)\b\s*[:\-]?`)

// summaryReply is the JSON shape of a digest response.
type summaryReply struct {
	Summary string `json:"summary"`
}

// Summarizer produces the five-section digest under the topic whitelist.
type Summarizer struct {
	gateway   *Gateway
	extractor *TopicExtractor
}

// NewSummarizer constructs a summariser.
func NewSummarizer(g *Gateway, x *TopicExtractor) *Summarizer {
	return &Summarizer{gateway: g, extractor: x}
}

// Summarize analyses the transcript and produces a Digest.  The whitelist
// of user-raised subjects is always sent as a hard constraint and recorded on
// the digest.  When generation fails the digest is built from the whitelist
// alone, so a fallback can never name anything the user did not say.
func (s *Summarizer) Summarize(ctx context.Context, turns []pkg.Turn) pkg.Digest {
	if len(turns) < 2 {
		return pkg.Digest{PresentingConcerns: ShortConversationSummary, Fallback: true}
	}
	whitelist := s.extractor.Whitelist(turns)

	site := CallSite[summaryReply]{
		Name:        "summary",
		Summary:     true,
		Temperature: 0.4,
		Valid:       func(r summaryReply) bool { return strings.TrimSpace(r.Summary) != "" },
	}
	res := Generate(ctx, s.gateway, site, Prompt{
		Instructions: []string{BaseSystemPrompt, SummaryInstruction, WhitelistConstraint(whitelist)},
		Turns:        turns,
	})
	if res.IsFallback() {
		return fallbackDigest(whitelist)
	}
	d := ParseDigest(res.Value.Summary)
	d.Topics = whitelist
	return d
}

// WhitelistConstraint renders the anti-fabrication instruction.
func WhitelistConstraint(whitelist []string) string {
	if len(whitelist) == 0 {
		return emptyWhitelistInstruction
	}
	return fmt.Sprintf(whitelistInstruction, strings.Join(whitelist, ", "))
}

// ParseDigest splits a sectioned summary string into the five sections,
// clipping each to MaxSectionChars.  Text without recognisable headings is
// kept whole under presenting concerns.
func ParseDigest(text string) pkg.Digest {
	clean := strings.NewReplacer("**", "", "##", "", "#", "").Replace(text)
	locs := headingRe.FindAllStringSubmatchIndex(clean, -1)
	if len(locs) == 0 {
		return pkg.Digest{PresentingConcerns: clipSection(clean)}
	}

	sections := make(map[string]string, len(sectionHeadings))
	for i, loc := range locs {
		name := strings.ToUpper(clean[loc[2]:loc[3]])
		end := len(clean)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := clipSection(clean[loc[1]:end])
		if _, dup := sections[name]; !dup {
			sections[name] = body
		}
	}
	return pkg.Digest{
		PresentingConcerns: sections["PRESENTING CONCERNS"],
		EmotionalState:     sections["EMOTIONAL STATE"],
		RiskFactors:        sections["RISK FACTORS"],
		SupportNeeds:       sections["SUPPORT NEEDS"],
		RecommendedCare:    sections["RECOMMENDED CARE"],
	}
}

// FormatDigest renders the digest as the sectioned string handed to the
// document collaborator.
func FormatDigest(d pkg.Digest) string {
	bodies := []string{d.PresentingConcerns, d.EmotionalState, d.RiskFactors, d.SupportNeeds, d.RecommendedCare}
	var b strings.Builder
	for i, h := range sectionHeadings {
		if bodies[i] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d) %s\n%s", i+1, h, bodies[i])
	}
	return b.String()
}

func fallbackDigest(whitelist []string) pkg.Digest {
	concerns := "The patient completed a supportive intake conversation. No specific life events were identified."
	if len(whitelist) > 0 {
		concerns = "The patient completed a supportive intake conversation and raised the following topics: " +
			strings.Join(whitelist, ", ") + "."
	}
	return pkg.Digest{
		PresentingConcerns: concerns,
		EmotionalState:     "Not assessed; the automated summary was unavailable.",
		RiskFactors:        "Not assessed; review the transcript directly.",
		SupportNeeds:       "Review the transcript for the patient's stated needs.",
		RecommendedCare:    "Clinician review of the full transcript is recommended.",
		Topics:             whitelist,
		Fallback:           true,
	}
}

// clipSection trims s and bounds it to MaxSectionChars, preferring to cut at
// the end of a sentence.
func clipSection(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= MaxSectionChars {
		return s
	}
	cut := s[:MaxSectionChars]
	if i := strings.LastIndexAny(cut, ".!?"); i > MaxSectionChars/2 {
		return cut[:i+1]
	}
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
