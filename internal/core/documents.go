package core

import (
	"context"
	"fmt"
	"strings"

	"intake-chatbot/pkg"
)

// DocumentRequest is everything the document collaborator receives for a
// finished session.
type DocumentRequest struct {
	SessionID   string
	SummaryText string
	Bundle      pkg.ResourceBundle
	Comments    *pkg.PersonalizedComments
}

// DocumentGenerator produces the clinician-facing artifact.  It returns a
// reference to the stored artifact.  Failures are logged by the caller and
// never retried.
type DocumentGenerator interface {
	Generate(ctx context.Context, req DocumentRequest) (string, error)
}

// defaultRecommendation is used when personalised remarks fail.
var defaultRecommendation = pkg.Recommendation{
	ProviderType: "Primary Care Physician",
	Rationale:    "A good first step to discuss mental health concerns and get referrals.",
	Expectations: "Initial assessment and referral to appropriate specialists.",
	Credentials:  "MD or DO",
}

func fallbackComments(name string) pkg.PersonalizedComments {
	greet := "Thank you"
	if name != "" {
		greet = "Thank you, " + name + ","
	}
	return pkg.PersonalizedComments{
		FinalComments:   greet + " for sharing your experiences today. Taking this step shows real strength, and support is available whenever you are ready.",
		Recommendations: []pkg.Recommendation{defaultRecommendation},
	}
}

// personalizedComments requests closing remarks for the report.  It always
// returns usable comments.
func personalizedComments(ctx context.Context, g *Gateway, id Identity, summary string) pkg.PersonalizedComments {
	name := id.Name
	if name == "" {
		name = "the patient"
	}
	concerns := "general mental health"
	if len(id.Concerns) > 0 {
		concerns = strings.Join(id.Concerns, ", ")
	}
	site := CallSite[pkg.PersonalizedComments]{
		Name:        "comments",
		Summary:     true,
		Temperature: 0.7,
		Valid: func(c pkg.PersonalizedComments) bool {
			return strings.TrimSpace(c.FinalComments) != "" && len(c.Recommendations) > 0
		},
		Fallback: func() pkg.PersonalizedComments { return fallbackComments(id.Name) },
	}
	res := Generate(ctx, g, site, Prompt{
		Instructions: []string{fmt.Sprintf(commentsInstruction, name, concerns, summary)},
	})
	return res.Value
}
