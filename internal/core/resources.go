package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"intake-chatbot/pkg"
)

// NationalResources is the fixed list offered when no location-scoped
// services are available.
var NationalResources = []pkg.ResourceEntry{
	{Name: "988 Suicide & Crisis Lifeline", Contact: "Call or text 988", Description: "Free, confidential support available 24/7."},
	{Name: "Crisis Text Line", Contact: "Text HOME to 741741", Description: "Text with a trained crisis counselor any time."},
	{Name: "BetterHelp", Contact: "betterhelp.com", Description: "Online therapy with licensed counselors."},
	{Name: "Psychology Today Therapist Finder", Contact: "psychologytoday.com/us/therapists", Description: "Search for therapists near you by specialty and insurance."},
	{Name: "SAMHSA National Helpline", Contact: "1-800-662-4357", Description: "Free treatment referral and information service, 24/7."},
	{Name: "NAMI HelpLine", Contact: "nami.org/help", Description: "Information, resource referrals and peer support."},
	{Name: "Mental Health America", Contact: "mhanational.org", Description: "Screening tools and resources for mental health support."},
}

// ErrNoLocalServices is returned by a locator that found nothing usable.
var ErrNoLocalServices = errors.New("core: no local services found")

// ResourceLocator finds support services near a place.
type ResourceLocator interface {
	Locate(ctx context.Context, place string) ([]pkg.ResourceEntry, error)
}

type servicesReply struct {
	Services []struct {
		Name        string `json:"name"`
		Phone       string `json:"phone"`
		Address     string `json:"address"`
		Description string `json:"description"`
	} `json:"services"`
}

// GeneratedLocator asks the generation service for services in a place.
type GeneratedLocator struct {
	gateway *Gateway
}

// NewGeneratedLocator returns a locator backed by g.
func NewGeneratedLocator(g *Gateway) *GeneratedLocator {
	return &GeneratedLocator{gateway: g}
}

// Locate returns ErrNoLocalServices when the service failed or listed
// nothing with a name and a way to get in touch.
func (l *GeneratedLocator) Locate(ctx context.Context, place string) ([]pkg.ResourceEntry, error) {
	site := CallSite[servicesReply]{
		Name:        "services",
		Temperature: 0.3,
		Valid:       func(r servicesReply) bool { return len(r.Services) > 0 },
	}
	res := Generate(ctx, l.gateway, site, Prompt{
		Instructions: []string{fmt.Sprintf(servicesInstruction, place)},
	})
	if res.IsFallback() {
		return nil, fmt.Errorf("%w: %v", ErrNoLocalServices, res.Cause)
	}
	var out []pkg.ResourceEntry
	for _, s := range res.Value.Services {
		contact := strings.TrimSpace(s.Phone)
		if contact == "" {
			contact = strings.TrimSpace(s.Address)
		}
		name := strings.TrimSpace(s.Name)
		if name == "" || contact == "" {
			continue
		}
		out = append(out, pkg.ResourceEntry{Name: name, Contact: contact, Description: stripQuestions(s.Description)})
	}
	if len(out) == 0 {
		return nil, ErrNoLocalServices
	}
	return out, nil
}

// BuildBundle assembles the resource bundle.  Local entries are used when a
// location was given and the locator produced some; otherwise the national
// list.  The bundle never holds more than pkg.MaxResourceEntries entries and
// always ends with the supportive closing.
func BuildBundle(ctx context.Context, locator ResourceLocator, place string, log *zap.Logger) pkg.ResourceBundle {
	if place != "" && locator != nil {
		entries, err := locator.Locate(ctx, place)
		if err == nil && len(entries) > 0 {
			return pkg.ResourceBundle{
				Entries:  capEntries(entries),
				Source:   "local",
				Location: place,
				Closing:  SupportiveClosing,
			}
		}
		if log != nil {
			log.Info("local services unavailable, using national list", zap.String("place", place), zap.Error(err))
		}
	}
	return pkg.ResourceBundle{
		Entries: capEntries(NationalResources),
		Source:  "national",
		Closing: SupportiveClosing,
	}
}

func capEntries(in []pkg.ResourceEntry) []pkg.ResourceEntry {
	n := len(in)
	if n > pkg.MaxResourceEntries {
		n = pkg.MaxResourceEntries
	}
	out := make([]pkg.ResourceEntry, n)
	copy(out, in[:n])
	return out
}

// FormatBundle renders the bundle as the final assistant message.
func FormatBundle(b pkg.ResourceBundle, name string) string {
	var sb strings.Builder
	if name != "" {
		sb.WriteString(name + ", here")
	} else {
		sb.WriteString("Here")
	}
	if b.Source == "local" && b.Location != "" {
		fmt.Fprintf(&sb, " are some mental health resources in %s that might help:\n", b.Location)
	} else {
		sb.WriteString(" are some mental health resources that might help:\n")
	}
	for _, e := range b.Entries {
		fmt.Fprintf(&sb, "\n- %s: %s", e.Name, e.Contact)
		if e.Description != "" {
			sb.WriteString(". " + strings.TrimSuffix(e.Description, "."))
		}
	}
	sb.WriteString("\n\n" + b.Closing)
	return sb.String()
}

// stripQuestions drops sentences ending in a question mark so generated
// descriptions cannot reopen the conversation.
func stripQuestions(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "?") {
		return s
	}
	var kept []string
	for _, part := range strings.SplitAfter(s, "?") {
		if strings.HasSuffix(part, "?") {
			if i := strings.LastIndexAny(strings.TrimSuffix(part, "?"), ".!"); i >= 0 {
				kept = append(kept, part[:i+1])
			}
			continue
		}
		kept = append(kept, part)
	}
	return strings.TrimSpace(strings.Join(kept, ""))
}
