package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"intake-chatbot/internal/llm"
	"intake-chatbot/pkg"
)

// ResultKind tags a generation result.
type ResultKind int

const (
	// Structured means the service answered with JSON of the expected shape.
	Structured ResultKind = iota + 1
	// Fallback means the call site's deterministic default was substituted.
	Fallback
)

func (k ResultKind) String() string {
	switch k {
	case Structured:
		return "structured"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Result is the outcome of one generation call.  Cause records why a
// fallback was used; it is informational and never needs handling.
type Result[T any] struct {
	Kind  ResultKind
	Value T
	Raw   string
	Cause error
}

// IsFallback reports whether the call site default was used.
func (r Result[T]) IsFallback() bool { return r.Kind == Fallback }

// ErrUnexpectedShape is the fallback cause when JSON parses but lacks the
// fields a call site needs.
var ErrUnexpectedShape = errors.New("generation: response does not match call site schema")

// CallSite describes one place that asks for generated content: the JSON
// shape it expects and the safe value used when the service fails.
type CallSite[T any] struct {
	Name        string
	Summary     bool
	Temperature float32
	Valid       func(T) bool
	Fallback    func() T
}

// Prompt is the context sent to the generation service.
type Prompt struct {
	Instructions []string
	Turns        []pkg.Turn
}

// Gateway fronts the text-generation collaborator.  Each call issues
// exactly one request; retries are a conversational decision and belong to
// the stepper.
type Gateway struct {
	client  llm.Client
	log     *zap.Logger
	metrics Recorder
}

// NewGateway wraps client.  A nil recorder disables metrics.
func NewGateway(client llm.Client, log *zap.Logger, rec Recorder) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = NopRecorder{}
	}
	return &Gateway{client: client, log: log, metrics: rec}
}

// Generate runs one call site.  It never returns an error: transport
// failures, malformed output and panics in the client all yield the call
// site's fallback.
func Generate[T any](ctx context.Context, g *Gateway, site CallSite[T], p Prompt) (res Result[T]) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = fallbackResult(site, "", fmt.Errorf("generation client panicked: %v", r))
		}
		g.metrics.ObserveGeneration(site.Name, res.Kind.String(), time.Since(start))
		if res.IsFallback() {
			g.log.Warn("generation fallback",
				zap.String("call_site", site.Name),
				zap.Error(res.Cause))
		}
	}()

	raw, err := g.client.Generate(ctx, llm.Request{
		SystemInstructions: p.Instructions,
		PriorTurns:         toMessages(p.Turns),
		Summary:            site.Summary,
		JSON:               true,
		Temperature:        site.Temperature,
	})
	if err != nil {
		return fallbackResult(site, "", err)
	}

	var v T
	if err := decodeJSONObject(raw, &v); err != nil {
		return fallbackResult(site, raw, err)
	}
	if site.Valid != nil && !site.Valid(v) {
		return fallbackResult(site, raw, ErrUnexpectedShape)
	}
	return Result[T]{Kind: Structured, Value: v, Raw: raw}
}

func fallbackResult[T any](site CallSite[T], raw string, cause error) Result[T] {
	var v T
	if site.Fallback != nil {
		v = site.Fallback()
	}
	return Result[T]{Kind: Fallback, Value: v, Raw: raw, Cause: cause}
}

// decodeJSONObject parses the first JSON object in raw.  Models sometimes
// wrap their answer in a markdown fence or add a sentence around it.
func decodeJSONObject(raw string, dst any) error {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("generation: no JSON object in response")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), dst); err != nil {
		return fmt.Errorf("generation: decode response: %w", err)
	}
	return nil
}
