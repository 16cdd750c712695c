package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Offline for every request.
var ErrUnavailable = errors.New("llm: generation service not configured")

// Offline is used when no API key is configured.  Every request fails, so
// callers run entirely on their deterministic fallbacks.
type Offline struct{}

// Generate always fails with ErrUnavailable.
func (Offline) Generate(context.Context, Request) (string, error) {
	return "", ErrUnavailable
}
