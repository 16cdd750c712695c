package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"intake-chatbot/internal/llm"
	"intake-chatbot/pkg"
)

type fakeLocator struct {
	entries []pkg.ResourceEntry
	err     error
	places  []string
}

func (f *fakeLocator) Locate(_ context.Context, place string) ([]pkg.ResourceEntry, error) {
	f.places = append(f.places, place)
	return f.entries, f.err
}

func manyEntries(n int) []pkg.ResourceEntry {
	out := make([]pkg.ResourceEntry, n)
	for i := range out {
		out[i] = pkg.ResourceEntry{Name: fmt.Sprintf("Clinic %d", i+1), Contact: "555-0100"}
	}
	return out
}

func TestNationalResourcesCapped(t *testing.T) {
	assert.Len(t, NationalResources, pkg.MaxResourceEntries)

	b := BuildBundle(context.Background(), nil, "", zap.NewNop())
	assert.Equal(t, "national", b.Source)
	assert.Len(t, b.Entries, pkg.MaxResourceEntries)
	assert.Equal(t, SupportiveClosing, b.Closing)
}

func TestBuildBundleLocal(t *testing.T) {
	loc := &fakeLocator{entries: manyEntries(10)}
	b := BuildBundle(context.Background(), loc, "Portland", zap.NewNop())
	assert.Equal(t, "local", b.Source)
	assert.Equal(t, "Portland", b.Location)
	assert.Len(t, b.Entries, pkg.MaxResourceEntries)
	assert.Equal(t, []string{"Portland"}, loc.places)
}

func TestBuildBundleLocatorFailure(t *testing.T) {
	loc := &fakeLocator{err: errors.New("lookup down")}
	b := BuildBundle(context.Background(), loc, "Portland", zap.NewNop())
	assert.Equal(t, "national", b.Source)
	assert.Equal(t, NationalResources, b.Entries)
}

func TestBuildBundleWithoutPlaceSkipsLocator(t *testing.T) {
	loc := &fakeLocator{entries: manyEntries(2)}
	b := BuildBundle(context.Background(), loc, "", nil)
	assert.Equal(t, "national", b.Source)
	assert.Empty(t, loc.places)
}

func TestFormatBundleEndsWithoutQuestion(t *testing.T) {
	b := BuildBundle(context.Background(), nil, "", nil)
	msg := FormatBundle(b, "Sam")
	assert.True(t, strings.HasPrefix(msg, "Sam, here are some mental health resources"))
	assert.True(t, strings.HasSuffix(msg, SupportiveClosing))
	assert.NotContains(t, SupportiveClosing, "?")
	assert.Contains(t, msg, "988 Suicide & Crisis Lifeline: Call or text 988")
}

func TestGeneratedLocator(t *testing.T) {
	client := replyWith(`{"services": [
		{"name": "Eastside Counselling", "phone": "555-0101", "description": "Sliding scale fees. Need help now?"},
		{"name": "Walk-in Clinic", "address": "12 Main St"},
		{"name": "", "phone": "555-0199"},
		{"name": "No Contact"}
	]}`, nil)
	l := NewGeneratedLocator(NewGateway(client, nil, nil))

	got, err := l.Locate(context.Background(), "Portland")
	require.NoError(t, err)
	assert.Equal(t, []pkg.ResourceEntry{
		{Name: "Eastside Counselling", Contact: "555-0101", Description: "Sliding scale fees."},
		{Name: "Walk-in Clinic", Contact: "12 Main St"},
	}, got)
	reqs := client.calls()
	require.Len(t, reqs, 1)
	assert.True(t, instructionsContain(reqs[0], "in Portland"))
}

func TestGeneratedLocatorFallback(t *testing.T) {
	l := NewGeneratedLocator(NewGateway(llm.Offline{}, nil, nil))
	_, err := l.Locate(context.Background(), "Portland")
	assert.ErrorIs(t, err, ErrNoLocalServices)

	l = NewGeneratedLocator(NewGateway(replyWith(`{"services": [{"name": "x"}]}`, nil), nil, nil))
	_, err = l.Locate(context.Background(), "Portland")
	assert.ErrorIs(t, err, ErrNoLocalServices)
}

func TestStripQuestions(t *testing.T) {
	assert.Equal(t, "Call us.", stripQuestions("Call us. Need help?"))
	assert.Equal(t, "", stripQuestions("Need help?"))
	assert.Equal(t, "Open daily.", stripQuestions(" Open daily. "))
}
