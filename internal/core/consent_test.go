package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-chatbot/pkg"
)

func TestClassifyConsent(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"sure, that would help", true},
		{"no thanks", false},
		{"", true}, // no negative word present, so help is offered
		{"Yes please", true},
		{"I'd be willing", true},
		{"nope", false},
		{"I don't think so", false},
		{"not sure", true}, // affirmative and negative together resolve to help
		{"I would like that", true},
		{"hmm", true},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyConsent(tt.reply))
		})
	}
}

func TestIdentityExtract(t *testing.T) {
	x, err := NewIdentityExtractor(testDialogue(t).Concerns)
	require.NoError(t, err)

	id := x.Extract([]pkg.Turn{
		{Role: pkg.RoleAssistant, Text: "Hello, what is your name? I'm Ava, by the way."},
		{Role: pkg.RoleUser, Text: "I'm feeling tired. My name is jordan"},
		{Role: pkg.RoleUser, Text: "I live in Portland, Oregon"},
		{Role: pkg.RoleUser, Text: "I've been so stressed and I can't sleep"},
	})
	assert.Equal(t, "Jordan", id.Name)
	assert.Equal(t, "Portland", id.Location)
	assert.Equal(t, []string{"stress", "sleep issues"}, id.Concerns)
}

func TestIdentitySingleWordFirstAnswer(t *testing.T) {
	x, err := NewIdentityExtractor(nil)
	require.NoError(t, err)

	id := x.Extract([]pkg.Turn{{Role: pkg.RoleUser, Text: "Sam."}})
	assert.Equal(t, "Sam", id.Name)

	id = x.Extract([]pkg.Turn{{Role: pkg.RoleUser, Text: "okay"}})
	assert.Empty(t, id.Name)
	assert.Empty(t, id.Concerns)
}

func TestIdentityNameOnlyFromEarlyTurns(t *testing.T) {
	x, err := NewIdentityExtractor(nil)
	require.NoError(t, err)
	turns := make([]pkg.Turn, 0, 7)
	for i := 0; i < identityScanTurns; i++ {
		turns = append(turns, pkg.Turn{Role: pkg.RoleUser, Text: "it has been a long week"})
	}
	turns = append(turns, pkg.Turn{Role: pkg.RoleUser, Text: "call me Riley"})
	assert.Empty(t, x.Extract(turns).Name)
}

func TestExtractLocationBounds(t *testing.T) {
	assert.Equal(t, "Leeds", extractLocation("I'm based in Leeds and I work nights"))
	assert.Empty(t, extractLocation("I'm in NY"))
	assert.Empty(t, extractLocation("nothing about places"))
}
