package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSufficient(t *testing.T) {
	e := NewEvaluator(testDialogue(t).Topics)

	tests := []struct {
		name  string
		text  string
		topic int
		want  bool
	}{
		{"intro single word", "Sam", 1, true},
		{"closing single word", "yes", 6, true},
		{"intro empty", "   ", 1, false},
		{"closing punctuation only", "?!", 6, false},
		{"substantive two words", "pretty bad", 2, false},
		{"substantive three words", "pretty bad lately", 2, true},
		{"substantive generic", "okay", 3, false},
		{"substantive generic padded", "  Fine ", 4, false},
		{"punctuation does not count", "... - !!", 5, false},
		{"three words with punctuation token", "work , stress , sleep", 5, true},
		{"unknown topic uses single word rule", "hello", 9, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Sufficient(tt.text, tt.topic))
		})
	}
}

func TestSubstantiveTopicsNeedThreeWords(t *testing.T) {
	e := NewEvaluator(testDialogue(t).Topics)
	for topic := 2; topic <= 5; topic++ {
		assert.False(t, e.Sufficient("not really", topic), "topic %d", topic)
		assert.False(t, e.Sufficient("no", topic), "topic %d", topic)
	}
	for _, topic := range []int{1, 6} {
		assert.True(t, e.Sufficient("no", topic), "topic %d", topic)
	}
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, WordCount(""))
	assert.Equal(t, 0, WordCount("  ... ,,, "))
	assert.Equal(t, 3, WordCount("I'm   fine\tthanks"))
	assert.Equal(t, 2, WordCount("24/7 support"))
}
