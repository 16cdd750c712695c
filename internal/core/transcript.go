package core

import (
	"time"

	"intake-chatbot/internal/llm"
	"intake-chatbot/pkg"
)

// Transcript is the append-only conversation log of one session.  It is
// owned by a single session and is not safe for concurrent use; the session
// serialises access.
type Transcript struct {
	turns []pkg.Turn
	now   func() time.Time
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// Append records a turn, stamping it when no timestamp is set.
func (t *Transcript) Append(turn pkg.Turn) pkg.Turn {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = t.now().UTC()
	}
	t.turns = append(t.turns, turn)
	return turn
}

// Snapshot returns a copy of the turns in insertion order.
func (t *Transcript) Snapshot() []pkg.Turn {
	out := make([]pkg.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Len returns the number of turns recorded.
func (t *Transcript) Len() int { return len(t.turns) }

// UserTurns counts the turns authored by the user.
func (t *Transcript) UserTurns() int {
	n := 0
	for _, turn := range t.turns {
		if turn.Role == pkg.RoleUser {
			n++
		}
	}
	return n
}

// RecentAssistant returns up to n of the latest assistant texts, newest last.
func (t *Transcript) RecentAssistant(n int) []string {
	return recentAssistant(t.turns, n)
}

func recentAssistant(turns []pkg.Turn, n int) []string {
	var out []string
	for i := len(turns) - 1; i >= 0 && len(out) < n; i-- {
		if turns[i].Role == pkg.RoleAssistant {
			out = append(out, turns[i].Text)
		}
	}
	// restore chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func toMessages(turns []pkg.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Text})
	}
	return msgs
}
