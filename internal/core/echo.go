package core

import (
	"strings"
	"sync"
	"time"
	"unicode"
)

// Echo detection parameters.
const (
	EchoWindow       = 5  // assistant turns compared against
	EchoMinTurnChars = 10 // shorter assistant turns are ignored
	EchoRunWords     = 3  // words in a shared run
	EchoMinRunChars  = 10 // a shared run must be longer than this
)

// EchoGuard recognises transcribed input that reproduces the assistant's own
// synthesized speech.  A single shared keyword is never enough; the overlap
// has to be a multi-word run so genuine speech is rarely dropped.
type EchoGuard struct{}

// IsLikelyEcho reports whether candidate is probably a playback artifact of
// one of the recent assistant turns.  Only the last EchoWindow turns are
// considered.
func (EchoGuard) IsLikelyEcho(candidate string, recentAssistant []string) bool {
	cand := normalizeSpeech(candidate)
	if cand == "" {
		return false
	}
	if len(recentAssistant) > EchoWindow {
		recentAssistant = recentAssistant[len(recentAssistant)-EchoWindow:]
	}
	candWords := strings.Fields(cand)
	for _, turn := range recentAssistant {
		said := normalizeSpeech(turn)
		if len(said) < EchoMinTurnChars {
			continue
		}
		padded := " " + said + " "
		if strings.Contains(padded, " "+cand+" ") {
			return true
		}
		for i := 0; i+EchoRunWords <= len(candWords); i++ {
			run := strings.Join(candWords[i:i+EchoRunWords], " ")
			if len(run) > EchoMinRunChars && strings.Contains(padded, " "+run+" ") {
				return true
			}
		}
	}
	return false
}

// normalizeSpeech lower-cases s, drops punctuation other than apostrophes
// and collapses whitespace, so transcription quirks don't hide an echo.
func normalizeSpeech(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r), r == '\'':
			return r
		case r == '’':
			return '\''
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// ListenGate enforces the capture window around speech playback: nothing is
// heard while audio plays, and listening resumes only a settle delay after
// playback ends.  It is safe for concurrent use; playback events and
// transcripts arrive from different goroutines.
type ListenGate struct {
	mu       sync.Mutex
	settle   time.Duration
	now      func() time.Time
	playing  int
	resumeAt time.Time
	timer    *time.Timer
	onChange func(listening bool)
	closed   bool
}

// NewListenGate returns an open gate.  onChange, if set, is called when
// listening is suspended or resumed, so the speech collaborator can stop and
// restart capture.
func NewListenGate(settle time.Duration, onChange func(listening bool)) *ListenGate {
	return &ListenGate{settle: settle, now: time.Now, onChange: onChange}
}

// PlaybackStarted suspends listening.  Overlapping playbacks nest.
func (g *ListenGate) PlaybackStarted() {
	g.mu.Lock()
	g.playing++
	first := g.playing == 1
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	notify := g.onChange
	closed := g.closed
	g.mu.Unlock()

	if first && notify != nil && !closed {
		notify(false)
	}
}

// PlaybackEnded schedules listening to resume after the settle delay.
// Unmatched calls are ignored.
func (g *ListenGate) PlaybackEnded() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.playing == 0 {
		return
	}
	g.playing--
	if g.playing > 0 {
		return
	}
	g.resumeAt = g.now().Add(g.settle)
	if g.onChange != nil && !g.closed {
		notify := g.onChange
		g.timer = time.AfterFunc(g.settle, func() {
			g.mu.Lock()
			live := g.playing == 0 && !g.closed
			g.timer = nil
			g.mu.Unlock()
			if live {
				notify(true)
			}
		})
	}
}

// Listening reports whether captured input may currently be accepted.
func (g *ListenGate) Listening() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.playing == 0 && !g.now().Before(g.resumeAt)
}

// Close cancels a pending resume notification.
func (g *ListenGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
