package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"intake-chatbot/pkg"
)

// Store persists sessions for the clinician side.  Every method is best
// effort from the conversation's point of view: failures are logged and the
// turn goes on.
type Store interface {
	CreateSession(ctx context.Context, s pkg.Session) error
	AppendTurns(ctx context.Context, sessionID string, turns []pkg.Turn) error
	SaveDigest(ctx context.Context, sessionID string, d pkg.Digest) error
	CloseSession(ctx context.Context, sessionID string, at time.Time) error
}

// StateCache mirrors live conversation state for dashboards.
type StateCache interface {
	Put(ctx context.Context, sessionID string, st pkg.ConversationState) error
	Delete(ctx context.Context, sessionID string) error
}

// Discard reasons reported on a TurnResponse.
const (
	ReasonEcho      = "echo"
	ReasonListening = "listening_suspended"
)

// Session is one live intake conversation.  Turns are processed strictly
// one at a time: the echo guard, the stepper and all generation calls for a
// turn finish before the next turn is looked at.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	stepper    *Stepper
	guard      EchoGuard
	gate       *ListenGate
	messageCap int
	closed     *time.Time
	lastActive time.Time

	listenMu sync.Mutex
	listener func(listening bool)

	store   Store
	cache   StateCache
	log     *zap.Logger
	metrics Recorder
	now     func() time.Time
}

// State returns the current conversation state.
func (s *Session) State() pkg.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepper.State()
}

// View returns the session, its state and transcript for dashboards.
func (s *Session) View() pkg.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pkg.SessionView{
		Session:    s.info(),
		State:      s.stepper.State(),
		Transcript: s.stepper.Transcript(),
		Digest:     s.stepper.Digest(),
	}
}

func (s *Session) info() pkg.Session {
	return pkg.Session{ID: s.ID, CreatedAt: s.CreatedAt, ClosedAt: s.closed, MessageCap: s.messageCap}
}

// Transitions returns the stage changes recorded so far.
func (s *Session) Transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepper.Transitions()
}

// OnListenChange registers the callback told when capture must stop or may
// resume.  Passing nil removes it.
func (s *Session) OnListenChange(fn func(listening bool)) {
	s.listenMu.Lock()
	s.listener = fn
	s.listenMu.Unlock()
}

func (s *Session) notifyListen(listening bool) {
	s.listenMu.Lock()
	fn := s.listener
	s.listenMu.Unlock()
	if fn != nil {
		fn(listening)
	}
}

// PlaybackStarted and PlaybackEnded relay speech synthesis events to the
// listening gate.
func (s *Session) PlaybackStarted() { s.gate.PlaybackStarted() }

func (s *Session) PlaybackEnded() { s.gate.PlaybackEnded() }

// Listening reports whether captured input is currently accepted.
func (s *Session) Listening() bool { return s.gate.Listening() }

// SetPlace records the resolved location granted by the device.
func (s *Session) SetPlace(place pkg.Place) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepper.SetPlace(place.Name)
}

func (s *Session) start(ctx context.Context) (pkg.TurnResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.stepper.Start(ctx)
	if err != nil {
		return pkg.TurnResponse{}, err
	}
	s.persist(ctx, out)
	return pkg.TurnResponse{Messages: out.Messages, State: out.State}, nil
}

// HandleTranscript processes one transcribed user utterance.  Input heard
// while listening is suspended, or recognised as an echo of the assistant,
// is dropped and reported as Discarded without touching the conversation.
func (s *Session) HandleTranscript(ctx context.Context, text string) (pkg.TurnResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return pkg.TurnResponse{}, ErrEmptyInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed != nil {
		return pkg.TurnResponse{}, ErrSessionComplete
	}
	s.lastActive = s.now()

	if !s.gate.Listening() {
		s.metrics.EchoDiscarded(ReasonListening)
		s.log.Debug("input while listening suspended", zap.String("session_id", s.ID))
		return pkg.TurnResponse{State: s.stepper.State(), Discarded: true, Reason: ReasonListening}, nil
	}
	if s.guard.IsLikelyEcho(text, s.stepper.RecentAssistant(EchoWindow)) {
		s.metrics.EchoDiscarded(ReasonEcho)
		s.log.Info("discarded likely echo", zap.String("session_id", s.ID))
		s.log.Debug("echo text", zap.String("session_id", s.ID), zap.String("text", clip(text, 40)))
		return pkg.TurnResponse{State: s.stepper.State(), Discarded: true, Reason: ReasonEcho}, nil
	}
	if s.messageCap > 0 && s.stepper.UserTurns() >= s.messageCap {
		return pkg.TurnResponse{Messages: []string{CapMessage}, State: s.stepper.State()}, ErrMessageCap
	}

	out, err := s.stepper.Step(ctx, text)
	if err != nil {
		return pkg.TurnResponse{}, err
	}
	s.persist(ctx, out)
	return pkg.TurnResponse{Messages: out.Messages, State: out.State, ReportID: out.ArtifactRef}, nil
}

// persist writes a committed turn to the optional store and cache.  It uses
// a context detached from the request so a client hanging up does not lose
// already committed turns.
func (s *Session) persist(ctx context.Context, out Outcome) {
	if s.store == nil && s.cache == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if s.store != nil {
		if err := s.store.AppendTurns(pctx, s.ID, out.Turns); err != nil {
			s.log.Error("persist turns", zap.String("session_id", s.ID), zap.Error(err))
		}
		if out.Digest != nil {
			if err := s.store.SaveDigest(pctx, s.ID, *out.Digest); err != nil {
				s.log.Error("persist digest", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
	}
	if s.cache != nil {
		if err := s.cache.Put(pctx, s.ID, out.State); err != nil {
			s.log.Warn("cache state", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
}

func (s *Session) close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed != nil {
		return
	}
	at := s.now().UTC()
	s.closed = &at
	s.gate.Close()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if s.store != nil {
		if err := s.store.CloseSession(pctx, s.ID, at); err != nil {
			s.log.Error("close session", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Delete(pctx, s.ID); err != nil {
			s.log.Warn("drop cached state", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
}

func (s *Session) idleSince(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive.Before(t)
}

// ManagerOptions configures session creation.
type ManagerOptions struct {
	MessageCap int
	EchoSettle time.Duration
	Store      Store
	Cache      StateCache
	Log        *zap.Logger
	Metrics    Recorder
	Now        func() time.Time
	NewID      func() string
}

// Manager is the registry of live sessions.  Sessions share nothing but the
// engine, which is read-only.
type Manager struct {
	engine *Engine
	opts   ManagerOptions

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns an empty registry.
func NewManager(engine *Engine, opts ManagerOptions) *Manager {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	return &Manager{engine: engine, opts: opts, sessions: make(map[string]*Session)}
}

// Create starts a new session and returns it with the greeting.
func (m *Manager) Create(ctx context.Context) (*Session, pkg.TurnResponse, error) {
	now := m.opts.Now()
	s := &Session{
		ID:         m.opts.NewID(),
		CreatedAt:  now.UTC(),
		messageCap: m.opts.MessageCap,
		lastActive: now,
		store:      m.opts.Store,
		cache:      m.opts.Cache,
		log:        m.opts.Log,
		metrics:    m.opts.Metrics,
		now:        m.opts.Now,
	}
	s.stepper = m.engine.NewStepper(s.ID)
	s.gate = NewListenGate(m.opts.EchoSettle, s.notifyListen)
	s.gate.now = m.opts.Now

	if s.store != nil {
		if err := s.store.CreateSession(ctx, s.info()); err != nil {
			m.opts.Log.Error("persist session", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	resp, err := s.start(ctx)
	if err != nil {
		s.gate.Close()
		return nil, pkg.TurnResponse{}, fmt.Errorf("start session: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.opts.Log.Info("session created", zap.String("session_id", s.ID))
	return s, resp, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// End closes and forgets a session.
func (m *Manager) End(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.close(ctx)
	m.opts.Log.Info("session ended", zap.String("session_id", id))
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Expire ends sessions with no input for longer than ttl and returns how
// many were removed.
func (m *Manager) Expire(ctx context.Context, ttl time.Duration) int {
	cutoff := m.opts.Now().Add(-ttl)
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if s.idleSince(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()
	n := 0
	for _, id := range stale {
		if m.End(ctx, id) == nil {
			n++
		}
	}
	return n
}

// clip shortens user text for debug logs.
func clip(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
