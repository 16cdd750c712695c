package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"intake-chatbot/internal/llm"
	"intake-chatbot/pkg"
)

type memoryStore struct {
	mu      sync.Mutex
	created []pkg.Session
	turns   map[string][]pkg.Turn
	digests map[string]pkg.Digest
	closed  map[string]time.Time
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		turns:   make(map[string][]pkg.Turn),
		digests: make(map[string]pkg.Digest),
		closed:  make(map[string]time.Time),
	}
}

func (m *memoryStore) CreateSession(_ context.Context, s pkg.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, s)
	return m.err
}

func (m *memoryStore) AppendTurns(_ context.Context, id string, turns []pkg.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.turns[id] = append(m.turns[id], turns...)
	return nil
}

func (m *memoryStore) SaveDigest(_ context.Context, id string, d pkg.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.digests[id] = d
	return m.err
}

func (m *memoryStore) CloseSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[id] = at
	return m.err
}

type memoryCache struct {
	mu     sync.Mutex
	states map[string]pkg.ConversationState
}

func (c *memoryCache) Put(_ context.Context, id string, st pkg.ConversationState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states == nil {
		c.states = make(map[string]pkg.ConversationState)
	}
	c.states[id] = st
	return nil
}

func (c *memoryCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, id)
	return nil
}

func newTestManager(t *testing.T, opts ManagerOptions) *Manager {
	t.Helper()
	return NewManager(newTestEngine(t, llm.Offline{}), opts)
}

func TestManagerLifecycle(t *testing.T) {
	store := newMemoryStore()
	cache := &memoryCache{}
	m := newTestManager(t, ManagerOptions{MessageCap: 50, Store: store, Cache: cache})

	s, resp, err := m.Create(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, pkg.StageTopic, resp.State.Stage)
	assert.Equal(t, 1, m.Len())

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Len(t, store.created, 1)
	assert.Len(t, store.turns[s.ID], 1)
	assert.Equal(t, 1, cache.states[s.ID].TopicIndex)

	require.NoError(t, m.End(context.Background(), s.ID))
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.End(context.Background(), s.ID), ErrSessionNotFound)
	assert.Contains(t, store.closed, s.ID)
	assert.NotContains(t, cache.states, s.ID)

	_, err = s.HandleTranscript(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrSessionComplete)
}

func TestHandleTranscriptAdvances(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	s, _, err := m.Create(context.Background())
	require.NoError(t, err)

	resp, err := s.HandleTranscript(context.Background(), "  Sam ")
	require.NoError(t, err)
	assert.False(t, resp.Discarded)
	assert.Equal(t, 2, resp.State.TopicIndex)
	assert.Len(t, s.View().Transcript, 3)

	_, err = s.HandleTranscript(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestHandleTranscriptDiscardsEcho(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	s, resp, err := m.Create(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Hello, I'm here to listen and support you. What is your name?", resp.Messages[0])

	got, err := s.HandleTranscript(context.Background(), "here to listen and support you")
	require.NoError(t, err)
	assert.True(t, got.Discarded)
	assert.Equal(t, ReasonEcho, got.Reason)
	assert.Equal(t, 1, s.State().TopicIndex)
	assert.Len(t, s.View().Transcript, 1)
}

func TestHandleTranscriptWhileSpeaking(t *testing.T) {
	var mu sync.Mutex
	var events []bool
	m := newTestManager(t, ManagerOptions{})
	s, _, err := m.Create(context.Background())
	require.NoError(t, err)
	s.OnListenChange(func(on bool) {
		mu.Lock()
		events = append(events, on)
		mu.Unlock()
	})
	defer func() { require.NoError(t, m.End(context.Background(), s.ID)) }()

	s.PlaybackStarted()
	got, err := s.HandleTranscript(context.Background(), "Sam")
	require.NoError(t, err)
	assert.True(t, got.Discarded)
	assert.Equal(t, ReasonListening, got.Reason)
	assert.Equal(t, 1, s.State().TopicIndex)

	s.PlaybackEnded()
	require.Eventually(t, s.Listening, time.Second, 5*time.Millisecond)
	got, err = s.HandleTranscript(context.Background(), "Sam")
	require.NoError(t, err)
	assert.False(t, got.Discarded)
	assert.Equal(t, 2, got.State.TopicIndex)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{false, true}, events)
}

func TestMessageCap(t *testing.T) {
	m := newTestManager(t, ManagerOptions{MessageCap: 2})
	s, _, err := m.Create(context.Background())
	require.NoError(t, err)

	for _, answer := range sufficientAnswers[:2] {
		_, err := s.HandleTranscript(context.Background(), answer)
		require.NoError(t, err)
	}
	resp, err := s.HandleTranscript(context.Background(), "It started a few months ago")
	assert.ErrorIs(t, err, ErrMessageCap)
	assert.Equal(t, []string{CapMessage}, resp.Messages)
	assert.Equal(t, 3, s.State().TopicIndex)
}

func TestPersistenceFailuresAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := newMemoryStore()
	store.err = errors.New("connection refused")
	m := newTestManager(t, ManagerOptions{Store: store, Log: zap.New(core)})

	s, _, err := m.Create(context.Background())
	require.NoError(t, err)
	resp, err := s.HandleTranscript(context.Background(), "Sam")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.State.TopicIndex)

	assert.Equal(t, 1, logs.FilterMessage("persist session").Len())
	assert.Equal(t, 2, logs.FilterMessage("persist turns").Len())
}

func TestExpireIdleSessions(t *testing.T) {
	clock := &fakeClock{now: time.Unix(5000, 0)}
	m := newTestManager(t, ManagerOptions{Now: clock.Now})
	stale, _, err := m.Create(context.Background())
	require.NoError(t, err)
	clock.Advance(90 * time.Minute)
	fresh, _, err := m.Create(context.Background())
	require.NoError(t, err)
	clock.Advance(40 * time.Minute)

	assert.Equal(t, 1, m.Expire(context.Background(), 2*time.Hour))
	_, err = m.Get(stale.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestSessionsAreIsolated(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	const n = 4
	sessions := make([]*Session, n)
	for i := range sessions {
		s, _, err := m.Create(context.Background())
		require.NoError(t, err)
		sessions[i] = s
	}

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			// session i answers i+1 topics
			for _, answer := range sufficientAnswers[:i+1] {
				_, err := s.HandleTranscript(context.Background(), answer)
				assert.NoError(t, err)
			}
		}(i, s)
	}
	wg.Wait()
	for i, s := range sessions {
		assert.Equal(t, i+2, s.State().TopicIndex, fmt.Sprintf("session %d", i))
	}
}

func TestConcurrentTurnsAreSerialised(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	s, _, err := m.Create(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.HandleTranscript(context.Background(), fmt.Sprintf("answer number %d here", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	view := s.View()
	assert.Equal(t, 6, s.State().TopicIndex)
	// greeting plus one user and one assistant turn per answer, never interleaved
	require.Len(t, view.Transcript, 11)
	for i := 1; i < len(view.Transcript); i += 2 {
		assert.Equal(t, pkg.RoleUser, view.Transcript[i].Role)
		assert.Equal(t, pkg.RoleAssistant, view.Transcript[i+1].Role)
	}
}
