package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-chatbot/internal/cache"
	"intake-chatbot/internal/config"
	"intake-chatbot/internal/core"
	"intake-chatbot/internal/db"
	"intake-chatbot/internal/llm"
	"intake-chatbot/pkg"
)

const greeting = "Hello, I'm here to listen and support you. What is your name?"

type stubGeocoder struct {
	place pkg.Place
	err   error
}

func (g stubGeocoder) Reverse(_ context.Context, lat, lon float64) (pkg.Place, error) {
	if g.err != nil {
		return pkg.Place{}, g.err
	}
	p := g.place
	p.Latitude, p.Longitude = lat, lon
	return p, nil
}

type stubReports map[string]*pkg.Report

func (s stubReports) LatestReport(_ context.Context, id string) (*pkg.Report, error) {
	if rep, ok := s[id]; ok {
		return rep, nil
	}
	return nil, db.ErrNotFound
}

type stubStates map[string]pkg.ConversationState

func (s stubStates) Get(_ context.Context, id string) (*pkg.ConversationState, error) {
	if st, ok := s[id]; ok {
		return &st, nil
	}
	return nil, cache.ErrMiss
}

func newTestManager(t *testing.T, opts core.ManagerOptions) *core.Manager {
	t.Helper()
	d, err := config.DefaultDialogue()
	require.NoError(t, err)
	e, err := core.NewEngine(core.EngineOptions{
		Dialogue: d,
		Client:   llm.Offline{},
		Pick:     func(int) int { return 0 },
	})
	require.NoError(t, err)
	return core.NewManager(e, opts)
}

func newTestServer(t *testing.T, mod func(*Options)) (*Server, *core.Manager) {
	t.Helper()
	m := newTestManager(t, core.ManagerOptions{MessageCap: 50, EchoSettle: time.Millisecond})
	opts := Options{Sessions: m}
	if mod != nil {
		mod(&opts)
	}
	return NewServer(opts), m
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func createSession(t *testing.T, h http.Handler) createSessionResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[createSessionResponse](t, rec)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateAndTurn(t *testing.T) {
	srv, m := newTestServer(t, nil)
	created := createSession(t, srv)
	defer m.End(context.Background(), created.SessionID)

	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, []string{greeting}, created.Messages)
	assert.Equal(t, 1, created.State.TopicIndex)

	rec := do(t, srv, http.MethodPost, "/api/sessions/"+created.SessionID+"/turns", pkg.TurnRequest{Text: "Sam"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[pkg.TurnResponse](t, rec)
	assert.False(t, resp.Discarded)
	assert.Equal(t, 2, resp.State.TopicIndex)
	assert.NotEmpty(t, resp.Messages)

	rec = do(t, srv, http.MethodGet, "/api/sessions/"+created.SessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[pkg.SessionView](t, rec)
	assert.Len(t, view.Transcript, 3)
}

func TestTurnErrors(t *testing.T) {
	srv, m := newTestServer(t, nil)
	created := createSession(t, srv)
	path := "/api/sessions/" + created.SessionID + "/turns"

	rec := do(t, srv, http.MethodPost, path, pkg.TurnRequest{Text: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString("{not json"))
	bad := httptest.NewRecorder()
	srv.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	rec = do(t, srv, http.MethodPost, "/api/sessions/missing/turns", pkg.TurnRequest{Text: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/sessions/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodDelete, "/api/sessions/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, m.Len())
}

func TestTurnMessageCap(t *testing.T) {
	m := newTestManager(t, core.ManagerOptions{MessageCap: 1})
	srv := NewServer(Options{Sessions: m})
	created := createSession(t, srv)
	defer m.End(context.Background(), created.SessionID)
	path := "/api/sessions/" + created.SessionID + "/turns"

	rec := do(t, srv, http.MethodPost, path, pkg.TurnRequest{Text: "Sam"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, srv, http.MethodPost, path, pkg.TurnRequest{Text: "I feel anxious"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decode[pkg.TurnResponse](t, rec)
	assert.Equal(t, []string{core.CapMessage}, resp.Messages)
}

func TestPlayback(t *testing.T) {
	srv, m := newTestServer(t, nil)
	created := createSession(t, srv)
	defer m.End(context.Background(), created.SessionID)
	base := "/api/sessions/" + created.SessionID

	rec := do(t, srv, http.MethodPost, base+"/playback", pkg.PlaybackRequest{Event: "started"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"listening":false}`, rec.Body.String())

	rec = do(t, srv, http.MethodPost, base+"/turns", pkg.TurnRequest{Text: "Sam"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[pkg.TurnResponse](t, rec)
	assert.True(t, resp.Discarded)
	assert.Equal(t, core.ReasonListening, resp.Reason)

	rec = do(t, srv, http.MethodPost, base+"/playback", pkg.PlaybackRequest{Event: "ended"})
	require.Equal(t, http.StatusOK, rec.Code)
	sess, err := m.Get(created.SessionID)
	require.NoError(t, err)
	require.Eventually(t, sess.Listening, time.Second, 5*time.Millisecond)

	rec = do(t, srv, http.MethodPost, base+"/playback", pkg.PlaybackRequest{Event: "paused"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocation(t *testing.T) {
	srv, m := newTestServer(t, func(o *Options) {
		o.Geocoder = stubGeocoder{place: pkg.Place{Name: "Portland, Oregon"}}
	})
	created := createSession(t, srv)
	defer m.End(context.Background(), created.SessionID)

	rec := do(t, srv, http.MethodPost, "/api/sessions/"+created.SessionID+"/location",
		pkg.LocationRequest{Latitude: 45.5, Longitude: -122.6})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[locationResponse](t, rec)
	assert.True(t, got.Resolved)
	require.NotNil(t, got.Place)
	assert.Equal(t, "Portland, Oregon", got.Place.Name)
	assert.Equal(t, 45.5, got.Place.Latitude)
}

func TestLocationUnresolved(t *testing.T) {
	srv, m := newTestServer(t, func(o *Options) {
		o.Geocoder = stubGeocoder{err: errors.New("timeout")}
	})
	created := createSession(t, srv)
	defer m.End(context.Background(), created.SessionID)

	rec := do(t, srv, http.MethodPost, "/api/sessions/"+created.SessionID+"/location",
		pkg.LocationRequest{Latitude: 1, Longitude: 2})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"resolved":false}`, rec.Body.String())
}

func TestGetSessionFromStateCache(t *testing.T) {
	srv, _ := newTestServer(t, func(o *Options) {
		o.States = stubStates{"elsewhere": {Stage: pkg.StageConsent}}
	})
	rec := do(t, srv, http.MethodGet, "/api/sessions/elsewhere", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[pkg.SessionView](t, rec)
	assert.Equal(t, "elsewhere", view.Session.ID)
	assert.Equal(t, pkg.StageConsent, view.State.Stage)

	rec = do(t, srv, http.MethodGet, "/api/sessions/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReport(t *testing.T) {
	srv, _ := newTestServer(t, func(o *Options) {
		o.Reports = stubReports{"s1": {ID: "r1", SessionID: "s1", Summary: "summary"}}
	})
	rec := do(t, srv, http.MethodGet, "/api/sessions/s1/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r1", decode[pkg.Report](t, rec).ID)

	rec = do(t, srv, http.MethodGet, "/api/sessions/s2/report", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	srv, _ := newTestServer(t, func(o *Options) {
		o.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("intake_live_sessions 0\n"))
		})
	})
	rec := do(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "intake_live_sessions")
}
