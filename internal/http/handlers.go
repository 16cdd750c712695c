package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"intake-chatbot/internal/cache"
	"intake-chatbot/internal/core"
	"intake-chatbot/internal/db"
	"intake-chatbot/pkg"
)

// Geocoder resolves granted coordinates to a place.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (pkg.Place, error)
}

// ReportSource loads stored reports.
type ReportSource interface {
	LatestReport(ctx context.Context, sessionID string) (*pkg.Report, error)
}

// StateSource reads mirrored state of sessions held elsewhere.
type StateSource interface {
	Get(ctx context.Context, sessionID string) (*pkg.ConversationState, error)
}

// Options bundles the dependencies of the HTTP layer.  Everything except
// Sessions is optional.
type Options struct {
	Sessions *core.Manager
	Geocoder Geocoder
	Reports  ReportSource
	States   StateSource
	Events   *Broadcaster
	Metrics  http.Handler
	Log      *zap.Logger
}

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to an http.Server.
type Server struct {
	sessions *core.Manager
	geocoder Geocoder
	reports  ReportSource
	states   StateSource
	events   *Broadcaster
	log      *zap.Logger
	router   *mux.Router
}

// NewServer constructs a Server and its routes.
func NewServer(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	s := &Server{
		sessions: opts.Sessions,
		geocoder: opts.Geocoder,
		reports:  opts.Reports,
		states:   opts.States,
		events:   opts.Events,
		log:      opts.Log,
		router:   mux.NewRouter(),
	}
	r := s.router
	r.Use(s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleEndSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/turns", s.handlePostTurn).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/playback", s.handlePlayback).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/location", s.handleLocation).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/report", s.handleGetReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/stream", s.handleReportStream).Methods(http.MethodGet)

	r.HandleFunc("/ws/sessions/{id}", s.handleVoice).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	return s
}

// ServeHTTP dispatches to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type createSessionResponse struct {
	SessionID string                `json:"session_id"`
	State     pkg.ConversationState `json:"state"`
	Messages  []string              `json:"messages"`
}

// handleCreateSession starts a session and returns its greeting.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, resp, err := s.sessions.Create(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		State:     resp.State,
		Messages:  resp.Messages,
	})
}

// handleGetSession returns state and transcript.  Sessions owned by another
// instance are answered from the state cache, without a transcript.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.sessions.Get(id)
	if err == nil {
		writeJSON(w, http.StatusOK, sess.View())
		return
	}
	if s.states != nil {
		st, cerr := s.states.Get(r.Context(), id)
		if cerr == nil {
			writeJSON(w, http.StatusOK, pkg.SessionView{Session: pkg.Session{ID: id}, State: *st})
			return
		}
		if !errors.Is(cerr, cache.ErrMiss) {
			s.log.Warn("state cache lookup", zap.String("session_id", id), zap.Error(cerr))
		}
	}
	s.writeError(w, err)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePostTurn processes one transcribed utterance.
func (s *Server) handlePostTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req pkg.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := sess.HandleTranscript(r.Context(), req.Text)
	if errors.Is(err, core.ErrMessageCap) {
		writeJSON(w, http.StatusTooManyRequests, resp)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePlayback relays speech playback events to the listening gate.
func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req pkg.PlaybackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !applyPlayback(sess, req.Event) {
		writeErrorMessage(w, http.StatusBadRequest, `event must be "started" or "ended"`)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"listening": sess.Listening()})
}

func applyPlayback(sess *core.Session, event string) bool {
	switch event {
	case "started", "playback_started":
		sess.PlaybackStarted()
	case "ended", "playback_ended":
		sess.PlaybackEnded()
	default:
		return false
	}
	return true
}

type locationResponse struct {
	Resolved bool       `json:"resolved"`
	Place    *pkg.Place `json:"place,omitempty"`
}

// handleLocation resolves granted coordinates.  A failed lookup is not an
// error: the session simply carries on without a location.
func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req pkg.LocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.geocoder == nil {
		writeJSON(w, http.StatusOK, locationResponse{})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	place, err := s.geocoder.Reverse(ctx, req.Latitude, req.Longitude)
	if err != nil {
		s.log.Info("location not resolved", zap.String("session_id", sess.ID), zap.Error(err))
		writeJSON(w, http.StatusOK, locationResponse{})
		return
	}
	sess.SetPlace(place)
	writeJSON(w, http.StatusOK, locationResponse{Resolved: true, Place: &place})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeErrorMessage(w, http.StatusNotFound, "reports are not stored")
		return
	}
	rep, err := s.reports.LatestReport(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, db.ErrNotFound) {
		writeErrorMessage(w, http.StatusNotFound, "no report for session")
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*core.Session, bool) {
	sess, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrSessionComplete):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrEmptyInput):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeErrorMessage(w, http.StatusServiceUnavailable, "request abandoned")
	default:
		s.log.Error("request failed", zap.Error(err))
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
