package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// Broadcaster fans report notifications out to connected stream clients.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan string]struct{})}
}

// Subscribe registers a listener.  The returned func unsubscribes and must be
// called exactly once.
func (b *Broadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 8)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

// Publish delivers id to every subscriber with room for it.  Slow
// subscribers miss the event.
func (b *Broadcaster) Publish(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- id:
		default:
		}
	}
}

// Run publishes everything received on in until it closes or ctx is done.
func (b *Broadcaster) Run(ctx context.Context, in <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-in:
			if !ok {
				return nil
			}
			b.Publish(id)
		}
	}
}

// handleReportStream writes a server sent event for each stored report.
func (s *Server) handleReportStream(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeErrorMessage(w, http.StatusNotFound, "report stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events, cancel := s.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case id := <-events:
			fmt.Fprintf(w, "event: report_ready\ndata: %s\n\n", id)
			flusher.Flush()
		}
	}
}
