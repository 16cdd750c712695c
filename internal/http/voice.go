package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"intake-chatbot/internal/core"
	"intake-chatbot/pkg"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame types exchanged on the voice channel.
const (
	FrameTranscript      = "transcript"
	FramePlaybackStarted = "playback_started"
	FramePlaybackEnded   = "playback_ended"
	FrameAssistant       = "assistant"
	FrameListening       = "listening"
	FrameDiscarded       = "discarded"
	FrameError           = "error"
)

// Frame is one JSON message on the voice channel.
type Frame struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	Messages  []string               `json:"messages,omitempty"`
	State     *pkg.ConversationState `json:"state,omitempty"`
	Listening *bool                  `json:"listening,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

type voiceConn struct {
	sess *core.Session
	conn *websocket.Conn
	send chan Frame
	done chan struct{}
	log  *zap.Logger
}

// handleVoice upgrades to a websocket carrying transcripts in and assistant
// speech out.  Listening changes from the gate are pushed so the client can
// pause capture during playback.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	vc := &voiceConn{
		sess: sess,
		conn: conn,
		send: make(chan Frame, sendBuffer),
		done: make(chan struct{}),
		log:  s.log.With(zap.String("session_id", sess.ID)),
	}
	sess.OnListenChange(func(listening bool) {
		vc.push(Frame{Type: FrameListening, Listening: &listening})
	})

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		vc.writePump()
	}()
	vc.readPump(r.Context())

	sess.OnListenChange(nil)
	close(vc.done)
	<-finished
}

// push queues a frame unless the connection is gone or the client stopped
// reading.
func (vc *voiceConn) push(f Frame) {
	select {
	case <-vc.done:
	case vc.send <- f:
	default:
		vc.log.Warn("voice frame dropped", zap.String("type", f.Type))
	}
}

func (vc *voiceConn) readPump(ctx context.Context) {
	defer vc.conn.Close()

	vc.conn.SetReadLimit(maxMessageSize)
	vc.conn.SetReadDeadline(time.Now().Add(pongWait))
	vc.conn.SetPongHandler(func(string) error {
		vc.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var in Frame
		if err := vc.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				vc.log.Warn("websocket read", zap.Error(err))
			}
			return
		}
		vc.handle(ctx, in)
	}
}

func (vc *voiceConn) handle(ctx context.Context, in Frame) {
	switch in.Type {
	case FrameTranscript:
		resp, err := vc.sess.HandleTranscript(ctx, in.Text)
		switch {
		case errors.Is(err, core.ErrEmptyInput):
			return
		case err != nil && !errors.Is(err, core.ErrMessageCap):
			vc.push(Frame{Type: FrameError, Error: err.Error()})
			return
		}
		if resp.Discarded {
			vc.push(Frame{Type: FrameDiscarded, Reason: resp.Reason})
			return
		}
		st := resp.State
		vc.push(Frame{Type: FrameAssistant, Messages: resp.Messages, State: &st})
	case FramePlaybackStarted:
		vc.sess.PlaybackStarted()
	case FramePlaybackEnded:
		vc.sess.PlaybackEnded()
	default:
		vc.push(Frame{Type: FrameError, Error: "unknown frame type " + in.Type})
	}
}

func (vc *voiceConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		vc.conn.Close()
	}()

	for {
		select {
		case <-vc.done:
			vc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			vc.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case f := <-vc.send:
			vc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := vc.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			vc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := vc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
