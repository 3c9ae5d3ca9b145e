// Package server exposes server-mode live sessions over WebSocket.
//
// A peer connects to /ws with a user_id query parameter (or an X-User-ID
// header). Binary messages from the peer are raw PCM frames forwarded to the
// session; text messages are JSON [ClientMessage] values. Model audio comes
// back as binary messages and everything else as JSON [live.ControlMessage]
// text messages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/internal/live"
	"github.com/MrWong99/parley/internal/observe"
)

// DefaultReadLimit bounds one inbound message. A 20 ms frame at 48 kHz is
// under 2 KiB; the limit leaves room for larger client-side buffers.
const DefaultReadLimit = 64 << 10

// ClientType identifies an inbound text message.
type ClientType string

const (
	// ClientInterrupt asks the model to stop the reply in progress.
	ClientInterrupt ClientType = "interrupt"

	// ClientEnd ends the session; the server persists it and closes the socket.
	ClientEnd ClientType = "end"
)

// ClientMessage is the JSON shape of inbound text messages.
type ClientMessage struct {
	Type ClientType `json:"type"`
}

// Sessions creates and tears down server sessions. It is implemented by
// app.SessionManager.
type Sessions interface {
	// Open creates an idle session that delivers to peer.
	Open(peer live.Peer) (*live.ServerSession, error)

	// Close disconnects and forgets the session with the given ID.
	Close(ctx context.Context, id string) error
}

// Handler upgrades HTTP requests to WebSocket peers, one session per socket.
type Handler struct {
	sessions       Sessions
	originPatterns []string
	writeTimeout   time.Duration
	readLimit      int64
}

// Option configures a [Handler].
type Option func(*Handler)

// WithOriginPatterns sets the host patterns accepted for cross-origin
// upgrades. By default only same-origin requests are accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.originPatterns = patterns }
}

// WithWriteTimeout bounds each outbound message. Default 5 s.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) { h.writeTimeout = d }
}

// WithReadLimit bounds each inbound message. Default [DefaultReadLimit].
func WithReadLimit(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.readLimit = n
		}
	}
}

// New returns a Handler serving sessions from sessions.
func New(sessions Sessions, opts ...Option) *Handler {
	h := &Handler{
		sessions:     sessions,
		writeTimeout: defaultWriteTimeout,
		readLimit:    DefaultReadLimit,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the handler at GET /ws on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /ws", h)
}

// ServeHTTP implements [http.Handler]. It blocks for the lifetime of the
// socket and disconnects the session when the peer goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	log := observe.Logger(r.Context()).With(observe.KeyUserID, userID)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		log.Warn("server: websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(h.readLimit)

	peer := newPeer(conn, h.writeTimeout)
	sess, err := h.sessions.Open(peer)
	if err != nil {
		log.Warn("server: open session", "err", err)
		_ = conn.Close(websocket.StatusTryAgainLater, "server is shutting down")
		return
	}
	ctx, cancel := context.WithCancel(observe.WithSession(r.Context(), sess.SessionID(), userID))
	defer cancel()
	log = observe.Logger(ctx)
	log.Info("server: peer connected", "remote", r.RemoteAddr)

	defer func() {
		if err := h.sessions.Close(context.WithoutCancel(ctx), sess.SessionID()); err != nil {
			log.Warn("server: session closed with errors", "err", err)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
		log.Info("server: peer disconnected")
	}()

	// Connecting runs alongside the read loop so that early frames land in
	// the session backlog.
	go func() {
		if err := sess.Start(ctx, userID); err != nil {
			if !errors.Is(err, live.ErrClosed) {
				log.Warn("server: session start failed", "err", err)
			}
			cancel()
			return
		}
		select {
		case <-sess.Done():
			log.Debug("server: upstream session ended")
			cancel()
		case <-ctx.Done():
		}
	}()

	h.readLoop(ctx, conn, peer, sess, log)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, peer *wsPeer, sess *live.ServerSession, log *slog.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				log.Debug("server: peer closed", "status", status)
			} else if ctx.Err() == nil {
				log.Debug("server: read", "err", err)
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if err := sess.SendAudio(data); err != nil {
				if errors.Is(err, live.ErrClosed) {
					return
				}
				log.Debug("server: forward frame", "err", err)
			}
		case websocket.MessageText:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = peer.SendControl(ctx, live.ControlMessage{Type: live.ControlError, Text: "malformed message"})
				continue
			}
			switch msg.Type {
			case ClientInterrupt:
				if err := sess.Interrupt(); err != nil {
					log.Debug("server: interrupt", "err", err)
				}
			case ClientEnd:
				return
			default:
				_ = peer.SendControl(ctx, live.ControlMessage{Type: live.ControlError, Text: "unknown message type " + string(msg.Type)})
			}
		}
	}
}
