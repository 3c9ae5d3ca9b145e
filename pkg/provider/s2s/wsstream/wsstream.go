// Package wsstream is the WebSocket transport shared by the streaming s2s
// providers. Both directions carry one JSON document per text frame. A
// provider supplies a [Decoder] that turns an inbound frame into s2s events;
// the [Stream] owns the connection, the ordered event channel and shutdown.
package wsstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/s2s"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrClosed is returned by [Stream.Send] after [Stream.Close].
var ErrClosed = errors.New("session closed")

const (
	defaultReadLimit = 8 << 20
	eventBuffer      = 128
	pingTimeout      = 5 * time.Second
)

// Config describes the endpoint to dial.
type Config struct {
	// Name prefixes errors and labels log lines, e.g. "gemini".
	Name string

	URL    string
	Header http.Header

	// ReadLimit caps one inbound frame. Audio frames from hosted models
	// routinely exceed the library's 32 KiB default. Default: 8 MiB.
	ReadLimit int64

	// Keepalive is the ping interval. Zero disables pings.
	Keepalive time.Duration
}

// Decoder translates one inbound frame into events, in order. A returned
// error drops the frame and the stream keeps reading. The receive loop is
// the only caller, so a Decoder may keep state between frames.
type Decoder func(data []byte) ([]s2s.Event, error)

// Stream is an open connection. It implements the Events, Err and Close
// parts of [s2s.SessionHandle]; providers embed it and add the rest.
type Stream struct {
	name      string
	conn      *websocket.Conn
	keepalive time.Duration
	events    chan s2s.Event

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

// Dial opens the connection. Nothing is read until [Stream.Start].
func Dial(ctx context.Context, cfg Config) (*Stream, error) {
	conn, _, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{HTTPHeader: cfg.Header})
	if err != nil {
		return nil, fmt.Errorf("%s: dial: %w", cfg.Name, err)
	}
	limit := cfg.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)

	// The stream outlives the dial context.
	sctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		name:      cfg.Name,
		conn:      conn,
		keepalive: cfg.Keepalive,
		events:    make(chan s2s.Event, eventBuffer),
		ctx:       sctx,
		cancel:    cancel,
	}, nil
}

// Start launches the receive loop, and the keepalive loop if configured.
// It must be called exactly once.
func (s *Stream) Start(decode Decoder) {
	go s.receive(decode)
	if s.keepalive > 0 {
		go s.ping()
	}
}

// Send writes v as one JSON text frame.
func (s *Stream) Send(v any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("%s: %w", s.name, ErrClosed)
	}
	if err := wsjson.Write(s.ctx, s.conn, v); err != nil {
		return fmt.Errorf("%s: write: %w", s.name, err)
	}
	return nil
}

// Abort tears down a stream whose handshake failed before [Stream.Start].
func (s *Stream) Abort(reason string) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.conn.Close(websocket.StatusInternalError, reason)
}

// Events returns the inbound event channel. It is closed when the stream ends.
func (s *Stream) Events() <-chan s2s.Event { return s.events }

// Err returns the error that ended the stream, or nil after a normal closure
// or a local Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the stream. Safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

func (s *Stream) receive(decode Decoder) {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.fail(fmt.Errorf("%s: read: %w", s.name, err))
			}
			return
		}

		evs, err := decode(data)
		if err != nil {
			slog.Debug("dropping undecodable frame", "provider", s.name, "err", err)
			continue
		}
		for _, ev := range evs {
			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Stream) ping() {
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(s.ctx, pingTimeout)
			if err := s.conn.Ping(ctx); err != nil {
				slog.Debug("keepalive ping failed", "provider", s.name, "err", err)
			}
			cancel()
		}
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
