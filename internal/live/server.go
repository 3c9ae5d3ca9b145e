package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/parley/internal/hotctx"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/s2s"
)

const (
	// DefaultMinTranscriptChars is the shortest transcript worth persisting.
	DefaultMinTranscriptChars = 20

	defaultPersistTimeout = 30 * time.Second
)

// ServerConfig configures a [ServerSession].
type ServerConfig struct {
	Config

	// BacklogCapacity bounds the frames held before the connection is up.
	// Zero means [DefaultBacklogCapacity].
	BacklogCapacity int

	// MinTranscriptChars is the minimum transcript length, in characters,
	// that is persisted on disconnect. Zero means [DefaultMinTranscriptChars].
	MinTranscriptChars int

	// PersistTimeout bounds the teardown writes. Zero means 30s.
	PersistTimeout time.Duration
}

// ServerSession relays one remote peer's conversation with a speech-to-speech
// endpoint. Audio the peer sends before the endpoint is connected is held in a
// [Backlog] and flushed, in order and exactly once, before any later frame.
// On [ServerSession.Disconnect] the transcript is written to memory.
type ServerSession struct {
	id       string
	provider s2s.Provider
	peer     Peer
	cfg      ServerConfig
	opts     options
	record   *Record

	// ctx outlives the Start call and is cancelled by Disconnect; peer
	// deliveries from the event loop use it.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu             sync.Mutex
	state          State
	userID         string
	handle         s2s.SessionHandle
	backlog        *Backlog
	closed         bool
	disconnectOnce sync.Once
	persistErr     error
}

// NewServerSession creates an idle session that relays to peer.
func NewServerSession(provider s2s.Provider, peer Peer, cfg ServerConfig, opts ...Option) *ServerSession {
	if cfg.MinTranscriptChars <= 0 {
		cfg.MinTranscriptChars = DefaultMinTranscriptChars
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	o := buildOptions(opts)
	if o.assembler == nil && (o.store != nil || o.longTerm != nil) {
		o.assembler = hotctx.NewAssembler(o.store, o.longTerm)
	}
	id := o.sessionID
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ServerSession{
		id:       id,
		provider: provider,
		peer:     peer,
		cfg:      cfg,
		opts:     o,
		record:   NewRecord(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		backlog:  NewBacklog(cfg.BacklogCapacity),
	}
}

// SessionID returns the unique session identifier.
func (s *ServerSession) SessionID() string { return s.id }

// UserID returns the user the session was started for.
func (s *ServerSession) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// State returns the current lifecycle state.
func (s *ServerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Record returns the session transcript.
func (s *ServerSession) Record() *Record { return s.record }

// BacklogLen returns the number of frames waiting for the connection.
func (s *ServerSession) BacklogLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backlog.Len()
}

// Done is closed when the endpoint connection has ended.
func (s *ServerSession) Done() <-chan struct{} { return s.done }

// Start loads the user's prior context, connects to the endpoint with the
// resulting instruction and flushes any backlog. Context loading never fails
// the start; a failed connection is reported to the peer and returned
// wrapping [ErrConnectionFailure].
func (s *ServerSession) Start(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateIdle || s.handle != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateConnecting
	s.userID = userID
	s.mu.Unlock()

	ctx = observe.WithSession(ctx, s.id, userID)
	ctx, span := observe.StartSpan(ctx, "live.server.start")
	defer span.End()
	log := observe.Logger(ctx)

	instructions := s.cfg.Instructions
	if s.opts.assembler != nil {
		hctx := s.opts.assembler.Assemble(ctx, userID)
		instructions = hotctx.FormatSystemPrompt(instructions, hctx)
		log.Debug("live: context loaded",
			"degraded", hctx.Degraded,
			"snippets", len(hctx.Snippets),
			"duration", hctx.AssemblyDuration)
	}

	start := time.Now()
	handle, err := s.provider.Connect(ctx, s.cfg.sessionConfig(instructions))
	if err != nil {
		s.opts.metrics.RecordProviderError(ctx, "s2s", "connect")
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateIdle
		}
		s.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		log.Error("live: connect failed", "err", err)
		s.control(ControlMessage{Type: ControlError, Text: "connection to the voice model failed"})
		return fmt.Errorf("live: start: %w: %w", ErrConnectionFailure, err)
	}
	s.opts.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds())

	s.mu.Lock()
	if s.state != StateConnecting {
		// Disconnect won the race.
		s.mu.Unlock()
		_ = handle.Close()
		return ErrClosed
	}
	s.handle = handle
	pending := s.backlog.Drain()
	for _, frame := range pending {
		if err := handle.SendAudio(frame); err != nil {
			log.Debug("live: flush backlog frame", "err", err)
			continue
		}
		s.opts.metrics.RecordFrameForwarded(ctx, "server")
	}
	s.state = StateActive
	s.mu.Unlock()

	s.opts.metrics.ActiveSessions.Add(ctx, 1)
	log.Info("live: server session active",
		"connect_ms", time.Since(start).Milliseconds(),
		"flushed", len(pending))

	go s.run(handle, log)
	return nil
}

// SendAudio forwards a peer frame upstream when connected and holds it in the
// backlog otherwise. Frames beyond the backlog capacity are dropped.
func (s *ServerSession) SendAudio(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	switch s.state {
	case StateActive:
		if err := s.handle.SendAudio(frame); err != nil {
			return fmt.Errorf("live: send audio: %w", err)
		}
		s.opts.metrics.RecordFrameForwarded(s.ctx, "server")
	default:
		if !s.backlog.Push(frame) {
			s.opts.metrics.BacklogDropped.Add(s.ctx, 1)
		}
	}
	return nil
}

// Interrupt asks the endpoint to abandon the reply in progress.
func (s *ServerSession) Interrupt() error {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return nil
	}
	if err := handle.Interrupt(); err != nil {
		return fmt.Errorf("live: interrupt: %w", err)
	}
	return nil
}

// run is the single consumer of endpoint events.
func (s *ServerSession) run(handle s2s.SessionHandle, log *slog.Logger) {
	defer close(s.done)
	defer s.opts.metrics.ActiveSessions.Add(context.Background(), -1)

	for ev := range handle.Events() {
		switch ev.Type {
		case s2s.EventAudio:
			if err := s.peer.SendAudio(s.ctx, ev.Audio); err != nil {
				log.Debug("live: deliver audio", "err", err)
			}
		case s2s.EventInterrupted:
			s.control(ControlMessage{Type: ControlInterrupted})
		case s2s.EventInputTranscript:
			if s.record.Add(memory.KindUserUtterance, ev.Text) {
				s.control(ControlMessage{Type: ControlText, Text: ev.Text, Role: RoleUser})
			}
		case s2s.EventOutputTranscript, s2s.EventText:
			if s.record.Add(memory.KindModelUtterance, ev.Text) {
				s.control(ControlMessage{Type: ControlText, Text: ev.Text, Role: RoleModel})
			}
		case s2s.EventTurnComplete:
			log.Debug("live: turn complete")
		case s2s.EventError:
			log.Warn("live: endpoint error", "err", ev.Err)
			s.control(ControlMessage{Type: ControlError, Text: errText(ev.Err)})
		}
	}

	if err := handle.Err(); err != nil {
		log.Warn("live: endpoint closed with error", "err", err)
		s.control(ControlMessage{Type: ControlError, Text: errText(err)})
	}
}

func (s *ServerSession) control(msg ControlMessage) {
	if err := s.peer.SendControl(s.ctx, msg); err != nil {
		slog.Debug("live: deliver control", "session_id", s.id, "type", string(msg.Type), "err", err)
	}
}

// Disconnect tears the session down: the backlog is discarded, a transcript
// of at least MinTranscriptChars characters is persisted, and the connection
// is closed. Persistence failures are logged and returned joined under
// [ErrPersistenceFailure]; they never prevent the close. Idempotent.
func (s *ServerSession) Disconnect(ctx context.Context) error {
	s.disconnectOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.state = StateClosing
		s.backlog.Clear()
		handle := s.handle
		userID := s.userID
		s.mu.Unlock()

		s.persistErr = s.persist(ctx, userID)

		if handle != nil {
			if err := handle.Close(); err != nil {
				slog.Debug("live: close connection", "session_id", s.id, "err", err)
			}
			<-s.done
		} else {
			close(s.done)
		}
		s.cancel()

		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		slog.Info("live: server session closed", "session_id", s.id, "fragments", s.record.Len())
	})
	return s.persistErr
}

func (s *ServerSession) persist(ctx context.Context, userID string) error {
	if s.opts.store == nil && s.opts.longTerm == nil {
		return nil
	}
	events := s.record.Events()
	if n := memory.TextLength(events); n < s.cfg.MinTranscriptChars {
		slog.Debug("live: transcript too short to persist", "session_id", s.id, "chars", n)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()
	ctx = observe.WithSession(ctx, s.id, userID)
	ctx, span := observe.StartSpan(ctx, "live.server.persist")
	defer span.End()
	log := observe.Logger(ctx)

	var errs []error
	if s.opts.store != nil {
		if err := s.opts.store.AppendEvents(ctx, s.id, userID, events); err != nil {
			log.Error("live: persist transcript failed", "err", err)
			s.opts.metrics.RecordPersistenceFailure(ctx, "events")
			errs = append(errs, fmt.Errorf("events: %w", err))
		}
	}
	if s.opts.longTerm != nil {
		if err := s.opts.longTerm.Add(ctx, userID, s.id, memory.FullText(events)); err != nil {
			log.Error("live: persist memory failed", "err", err)
			s.opts.metrics.RecordPersistenceFailure(ctx, "memory")
			errs = append(errs, fmt.Errorf("memory: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, errors.Join(errs...))
	}
	log.Info("live: transcript persisted", "fragments", len(events))
	return nil
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
