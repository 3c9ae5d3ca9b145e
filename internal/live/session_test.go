package live_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/capture"
	"github.com/MrWong99/parley/internal/live"
	"github.com/MrWong99/parley/internal/playback"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/mock"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/s2s"
	s2smock "github.com/MrWong99/parley/pkg/provider/s2s/mock"
)

type localRig struct {
	in      *mock.InputDevice
	out     *mock.OutputDevice
	player  *playback.Player
	sess    *s2smock.Session
	prov    *s2smock.Provider
	session *live.Session
}

// newLocalRig wires a Session to a paced fake microphone and a gated fake
// speaker: nothing is written to the speaker until the test feeds out.Gate.
func newLocalRig(t *testing.T, opts ...live.Option) *localRig {
	t.Helper()
	in := &mock.InputDevice{Rate: 16000, Tail: tone(500), ReadDelay: 2 * time.Millisecond}
	out := &mock.OutputDevice{Gate: make(chan struct{})}
	opener := &mock.Opener{Input: in, Output: out}

	player := playback.New(opener, playback.Config{
		PrebufferDelay: 0,
		GracePeriod:    20 * time.Millisecond,
		EchoTail:       20 * time.Millisecond,
	})
	t.Cleanup(player.Close)

	sess := s2smock.NewSession()
	prov := &s2smock.Provider{Session: sess}
	s := live.NewSession(prov, capture.New(opener, capture.DefaultConfig()), player,
		live.Config{Instructions: "Be brief."}, opts...)
	t.Cleanup(s.Stop)
	return &localRig{in: in, out: out, player: player, sess: sess, prov: prov, session: s}
}

func waitSent(t *testing.T, sess *s2smock.Session) {
	t.Helper()
	select {
	case <-sess.Sent():
	case <-time.After(2 * time.Second):
		t.Fatal("no audio forwarded upstream")
	}
}

// lastEvent waits for Done and returns the final event on the closed channel.
func lastEvent(t *testing.T, s *live.Session) live.Event {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed")
	}
	var last live.Event
	for ev := range s.Events() {
		last = ev
	}
	return last
}

func TestSession_StartForwardsMicrophone(t *testing.T) {
	t.Parallel()

	r := newLocalRig(t)
	if err := r.session.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if r.session.State() != live.StateActive {
		t.Errorf("state = %v, want active", r.session.State())
	}
	waitSent(t, r.sess)

	calls := r.prov.Calls()
	if len(calls) != 1 {
		t.Fatalf("Connect called %d times, want 1", len(calls))
	}
	if calls[0].Cfg.Instructions != "Be brief." || calls[0].Cfg.InputSampleRate != capture.DefaultSampleRate {
		t.Errorf("session config = %+v", calls[0].Cfg)
	}
	if err := r.session.Start(t.Context()); !errors.Is(err, live.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestSession_UpsamplesSlowMicrophone(t *testing.T) {
	t.Parallel()

	r := newLocalRig(t)
	r.in.Rate = 8000 // tone() is 640 bytes: 40ms at 8 kHz
	if err := r.session.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitSent(t, r.sess)

	want := audio.PCMBytes(40*time.Millisecond, capture.DefaultSampleRate)
	for i, chunk := range r.sess.SentChunks() {
		if len(chunk) != want {
			t.Fatalf("chunk %d is %d bytes, want %d (40ms at the session rate)", i, len(chunk), want)
		}
	}
}

func TestSession_MutesMicrophoneWhileSpeaking(t *testing.T) {
	t.Parallel()

	metrics, reader := newTestMetrics(t)
	r := newLocalRig(t, live.WithMetrics(metrics))
	if err := r.session.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitSent(t, r.sess)

	// Half a second of model audio; the gated speaker keeps it queued.
	r.sess.Push(s2s.Event{Type: s2s.EventAudio, Audio: make([]byte, audio.PCMBytes(500*time.Millisecond, 24000))})
	eventually(t, "speaking", r.player.IsSpeaking)

	before := len(r.sess.SentChunks())
	time.Sleep(60 * time.Millisecond)
	// At most one frame may have been in flight when speaking began.
	if after := len(r.sess.SentChunks()); after > before+1 {
		t.Errorf("forwarded %d frames while speaking", after-before)
	}
	if got := counter(t, reader, "parley.frames.muted"); got == 0 {
		t.Error("no muted frames counted")
	}

	r.sess.Push(s2s.Event{Type: s2s.EventInterrupted})
	eventually(t, "speaking cleared", func() bool { return !r.player.IsSpeaking() })
	waitSent(t, r.sess)
}

func TestSession_SurfacesTranscriptsAndErrors(t *testing.T) {
	t.Parallel()

	r := newLocalRig(t)
	if err := r.session.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r.sess.Push(s2s.Event{Type: s2s.EventInputTranscript, Text: "how far is the moon"})
	r.sess.Push(s2s.Event{Type: s2s.EventOutputTranscript, Text: "about 384,000 km"})
	r.sess.Push(s2s.Event{Type: s2s.EventError, Err: errors.New("slow down")})

	want := []memory.Event{
		{Kind: memory.KindUserUtterance, Text: "how far is the moon"},
		{Kind: memory.KindModelUtterance, Text: "about 384,000 km"},
	}
	for i, w := range want {
		select {
		case got := <-r.session.Transcripts():
			if got.Kind != w.Kind || got.Text != w.Text {
				t.Errorf("transcript %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("transcript %d not delivered", i)
		}
	}
	select {
	case ev := <-r.session.Events():
		if ev.Type != live.EventError || ev.Err == nil || ev.Err.Error() != "slow down" {
			t.Errorf("event = %+v, want the endpoint error", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error event not delivered")
	}
}

func TestSession_EndpointCloseEndsSession(t *testing.T) {
	t.Parallel()

	r := newLocalRig(t)
	if err := r.session.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.sess.End(errors.New("goaway"))

	select {
	case <-r.session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	var last live.Event
	for ev := range r.session.Events() {
		last = ev
	}
	if last.Type != live.EventClosed || last.Err == nil {
		t.Errorf("last event = %+v, want closed with error", last)
	}
	if r.session.State() != live.StateIdle {
		t.Errorf("state = %v, want idle", r.session.State())
	}
	if r.in.CloseCount() == 0 {
		t.Error("microphone not released")
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	r := newLocalRig(t)
	if err := r.session.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitSent(t, r.sess)

	r.session.Stop()
	r.session.Stop()

	if r.sess.Closes() != 1 {
		t.Errorf("connection closed %d times, want 1", r.sess.Closes())
	}
	select {
	case <-r.session.Done():
	default:
		t.Error("Done not closed after Stop")
	}
	var last live.Event
	for ev := range r.session.Events() {
		last = ev
	}
	if last.Type != live.EventClosed || last.Err != nil {
		t.Errorf("last event = %+v, want a clean close", last)
	}
}

func TestSession_StartFailures(t *testing.T) {
	t.Parallel()

	t.Run("connection", func(t *testing.T) {
		t.Parallel()
		r := newLocalRig(t)
		r.prov.SetErr(errors.New("401 unauthorized"))

		err := r.session.Start(t.Context())
		if !errors.Is(err, live.ErrConnectionFailure) {
			t.Fatalf("err = %v, want ErrConnectionFailure", err)
		}
		if r.session.State() != live.StateIdle {
			t.Errorf("state = %v, want idle", r.session.State())
		}
		if r.in.CloseCount() == 0 {
			t.Error("microphone not released")
		}
		if last := lastEvent(t, r.session); last.Type != live.EventClosed || !errors.Is(last.Err, live.ErrConnectionFailure) {
			t.Errorf("last event = %+v, want closed with the connection error", last)
		}
		if err := r.session.Start(t.Context()); !errors.Is(err, live.ErrClosed) {
			t.Errorf("Start after failure = %v, want ErrClosed", err)
		}
	})

	t.Run("device", func(t *testing.T) {
		t.Parallel()
		player := playback.New(&mock.Opener{}, playback.DefaultConfig())
		t.Cleanup(player.Close)
		prov := &s2smock.Provider{}
		s := live.NewSession(prov, capture.New(&mock.Opener{}, capture.DefaultConfig()), player, live.Config{})

		err := s.Start(t.Context())
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
		}
		if len(prov.Calls()) != 0 {
			t.Error("connected although the microphone was unavailable")
		}
		if last := lastEvent(t, s); !errors.Is(last.Err, audio.ErrDeviceUnavailable) {
			t.Errorf("last event = %+v, want closed with the device error", last)
		}
	})
}

func TestSession_StopBeforeStart(t *testing.T) {
	t.Parallel()

	r := newLocalRig(t)
	r.session.Stop()

	if last := lastEvent(t, r.session); last.Type != live.EventClosed || last.Err != nil {
		t.Errorf("last event = %+v, want a clean close", last)
	}
	if err := r.session.Start(t.Context()); !errors.Is(err, live.ErrClosed) {
		t.Errorf("Start after Stop = %v, want ErrClosed", err)
	}
	if n := len(r.prov.Calls()); n != 0 {
		t.Errorf("Connect called %d times after Stop", n)
	}
}
