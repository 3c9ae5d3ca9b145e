package live_test

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/parley/internal/live"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
)

// recordingPeer is a live.Peer that records everything it is sent.
type recordingPeer struct {
	mu       sync.Mutex
	audio    [][]byte
	controls []live.ControlMessage
	notify   chan struct{}

	AudioErr error
}

func newRecordingPeer() *recordingPeer {
	return &recordingPeer{notify: make(chan struct{}, 1024)}
}

func (p *recordingPeer) SendAudio(_ context.Context, pcm []byte) error {
	p.mu.Lock()
	p.audio = append(p.audio, pcm)
	err := p.AudioErr
	p.mu.Unlock()
	p.ping()
	return err
}

func (p *recordingPeer) SendControl(_ context.Context, msg live.ControlMessage) error {
	p.mu.Lock()
	p.controls = append(p.controls, msg)
	p.mu.Unlock()
	p.ping()
	return nil
}

func (p *recordingPeer) ping() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *recordingPeer) Audio() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.audio...)
}

func (p *recordingPeer) Controls() []live.ControlMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]live.ControlMessage(nil), p.controls...)
}

// waitDeliveries blocks until the peer has received n messages in total.
func (p *recordingPeer) waitDeliveries(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		p.mu.Lock()
		got := len(p.audio) + len(p.controls)
		p.mu.Unlock()
		if got >= n {
			return
		}
		select {
		case <-p.notify:
		case <-deadline:
			t.Fatalf("peer received %d messages, want %d", got, n)
		}
	}
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counter sums every data point of the named int64 counter.
func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// tone returns 20 ms of 16 kHz PCM alternating ±amp.
func tone(amp int16) []byte {
	s := make([]int16, 320)
	for i := range s {
		if i%2 == 0 {
			s[i] = amp
		} else {
			s[i] = -amp
		}
	}
	return audio.Int16ToBytes(s)
}
