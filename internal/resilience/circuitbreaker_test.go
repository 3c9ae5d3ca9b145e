package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// transitions records state changes as "from->to".
type transitions struct {
	mu  sync.Mutex
	got []string
}

func (tr *transitions) record(_ string, from, to State) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.got = append(tr.got, fmt.Sprintf("%s->%s", from, to))
}

func (tr *transitions) list() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.got...)
}

func newTestBreaker(clock *fakeClock, tr *transitions) *CircuitBreaker {
	cfg := CircuitBreakerConfig{
		Name:         "coqui",
		MaxFailures:  3,
		ResetTimeout: 10 * time.Second,
		HalfOpenMax:  2,
		Clock:        clock.Now,
	}
	if tr != nil {
		cfg.OnStateChange = tr.record
	}
	return NewCircuitBreaker(cfg)
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "x"})
	if cb.cfg.MaxFailures != 5 || cb.cfg.ResetTimeout != 30*time.Second || cb.cfg.HalfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.cfg.MaxFailures, cb.cfg.ResetTimeout, cb.cfg.HalfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.Name() != "x" {
		t.Errorf("Name = %q, want x", cb.Name())
	}
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed) // resets the streak
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatalf("state = %v after an interrupted streak, want closed", cb.State())
	}

	if err := cb.Execute(fail); !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the call's own error", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err = %v, called = %v", err, called)
	}
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes []func() error
		want   State
		trace  []string
	}{
		{
			name:   "successful probes close",
			probes: []func() error{succeed, succeed},
			want:   StateClosed,
			trace:  []string{"closed->open", "open->half-open", "half-open->closed"},
		},
		{
			name:   "one good probe stays half-open",
			probes: []func() error{succeed},
			want:   StateHalfOpen,
			trace:  []string{"closed->open", "open->half-open"},
		},
		{
			name:   "failed probe reopens",
			probes: []func() error{succeed, fail},
			want:   StateOpen,
			trace:  []string{"closed->open", "open->half-open", "half-open->open"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			tr := &transitions{}
			cb := newTestBreaker(clock, tr)
			for range 3 {
				_ = cb.Execute(fail)
			}

			clock.Advance(9 * time.Second)
			if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
				t.Fatalf("before reset timeout: err = %v, want ErrCircuitOpen", err)
			}
			clock.Advance(time.Second)
			if cb.State() != StateHalfOpen {
				t.Fatalf("State after reset timeout = %v, want half-open", cb.State())
			}

			for _, p := range tt.probes {
				_ = cb.Execute(p)
			}
			if got := cb.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
			got := tr.list()
			if fmt.Sprint(got) != fmt.Sprint(tt.trace) {
				t.Errorf("transitions = %v, want %v", got, tt.trace)
			}
		})
	}
}

func TestCircuitBreaker_ProbeBudget(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)
	for range 3 {
		_ = cb.Execute(fail)
	}
	clock.Advance(10 * time.Second)

	// Hold both probe slots open while a third call arrives.
	release := make(chan struct{})
	var wg sync.WaitGroup
	started := make(chan struct{}, 2)
	for range 2 {
		wg.Go(func() {
			_ = cb.Execute(func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		})
	}
	<-started
	<-started

	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("third probe: err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	wg.Wait()

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after both probes succeeded", cb.State())
	}
}

func TestCircuitBreaker_IgnoredErrors(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	cb := newTestBreaker(clock, nil)

	for range 5 {
		if err := cb.Execute(func() error { return context.Canceled }); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed: cancellations do not count", cb.State())
	}

	for range 3 {
		_ = cb.Execute(fail)
	}
	clock.Advance(10 * time.Second)

	// A cancelled probe hands its slot back, so two real probes still fit.
	_ = cb.Execute(func() error { return context.DeadlineExceeded })
	_ = cb.Execute(succeed)
	_ = cb.Execute(succeed)
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	tr := &transitions{}
	cb := newTestBreaker(newFakeClock(), tr)
	for range 3 {
		_ = cb.Execute(fail)
	}
	cb.Reset()
	cb.Reset()

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(succeed); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
	if got := tr.list(); fmt.Sprint(got) != "[closed->open open->closed]" {
		t.Errorf("transitions = %v", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
