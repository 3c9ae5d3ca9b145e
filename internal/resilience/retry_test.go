package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

// sleepRecorder records requested delays without waiting.
type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestRetryLinear_TwoFailuresThenSuccess(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	calls := 0
	got, err := RetryLinear(t.Context(), RetryConfig{
		Name:      "reply",
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
		Sleep:     rec.sleep,
	}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "third", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "third" {
		t.Errorf("result = %q, want third", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", rec.delays, want)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay %d = %v, want %v", i, rec.delays[i], want[i])
		}
	}
}

func TestRetryLinear_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	rec := &sleepRecorder{}
	calls := 0
	_, err := RetryLinear(t.Context(), RetryConfig{Sleep: rec.sleep}, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("err = %v, want wrapped errTransient", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (1 + 3 retries)", calls)
	}
	if len(rec.delays) != 3 || rec.delays[2] != 6*time.Second {
		t.Errorf("delays = %v, want [2s 4s 6s]", rec.delays)
	}
}

func TestRetryLinear_NonRetryableReturnsImmediately(t *testing.T) {
	t.Parallel()

	permanent := errors.New("bad request")
	rec := &sleepRecorder{}
	calls := 0
	_, err := RetryLinear(t.Context(), RetryConfig{
		Retryable: func(err error) bool { return errors.Is(err, errTransient) },
		Sleep:     rec.sleep,
	}, func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	if err != permanent {
		t.Errorf("err = %v, want the original error", err)
	}
	if calls != 1 || len(rec.delays) != 0 {
		t.Errorf("calls = %d, delays = %v; want 1 call and no waits", calls, rec.delays)
	}
}

func TestRetryLinear_ContextCancelledDuringWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := RetryLinear(ctx, RetryConfig{BaseDelay: time.Hour}, func(context.Context) (int, error) {
			calls++
			return 0, errTransient
		})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RetryLinear did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryLinear_RealTimer(t *testing.T) {
	t.Parallel()

	calls := 0
	start := time.Now()
	got, err := RetryLinear(t.Context(), RetryConfig{BaseDelay: 5 * time.Millisecond}, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return calls, nil
	})
	if err != nil || got != 3 {
		t.Fatalf("RetryLinear = %d, %v; want 3, nil", got, err)
	}
	// 5ms then 10ms.
	if took := time.Since(start); took < 15*time.Millisecond {
		t.Errorf("returned after %v, want at least 15ms of backoff", took)
	}
}
