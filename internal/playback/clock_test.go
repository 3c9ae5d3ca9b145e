package playback_test

import (
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/playback"
)

type fakeNow struct{ t time.Time }

func (f *fakeNow) now() time.Time { return f.t }

func TestClock_BackToBackWindowsAreGapless(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	fn := &fakeNow{t: base}
	c := playback.NewClock(fn.now)

	var prevEnd time.Time
	for i := range 3 {
		start := c.Schedule(20 * time.Millisecond)
		if i > 0 && !start.Equal(prevEnd) {
			t.Errorf("window %d starts at %v, want previous end %v", i, start.Sub(base), prevEnd.Sub(base))
		}
		prevEnd = start.Add(20 * time.Millisecond)
	}
	if got := c.Scheduled(); got != 60*time.Millisecond {
		t.Errorf("Scheduled = %v, want 60ms", got)
	}
	if got := c.Next().Sub(base); got != 60*time.Millisecond {
		t.Errorf("Next = base+%v, want base+60ms", got)
	}
}

func TestClock_NeverSchedulesInThePast(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	fn := &fakeNow{t: base}
	c := playback.NewClock(fn.now)

	c.Schedule(20 * time.Millisecond)
	fn.t = base.Add(time.Second) // device ran dry
	start := c.Schedule(20 * time.Millisecond)
	if !start.Equal(fn.t) {
		t.Errorf("start = base+%v, want now (base+1s)", start.Sub(base))
	}
}

func TestClock_ResetPullsBackToNow(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	fn := &fakeNow{t: base}
	c := playback.NewClock(fn.now)

	for range 10 {
		c.Schedule(100 * time.Millisecond)
	}
	fn.t = base.Add(50 * time.Millisecond)
	c.Reset()
	if c.Scheduled() != 0 {
		t.Errorf("Scheduled = %v after Reset, want 0", c.Scheduled())
	}
	if start := c.Schedule(20 * time.Millisecond); !start.Equal(fn.t) {
		t.Errorf("first window after Reset starts at base+%v, want base+50ms", start.Sub(base))
	}
}
