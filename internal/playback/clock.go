package playback

import (
	"sync"
	"time"
)

// Clock schedules audio windows back to back. Each window starts at the later
// of the current time and the end of the previous window, so consecutive
// windows never overlap and, when audio arrives faster than it plays, never
// leave a gap.
type Clock struct {
	now func() time.Time

	mu    sync.Mutex
	next  time.Time
	total time.Duration
}

// NewClock returns a Clock reading time from now. A nil now uses [time.Now].
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Schedule reserves a window of length d and returns its start time.
func (c *Clock) Schedule(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.now()
	if c.next.After(start) {
		start = c.next
	}
	c.next = start.Add(d)
	c.total += d
	return start
}

// Next returns the end of the last scheduled window, or the zero time when
// nothing has been scheduled since the last reset.
func (c *Clock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Scheduled returns the total duration scheduled since the last reset.
func (c *Clock) Scheduled() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Reset pulls the clock back to the current time and clears the total.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = c.now()
	c.total = 0
}
