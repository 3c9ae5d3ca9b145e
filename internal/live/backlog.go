package live

// DefaultBacklogCapacity bounds the frames held while a server session connects.
const DefaultBacklogCapacity = 500

// Backlog is a bounded FIFO of audio frames received before the upstream
// connection is ready. Once full, further frames are discarded and counted.
//
// Backlog is not safe for concurrent use; [ServerSession] guards it with its
// own mutex so that the flush and later sends stay ordered.
type Backlog struct {
	frames   [][]byte
	capacity int
	dropped  int
}

// NewBacklog returns an empty Backlog holding at most capacity frames. A
// non-positive capacity means [DefaultBacklogCapacity].
func NewBacklog(capacity int) *Backlog {
	if capacity <= 0 {
		capacity = DefaultBacklogCapacity
	}
	return &Backlog{capacity: capacity}
}

// Push appends frame and reports whether it was kept.
func (b *Backlog) Push(frame []byte) bool {
	if len(b.frames) >= b.capacity {
		b.dropped++
		return false
	}
	b.frames = append(b.frames, frame)
	return true
}

// Drain removes and returns every held frame, oldest first.
func (b *Backlog) Drain() [][]byte {
	out := b.frames
	b.frames = nil
	return out
}

// Clear discards every held frame.
func (b *Backlog) Clear() { b.frames = nil }

// Len returns the number of held frames.
func (b *Backlog) Len() int { return len(b.frames) }

// Cap returns the capacity.
func (b *Backlog) Cap() int { return b.capacity }

// Dropped returns how many frames were discarded because the backlog was full.
func (b *Backlog) Dropped() int { return b.dropped }
