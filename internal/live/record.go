package live

import (
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/memory"
)

// Record is the ordered transcript of one server session. It is safe for
// concurrent use.
type Record struct {
	mu     sync.Mutex
	events []memory.Event
	now    func() time.Time
}

// NewRecord returns an empty Record stamped with time.Now.
func NewRecord() *Record {
	return &Record{now: time.Now}
}

// Add appends a fragment and reports whether it was kept. Blank fragments are
// ignored, and a user fragment identical to the immediately preceding user
// fragment is dropped because endpoints repeat partial transcripts.
func (r *Record) Add(kind memory.EventKind, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == memory.KindUserUtterance && len(r.events) > 0 {
		last := r.events[len(r.events)-1]
		if last.Kind == kind && last.Text == text {
			return false
		}
	}
	r.events = append(r.events, memory.Event{Kind: kind, Text: text, Timestamp: r.now()})
	return true
}

// Events returns a copy of the recorded fragments in order.
func (r *Record) Events() []memory.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]memory.Event(nil), r.events...)
}

// Len returns the number of recorded fragments.
func (r *Record) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
