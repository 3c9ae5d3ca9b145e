package live_test

import (
	"testing"

	"github.com/MrWong99/parley/internal/live"
	"github.com/MrWong99/parley/pkg/memory"
)

func TestBacklog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		capacity    int
		push        int
		wantLen     int
		wantDropped int
	}{
		{name: "under capacity", capacity: 4, push: 3, wantLen: 3},
		{name: "exactly full", capacity: 3, push: 3, wantLen: 3},
		{name: "overflow dropped", capacity: 3, push: 7, wantLen: 3, wantDropped: 4},
		{name: "default capacity", capacity: 0, push: live.DefaultBacklogCapacity + 1, wantLen: live.DefaultBacklogCapacity, wantDropped: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := live.NewBacklog(tt.capacity)
			for i := range tt.push {
				b.Push([]byte{byte(i)})
			}
			if b.Len() != tt.wantLen || b.Dropped() != tt.wantDropped {
				t.Fatalf("Len=%d Dropped=%d, want %d/%d", b.Len(), b.Dropped(), tt.wantLen, tt.wantDropped)
			}
			frames := b.Drain()
			for i, f := range frames {
				if f[0] != byte(i) {
					t.Errorf("frame %d = %d, want FIFO order", i, f[0])
				}
			}
			if b.Len() != 0 || len(b.Drain()) != 0 {
				t.Error("Drain did not empty the backlog")
			}
		})
	}
}

func TestBacklog_Clear(t *testing.T) {
	t.Parallel()

	b := live.NewBacklog(2)
	b.Push([]byte{1})
	b.Clear()
	if b.Len() != 0 {
		t.Errorf("Len = %d after Clear", b.Len())
	}
	if !b.Push([]byte{2}) {
		t.Error("Push rejected after Clear")
	}
}

func TestRecord_Add(t *testing.T) {
	t.Parallel()

	r := live.NewRecord()
	steps := []struct {
		kind memory.EventKind
		text string
		want bool
	}{
		{memory.KindUserUtterance, "hello", true},
		{memory.KindUserUtterance, "hello", false},
		{memory.KindUserUtterance, "  ", false},
		{memory.KindModelUtterance, "hi", true},
		{memory.KindModelUtterance, "hi", true},
		{memory.KindUserUtterance, "hello", true},
		{memory.KindUserUtterance, "hello again", true},
	}
	for i, s := range steps {
		if got := r.Add(s.kind, s.text); got != s.want {
			t.Errorf("step %d Add(%s, %q) = %v, want %v", i, s.kind, s.text, got, s.want)
		}
	}
	if r.Len() != 5 {
		t.Errorf("Len = %d, want 5", r.Len())
	}
	events := r.Events()
	if events[0].Timestamp.IsZero() {
		t.Error("events are not timestamped")
	}
	events[0].Text = "mutated"
	if r.Events()[0].Text != "hello" {
		t.Error("Events returned the internal slice")
	}
}
