package wsstream_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/s2s"
	"github.com/MrWong99/parley/pkg/provider/s2s/wsstream"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// serve runs handle for every accepted connection and returns the ws:// URL.
func serve(t *testing.T, handle func(ctx context.Context, conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		handle(ctx, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func open(t *testing.T, url string) *wsstream.Stream {
	t.Helper()
	s, err := wsstream.Dial(t.Context(), wsstream.Config{
		Name:   "test",
		URL:    url,
		Header: http.Header{"Authorization": []string{"Bearer k"}},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// words emits one text event per frame and rejects frames starting with "!".
func words(data []byte) ([]s2s.Event, error) {
	if strings.HasPrefix(string(data), "!") {
		return nil, errors.New("bad frame")
	}
	return []s2s.Event{{Type: s2s.EventText, Text: string(data)}}, nil
}

func TestStream_DecodesInOrderAndSkipsBadFrames(t *testing.T) {
	t.Parallel()

	url := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		for _, f := range []string{"one", "!garbage", "two", "three"} {
			_ = conn.Write(ctx, websocket.MessageText, []byte(f))
		}
		conn.Close(websocket.StatusNormalClosure, "")
	})

	s := open(t, url)
	s.Start(words)

	var got []string
	for ev := range s.Events() {
		got = append(got, ev.Text)
	}
	if strings.Join(got, ",") != "one,two,three" {
		t.Errorf("events = %v", got)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err = %v after normal closure", err)
	}
}

func TestStream_AbnormalClosureSetsErr(t *testing.T) {
	t.Parallel()

	url := serve(t, func(_ context.Context, conn *websocket.Conn) {
		conn.Close(websocket.StatusInternalError, "boom")
	})

	s := open(t, url)
	s.Start(words)
	for range s.Events() {
	}
	err := s.Err()
	if err == nil || !strings.HasPrefix(err.Error(), "test: read") {
		t.Errorf("Err = %v, want a read error", err)
	}
}

func TestStream_SendAndClose(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]string, 1)
	url := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		var v map[string]string
		if err := wsjson.Read(ctx, conn, &v); err != nil {
			t.Errorf("read: %v", err)
		}
		got <- v
		<-conn.CloseRead(ctx).Done()
	})

	s := open(t, url)
	s.Start(words)
	if err := s.Send(map[string]string{"type": "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if v := <-got; v["type"] != "hello" {
		t.Errorf("server got %v", v)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	select {
	case _, ok := <-s.Events():
		if ok {
			t.Error("event after Close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Events not closed after Close")
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err = %v after local Close", err)
	}
	if err := s.Send("late"); !errors.Is(err, wsstream.ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestDial_Rejected(t *testing.T) {
	t.Parallel()

	url := serve(t, func(context.Context, *websocket.Conn) {})
	_, err := wsstream.Dial(t.Context(), wsstream.Config{Name: "test", URL: url})
	if err == nil || !strings.HasPrefix(err.Error(), "test: dial") {
		t.Errorf("err = %v, want dial error", err)
	}
}

func TestStream_Abort(t *testing.T) {
	t.Parallel()

	url := serve(t, func(ctx context.Context, conn *websocket.Conn) {
		<-conn.CloseRead(ctx).Done()
	})
	s := open(t, url)
	s.Abort("setup failed")
	if err := s.Send("x"); !errors.Is(err, wsstream.ErrClosed) {
		t.Errorf("Send after Abort = %v, want ErrClosed", err)
	}
}
