package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/genai"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/converse"
)

// recorder captures the generateContent requests seen by the fake server.
type recorder struct {
	mu     sync.Mutex
	bodies []map[string]any
	paths  []string
}

func (r *recorder) add(path string, body map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	r.bodies = append(r.bodies, body)
}

func startServer(t *testing.T, status int, reply string) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		rec.add(r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	p, err := New(t.Context(), "test-key", WithBaseURL(srv.URL), WithModel("gemini-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

const okReply = `{"candidates":[{"content":{"role":"model","parts":[{"text":" Hello traveller. "}]},"finishReason":"STOP"}]}`

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(t.Context(), ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestReply_Success(t *testing.T) {
	t.Parallel()

	srv, rec := startServer(t, http.StatusOK, okReply)
	p := newProvider(t, srv)

	wav := audio.EncodeWAV(audio.Int16ToBytes([]int16{1, 2, 3, 4}), 16000)
	resp, err := p.Reply(t.Context(), converse.Request{
		SystemInstruction: "Be brief.",
		Audio:             wav,
		History: []converse.Message{
			{Role: converse.RoleUser, Text: "hi"},
			{Role: converse.RoleModel, Text: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if resp.Text != "Hello traveller." {
		t.Errorf("text = %q", resp.Text)
	}

	if len(rec.paths) != 1 || !strings.HasSuffix(rec.paths[0], "models/gemini-test:generateContent") {
		t.Fatalf("paths = %v", rec.paths)
	}
	body := rec.bodies[0]
	contents, _ := body["contents"].([]any)
	if len(contents) != 3 {
		t.Fatalf("contents = %d entries, want 3", len(contents))
	}
	second := contents[1].(map[string]any)
	if second["role"] != "model" {
		t.Errorf("history role = %v, want model", second["role"])
	}
	last := contents[2].(map[string]any)
	parts := last["parts"].([]any)
	inline, _ := parts[0].(map[string]any)["inlineData"].(map[string]any)
	if inline == nil || inline["mimeType"] != "audio/wav" {
		t.Errorf("audio part = %v", parts[0])
	}
	if _, ok := body["systemInstruction"]; !ok {
		t.Error("systemInstruction missing from request")
	}
}

func TestReply_SpokenHistory(t *testing.T) {
	t.Parallel()

	srv, rec := startServer(t, http.StatusOK, okReply)
	p := newProvider(t, srv)

	wav := audio.EncodeWAV(audio.Int16ToBytes([]int16{5, 6}), 16000)
	_, err := p.Reply(t.Context(), converse.Request{
		Text: "and now?",
		History: []converse.Message{
			{Role: converse.RoleUser, Audio: wav},
			{Role: converse.RoleModel, Text: "First."},
			{Role: converse.RoleUser},
		},
	})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}

	contents, _ := rec.bodies[0]["contents"].([]any)
	if len(contents) != 3 {
		t.Fatalf("contents = %d entries, want 3 (empty turn dropped)", len(contents))
	}
	first := contents[0].(map[string]any)
	if first["role"] != "user" {
		t.Errorf("first role = %v, want user", first["role"])
	}
	parts := first["parts"].([]any)
	inline, _ := parts[0].(map[string]any)["inlineData"].(map[string]any)
	if inline == nil || inline["mimeType"] != "audio/wav" {
		t.Errorf("spoken history part = %v, want inline audio", parts[0])
	}
}

func TestReply_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		reply       string
		rateLimited bool
	}{
		{
			name:        "429 is rate limited",
			status:      http.StatusTooManyRequests,
			reply:       `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`,
			rateLimited: true,
		},
		{
			name:   "500 is not rate limited",
			status: http.StatusInternalServerError,
			reply:  `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`,
		},
		{
			name:   "no candidates",
			status: http.StatusOK,
			reply:  `{"candidates":[]}`,
		},
		{
			name:   "empty text",
			status: http.StatusOK,
			reply:  `{"candidates":[{"content":{"role":"model","parts":[{"text":"  "}]},"finishReason":"SAFETY"}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := startServer(t, tt.status, tt.reply)
			p := newProvider(t, srv)

			_, err := p.Reply(t.Context(), converse.Request{Text: "hello"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, converse.ErrRateLimited); got != tt.rateLimited {
				t.Errorf("errors.Is(ErrRateLimited) = %v, want %v (err %v)", got, tt.rateLimited, err)
			}
		})
	}
}

func TestReply_EmptyRequest(t *testing.T) {
	t.Parallel()

	srv, rec := startServer(t, http.StatusOK, okReply)
	p := newProvider(t, srv)
	if _, err := p.Reply(t.Context(), converse.Request{Text: "  "}); err == nil {
		t.Fatal("expected error for empty request")
	}
	if len(rec.paths) != 0 {
		t.Errorf("server called %d times, want 0", len(rec.paths))
	}
}

func TestIsRateLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"typed 429", fmt.Errorf("send: %w", genai.APIError{Code: http.StatusTooManyRequests}), true},
		{"typed exhausted", &genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, true},
		{"typed 503", genai.APIError{Code: http.StatusServiceUnavailable}, false},
		{"text 429", errors.New("status 429"), false},
		{"text exhausted", errors.New("rpc error: RESOURCE_EXHAUSTED"), false},
		{"429 in payload", errors.New("decode: want 4 bytes, got 429"), false},
	}
	for _, tt := range tests {
		if got := isRateLimit(tt.err); got != tt.want {
			t.Errorf("%s: isRateLimit(%q) = %v, want %v", tt.name, tt.err, got, tt.want)
		}
	}
}
