package coqui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ---- test helpers ----

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

// sentencePCM returns 10 samples whose value encodes the sentence length so
// tests can check ordering after concatenation.
func sentencePCM(sentence string) []byte {
	s := make([]int16, 10)
	for i := range s {
		s[i] = int16(len(sentence))
	}
	return audio.Int16ToBytes(s)
}

// ---- Provider creation ----

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002/")
		if p.baseURL != "http://localhost:5002" {
			t.Errorf("baseURL = %q, want trailing slash stripped", p.baseURL)
		}
		if p.language != defaultLanguage {
			t.Errorf("language = %q, want %q", p.language, defaultLanguage)
		}
		if p.client.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.client.Timeout, defaultTimeout)
		}
		if _, ok := p.dialect.(standardDialect); !ok || p.mode != APIModeStandard {
			t.Errorf("mode = %q with %T, want standard", p.mode, p.dialect)
		}
	})

	t.Run("options", func(t *testing.T) {
		p := mustNew(t, "http://x", WithLanguage("de"), WithTimeout(5*time.Second), WithAPIMode(APIModeXTTS), WithOutputSampleRate(24000))
		if p.language != "de" || p.client.Timeout != 5*time.Second || p.mode != APIModeXTTS || p.outputRate != 24000 {
			t.Errorf("options not applied: %+v", p)
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Error("expected error for empty server URL")
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		if _, err := New("http://x", WithAPIMode("piper")); err == nil {
			t.Error("expected error for unknown api mode")
		}
	})
}

// ---- Synthesize ----

func TestSynthesize_StandardAPI_JoinsSentencesInOrder(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Method != http.MethodGet || r.URL.Path != standardTTSPath {
			http.Error(w, "unexpected", http.StatusNotFound)
			return
		}
		q := r.URL.Query()
		if q.Get("speaker_id") != "p225" || q.Get("language_id") != "en" {
			http.Error(w, "bad params", http.StatusBadRequest)
			return
		}
		text := q.Get("text")
		// Make the first sentence slowest to prove ordering is preserved.
		if strings.HasPrefix(text, "Hi") {
			time.Sleep(30 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(sentencePCM(text), 16000))
	}))
	t.Cleanup(srv.Close)

	p := mustNew(t, srv.URL)
	wav, err := p.Synthesize(t.Context(), "Hi. How are you today? Fine!", tts.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}

	pcm, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	samples := audio.BytesToInt16(pcm)
	if len(samples) != 30 {
		t.Fatalf("samples = %d, want 30", len(samples))
	}
	want := []int16{int16(len("Hi.")), int16(len("How are you today?")), int16(len("Fine!"))}
	for i, w := range want {
		if samples[i*10] != w {
			t.Errorf("sentence %d marker = %d, want %d", i, samples[i*10], w)
		}
	}
}

func TestSynthesize_XTTS_PostsJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != xttsTTSPath {
			http.Error(w, "unexpected", http.StatusNotFound)
			return
		}
		var req xttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.SpeakerWav != "Ana Florence" || req.Language != "en" || req.Text != "Hello there" {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		_, _ = w.Write(audio.EncodeWAV(sentencePCM(req.Text), 24000))
	}))
	t.Cleanup(srv.Close)

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	wav, err := p.Synthesize(t.Context(), "Hello there", tts.VoiceProfile{ID: "Ana Florence"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if _, rate, err := audio.DecodeWAV(wav); err != nil || rate != 24000 {
		t.Errorf("DecodeWAV rate=%d err=%v, want 24000", rate, err)
	}
}

func TestSynthesize_OutputSampleRate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// 100 ms at 22050 Hz.
		_, _ = w.Write(audio.EncodeWAV(make([]byte, 2*2205), 22050))
	}))
	t.Cleanup(srv.Close)

	p := mustNew(t, srv.URL, WithOutputSampleRate(24000))
	wav, err := p.Synthesize(t.Context(), "Resample me", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	pcm, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 24000 {
		t.Errorf("rate = %d, want 24000", rate)
	}
	if got := audio.PCMDuration(len(pcm), rate); got != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", got)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		mode    APIMode
		text    string
		voice   tts.VoiceProfile
		wantErr error
	}{
		{
			name:    "empty text",
			text:    "   ",
			wantErr: tts.ErrEmptyText,
		},
		{
			name:  "xtts without voice",
			mode:  APIModeXTTS,
			text:  "Hello",
			voice: tts.VoiceProfile{},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			text: "Hello.",
		},
		{
			name: "not a wav",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("definitely not audio"))
			},
			text:    "Hello.",
			wantErr: audio.ErrInvalidWAV,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := tt.handler
			if h == nil {
				h = func(w http.ResponseWriter, _ *http.Request) {
					t.Error("server should not be called")
				}
			}
			srv := httptest.NewServer(h)
			t.Cleanup(srv.Close)

			opts := []Option{}
			if tt.mode != "" {
				opts = append(opts, WithAPIMode(tt.mode))
			}
			p := mustNew(t, srv.URL, opts...)
			_, err := p.Synthesize(t.Context(), tt.text, tt.voice)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	p := mustNew(t, srv.URL)
	if _, err := p.Synthesize(ctx, "Too slow.", tts.VoiceProfile{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

// ---- sentence splitting ----

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"Hello world", []string{"Hello world"}},
		{"One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"Pi is 3.14 roughly. Yes.", []string{"Pi is 3.14 roughly.", "Yes."}},
		{"Trailing fragment. and more", []string{"Trailing fragment.", "and more"}},
		{"First line\nsecond line", []string{"First line", "second line"}},
		{"Wait?! Really. Ünïcode.", []string{"Wait?!", "Really.", "Ünïcode."}},
		{"Ellipsis... then more", []string{"Ellipsis...", "then more"}},
		{"  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := splitSentences(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("splitSentences(%q) = %q, want %q", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sentence %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// ---- ListVoices ----

func TestListVoices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mode    APIMode
		path    string
		body    string
		wantIDs []string
	}{
		{
			name:    "xtts studio speakers sorted",
			mode:    APIModeXTTS,
			path:    xttsSpeakersPath,
			body:    `{"Zed":{},"Ana":{}}`,
			wantIDs: []string{"Ana", "Zed"},
		},
		{
			name:    "standard multi speaker",
			mode:    APIModeStandard,
			path:    standardDetailsPath,
			body:    `{"model_name":"vctk","speakers":["p226","p225"]}`,
			wantIDs: []string{"p225", "p226"},
		},
		{
			name:    "standard single speaker",
			mode:    APIModeStandard,
			path:    standardDetailsPath,
			body:    `{"model_name":"ljspeech"}`,
			wantIDs: []string{"ljspeech"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.path {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)

			voices, err := mustNew(t, srv.URL, WithAPIMode(tt.mode)).ListVoices(t.Context())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			if len(voices) != len(tt.wantIDs) {
				t.Fatalf("got %d voices, want %d", len(voices), len(tt.wantIDs))
			}
			for i, v := range voices {
				if v.ID != tt.wantIDs[i] || v.Provider != "coqui" {
					t.Errorf("voice %d = %+v, want ID %q", i, v, tt.wantIDs[i])
				}
			}
		})
	}
}

func TestListVoices_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	if _, err := mustNew(t, srv.URL).ListVoices(t.Context()); err == nil {
		t.Error("expected error")
	}
}
