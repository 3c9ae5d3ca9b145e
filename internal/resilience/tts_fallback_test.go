package resilience

import (
	"errors"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize(t *testing.T) {
	t.Parallel()

	voice := tts.VoiceProfile{ID: "v1", Name: "TestVoice"}

	tests := []struct {
		name          string
		primaryErr    error
		secondaryErr  error
		want          string
		wantErr       error
		wantSecondary int
	}{
		{name: "primary success", want: "primary-wav"},
		{name: "failover", primaryErr: errors.New("primary down"), want: "fallback-wav", wantSecondary: 1},
		{name: "all fail", primaryErr: errors.New("a"), secondaryErr: errors.New("b"), wantErr: ErrAllFailed, wantSecondary: 1},
		{name: "empty text is not failed over", primaryErr: tts.ErrEmptyText, wantErr: tts.ErrEmptyText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			primary := &ttsmock.Provider{SynthesizeResult: []byte("primary-wav"), SynthesizeErr: tt.primaryErr}
			secondary := &ttsmock.Provider{SynthesizeResult: []byte("fallback-wav"), SynthesizeErr: tt.secondaryErr}

			fb := NewTTSFallback(primary, "primary", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fb.AddFallback("secondary", secondary)

			got, err := fb.Synthesize(t.Context(), "hello", voice)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if string(got) != tt.want {
					t.Errorf("result = %q, want %q", got, tt.want)
				}
			}

			calls := primary.Calls()
			if len(calls) != 1 || calls[0].Text != "hello" || calls[0].Voice.ID != "v1" {
				t.Errorf("primary calls = %+v", calls)
			}
			if n := len(secondary.Calls()); n != tt.wantSecondary {
				t.Errorf("secondary called %d times, want %d", n, tt.wantSecondary)
			}
		})
	}
}

func TestTTSFallback_ListVoices_Failover(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Provider{ListVoicesErr: errors.New("down")}
	secondary := &ttsmock.Provider{
		ListVoicesResult: []tts.VoiceProfile{{ID: "v2", Name: "Fallback"}},
	}
	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v2" {
		t.Fatalf("voices = %+v", voices)
	}
	if primary.Lookups() != 1 || secondary.Lookups() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.Lookups(), secondary.Lookups())
	}
}
