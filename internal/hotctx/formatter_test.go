package hotctx_test

import (
	"testing"

	"github.com/MrWong99/parley/internal/hotctx"
	"github.com/MrWong99/parley/pkg/memory"
)

func TestFormatSystemPrompt(t *testing.T) {
	t.Parallel()

	const base = "You are a friendly companion."

	tests := []struct {
		name string
		hctx *hotctx.HotContext
		want string
	}{
		{name: "nil context", hctx: nil, want: base},
		{name: "empty context", hctx: &hotctx.HotContext{}, want: base},
		{
			name: "summary only",
			hctx: &hotctx.HotContext{RecentSummary: " Discussed chess. "},
			want: base + "\n\n## Last Conversation\nDiscussed chess.",
		},
		{
			name: "snippets only, blanks dropped",
			hctx: &hotctx.HotContext{Snippets: []memory.Snippet{{Content: "Likes tea."}, {Content: "  "}, {Content: "Owns a cat."}}},
			want: base + "\n\n## What You Remember About The User\n- Likes tea.\n- Owns a cat.",
		},
		{
			name: "both",
			hctx: &hotctx.HotContext{
				RecentSummary: "Discussed chess.",
				Snippets:      []memory.Snippet{{Content: "Likes tea."}},
			},
			want: base + "\n\n## Last Conversation\nDiscussed chess.\n\n## What You Remember About The User\n- Likes tea.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := hotctx.FormatSystemPrompt("  "+base+"\n", tt.hctx); got != tt.want {
				t.Errorf("got:\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}
