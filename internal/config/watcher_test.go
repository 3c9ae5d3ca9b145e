package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  s2s:
    name: gemini-live
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  s2s:
    name: gemini-live
audio:
  capture:
    rms_threshold: 800
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeFile writes content and pushes the mtime forward by bump so that
// coarse filesystem timestamps still register a change.
func writeFile(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
	mtime := time.Now().Add(bump)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func newWatchedFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parley.yaml")
	writeFile(t, path, watcherValidYAML, 0)
	return path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, err := config.NewWatcher(newWatchedFile(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg := w.Current(); cfg == nil || cfg.Server.LogLevel != config.LogInfo {
		t.Fatalf("Current() = %+v", cfg)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_CheckDetectsChange(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t)

	var gotOld, gotNew *config.Config
	var gotDiff config.ConfigDiff
	w, err := config.NewWatcher(path, func(old, new *config.Config, d config.ConfigDiff) {
		gotOld, gotNew, gotDiff = old, new, d
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeFile(t, path, watcherUpdatedYAML, time.Second)
	if !w.Check() {
		t.Fatal("Check did not report the change")
	}
	if gotOld == nil || gotOld.Server.LogLevel != config.LogInfo {
		t.Errorf("old config = %+v", gotOld)
	}
	if gotNew != w.Current() || gotNew.Audio.Capture.RMSThreshold != 800 {
		t.Errorf("new config = %+v", gotNew)
	}
	if !gotDiff.LogLevelChanged || !gotDiff.CaptureChanged {
		t.Errorf("diff = %+v", gotDiff)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t)
	called := false
	w, err := config.NewWatcher(path, func(*config.Config, *config.Config, config.ConfigDiff) { called = true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := w.Current()

	writeFile(t, path, watcherInvalidYAML, time.Second)
	if w.Check() {
		t.Error("Check accepted an invalid file")
	}
	if called {
		t.Error("callback invoked for an invalid file")
	}
	if w.Current() != before {
		t.Error("current config replaced by an invalid file")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t)
	called := false
	w, err := config.NewWatcher(path, func(*config.Config, *config.Config, config.ConfigDiff) { called = true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeFile(t, path, watcherValidYAML, time.Second)
	if w.Check() || called {
		t.Error("identical content reported as a change")
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t)
	changed := make(chan struct{}, 1)
	w, err := config.NewWatcher(path, func(*config.Config, *config.Config, config.ConfigDiff) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, path, watcherUpdatedYAML, time.Second)
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}
