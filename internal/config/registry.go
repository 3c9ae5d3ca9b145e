package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/converse"
	"github.com/MrWong99/parley/pkg/provider/embeddings"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/s2s"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by [Factories.Create] for a name
// nothing was registered under.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Factories holds the constructors for one kind of provider.
type Factories[T any] struct {
	kind string

	mu sync.RWMutex
	m  map[string]Factory[T]
}

func newFactories[T any](kind string) *Factories[T] {
	return &Factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

// Register binds name to f, replacing any earlier binding.
func (f *Factories[T]) Register(name string, fn Factory[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[name] = fn
}

// Names lists the registered names in sorted order.
func (f *Factories[T]) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.m))
}

// Create builds the provider entry names. An entry with no name is an unused
// slot and yields the zero value without error.
func (f *Factories[T]) Create(entry ProviderEntry) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}

	f.mu.RLock()
	fn, ok := f.m[entry.Name]
	f.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s %q (have: %s)", ErrProviderNotRegistered, f.kind, entry.Name, strings.Join(f.Names(), ", "))
	}

	p, err := fn(entry)
	if err != nil {
		return zero, fmt.Errorf("config: create %s provider %q: %w", f.kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", f.kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// Registry groups the factories of every provider kind. Its fields are set
// by [NewRegistry] and safe for concurrent use.
type Registry struct {
	S2S        *Factories[s2s.Provider]
	TTS        *Factories[tts.Provider]
	Converse   *Factories[converse.Provider]
	LLM        *Factories[llm.Provider]
	Embeddings *Factories[embeddings.Provider]
}

// NewRegistry returns a Registry with nothing registered.
func NewRegistry() *Registry {
	return &Registry{
		S2S:        newFactories[s2s.Provider]("s2s"),
		TTS:        newFactories[tts.Provider]("tts"),
		Converse:   newFactories[converse.Provider]("converse"),
		LLM:        newFactories[llm.Provider]("llm"),
		Embeddings: newFactories[embeddings.Provider]("embeddings"),
	}
}
