package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/parley/internal/observe"
)

// ErrAllFailed is returned when no backend in a [FallbackGroup] produced a
// result, either because it failed or because its breaker was open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each backend's breaker. Its Name is
	// replaced with the backend name.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels metrics and log lines, e.g. "tts" or "llm".
	Kind string

	// Metrics, when set, receives provider errors and failovers.
	Metrics *observe.Metrics
}

// BackendStatus is a point-in-time view of one backend.
type BackendStatus struct {
	Name  string
	State State
}

type backend[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup calls a preferred backend and moves down an ordered list of
// alternatives when it fails. Every backend has its own breaker, so a
// backend that keeps failing is skipped until its breaker probes again.
type FallbackGroup[T any] struct {
	cfg FallbackConfig

	mu       sync.RWMutex
	backends []*backend[T]
}

// NewFallbackGroup returns a group whose first backend is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend tried after all those added before it.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name

	fg.mu.Lock()
	defer fg.mu.Unlock()
	fg.backends = append(fg.backends, &backend[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Backends reports every backend's breaker state in call order.
func (fg *FallbackGroup[T]) Backends() []BackendStatus {
	backends := fg.snapshot()
	out := make([]BackendStatus, 0, len(backends))
	for _, b := range backends {
		out = append(out, BackendStatus{Name: b.name, State: b.breaker.State()})
	}
	return out
}

// Healthy returns nil while at least one backend would accept a call.
func (fg *FallbackGroup[T]) Healthy() error {
	for _, b := range fg.snapshot() {
		if b.breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: every %s circuit is open", ErrAllFailed, fg.kind())
}

// Execute calls fn with each backend in turn until one returns nil.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a value.
//
// An error the backend's breaker does not count as a failure, such as a
// cancelled context or a caller mistake, is returned as-is because the next
// backend would fail the same way. Otherwise the last error is wrapped in
// [ErrAllFailed].
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
		from    string
	)
	for _, b := range fg.snapshot() {
		var result R
		err := b.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(ctx, b.value)
			return callErr
		})
		if err == nil {
			if from != "" {
				fg.failedOver(ctx, from, b.name)
			}
			return result, nil
		}
		if !errors.Is(err, ErrCircuitOpen) && !b.breaker.cfg.IsFailure(err) {
			return zero, err
		}

		lastErr = err
		if from == "" {
			from = b.name
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "kind", fg.kind(), "provider", b.name)
			continue
		}
		slog.Warn("provider failed, trying next", "kind", fg.kind(), "provider", b.name, "err", err)
		if fg.cfg.Metrics != nil {
			fg.cfg.Metrics.RecordProviderError(ctx, b.name, fg.kind())
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) failedOver(ctx context.Context, from, to string) {
	slog.Info("provider failover", "kind", fg.kind(), "from", from, "to", to)
	if fg.cfg.Metrics != nil {
		fg.cfg.Metrics.RecordFailover(ctx, fg.kind(), from, to)
	}
}

func (fg *FallbackGroup[T]) snapshot() []*backend[T] {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	return fg.backends
}

func (fg *FallbackGroup[T]) kind() string {
	if fg.cfg.Kind == "" {
		return "provider"
	}
	return fg.cfg.Kind
}
