// Package health serves the liveness and readiness probes of the serve mode.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when every [Checker] passes and the server is
//     not draining. A draining server keeps its live sessions but should not
//     be sent new peers.
//
// Both respond with a JSON [Report].
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Report statuses.
const (
	StatusOK       = "ok"
	StatusFail     = "fail"
	StatusDraining = "draining"
)

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name labels the result in the report (e.g. "database", "memory").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Report is the JSON body of both probes.
type Report struct {
	Status string `json:"status"`

	// Checks maps each checker name to "ok" or "fail: <reason>".
	Checks map[string]string `json:"checks,omitempty"`

	// Sessions is the number of live sessions, when a counter is configured.
	Sessions *int `json:"sessions,omitempty"`

	UptimeSeconds int64 `json:"uptime_seconds"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
	sessions func() int
	started  time.Time
	draining atomic.Bool
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheckTimeout overrides [DefaultCheckTimeout].
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithSessionCount reports count() as the live session count.
func WithSessionCount(count func() int) Option {
	return func(h *Handler) { h.sessions = count }
}

// New creates a [Handler] evaluating checkers on every /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultCheckTimeout,
		started:  time.Now(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Drain marks the server as shutting down. /readyz fails from now on.
func (h *Handler) Drain() { h.draining.Store(true) }

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.report(StatusOK, nil))
}

// Readyz is the readiness probe. Checks run concurrently, each under its own
// timeout derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, h.report(StatusDraining, nil))
		return
	}

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = StatusFail + ": " + err.Error()
				failed = true
				return nil
			}
			checks[c.Name] = StatusOK
			return nil
		})
	}
	_ = g.Wait()

	if failed {
		writeJSON(w, http.StatusServiceUnavailable, h.report(StatusFail, checks))
		return
	}
	writeJSON(w, http.StatusOK, h.report(StatusOK, checks))
}

func (h *Handler) report(status string, checks map[string]string) Report {
	rep := Report{
		Status:        status,
		Checks:        checks,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	if h.sessions != nil {
		n := h.sessions()
		rep.Sessions = &n
	}
	return rep
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
