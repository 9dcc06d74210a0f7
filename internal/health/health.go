// Package health serves the liveness and readiness probes of the ops server.
//
//   - GET /healthz reports that the process is serving and, when a
//     [StatusFunc] is set, a snapshot of the pipeline (mode, session, uptime).
//     It always answers 200.
//   - GET /readyz answers 200 only while every [Checker] passes. On the device
//     this means the microphone is being read and a user is logged in.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check. Checks on the device are
// in-memory flags, so anything slower is itself a failure.
const checkTimeout = time.Second

// Checker is a named readiness condition. Check returns nil when satisfied
// and an error describing why not otherwise.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// StatusFunc returns the fields reported under "pipeline" by /healthz. It is
// called on every request and must be safe for concurrent use.
type StatusFunc func() map[string]string

type liveness struct {
	Status   string            `json:"status"`
	Uptime   string            `json:"uptime"`
	Pipeline map[string]string `json:"pipeline,omitempty"`
}

type readiness struct {
	Status string            `json:"status"`
	Reason string            `json:"reason,omitempty"`
	Checks map[string]string `json:"checks"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
	status   StatusFunc
	started  time.Time
	now      func() time.Time
}

// Option configures a [Handler].
type Option func(*Handler)

// WithStatus sets the snapshot reported by /healthz.
func WithStatus(fn StatusFunc) Option {
	return func(h *Handler) { h.status = fn }
}

// WithClock replaces time.Now for uptime reporting.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates a Handler evaluating checkers in order on each /readyz.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	h.started = h.now()
	return h
}

// Healthz always answers 200 while the process can serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := liveness{
		Status: "ok",
		Uptime: h.now().Sub(h.started).Truncate(time.Second).String(),
	}
	if h.status != nil {
		res.Pipeline = h.status()
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz answers 503 with the first failing check as "reason" when any
// checker fails. Every checker runs so the body lists all of them.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := readiness{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()
		if err == nil {
			res.Checks[c.Name] = "ok"
			continue
		}
		res.Checks[c.Name] = "fail: " + err.Error()
		if res.Reason == "" {
			res.Status = "fail"
			res.Reason = c.Name + ": " + err.Error()
		}
	}

	code := http.StatusOK
	if res.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
