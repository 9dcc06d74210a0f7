// Package feedback implements the feedback gate: after a verified wake the
// device asks the backend to notify the paired app and waits for the user to
// acknowledge on the phone before it starts listening for a command.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/sarvis/internal/fault"
	"github.com/MrWong99/sarvis/internal/observe"
	"github.com/MrWong99/sarvis/internal/resilience"
)

const (
	// DefaultPath is the backend route that relays the trigger to the app.
	DefaultPath = "/api/voice-command/trigger/"

	// DefaultTimeout bounds the wait for the user's acknowledgement.
	DefaultTimeout = 10 * time.Second
)

// Outcome is the result of one trigger.
type Outcome int

const (
	// Success means the app confirmed; command collection may start.
	Success Outcome = iota

	// Rejected means the backend answered but did not confirm, or the call
	// failed outright.
	Rejected

	// TimedOut means no answer arrived before the deadline.
	TimedOut
)

// String returns the lower_snake name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Request describes the trigger currently in flight.
type Request struct {
	UID      string
	IssuedAt time.Time
	Deadline time.Time
}

// errNotConfirmed marks a backend "no" so the breaker does not count it.
var errNotConfirmed = errors.New("feedback: not confirmed")

// Gate sends wake triggers to the backend. It never retries.
type Gate struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	now        func() time.Time

	mu      sync.Mutex
	pending *Request
}

// Option configures a Gate.
type Option func(*gateConfig)

type gateConfig struct {
	path       string
	timeout    time.Duration
	httpClient *http.Client
	breaker    resilience.CircuitBreakerConfig
	now        func() time.Time
}

// WithPath overrides DefaultPath.
func WithPath(p string) Option {
	return func(c *gateConfig) { c.path = p }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *gateConfig) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *gateConfig) { c.httpClient = hc }
}

// WithBreaker tunes the circuit breaker around the backend. Name, IsFailure
// and Now are set by the gate.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *gateConfig) { c.breaker = cfg }
}

// WithClock overrides time.Now for request bookkeeping and the breaker.
func WithClock(now func() time.Time) Option {
	return func(c *gateConfig) { c.now = now }
}

// New creates a Gate for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Gate, error) {
	if baseURL == "" {
		return nil, errors.New("feedback: backend baseURL must not be empty")
	}
	cfg := gateConfig{
		path:       DefaultPath,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
		breaker:    resilience.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.timeout <= 0 {
		return nil, fmt.Errorf("feedback: timeout must be positive, got %v", cfg.timeout)
	}

	bc := cfg.breaker
	bc.Name = "feedback"
	bc.Now = cfg.now
	bc.IsFailure = func(err error) bool {
		return err != nil && !errors.Is(err, errNotConfirmed)
	}

	return &Gate{
		url:        strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(cfg.path, "/"),
		timeout:    cfg.timeout,
		httpClient: cfg.httpClient,
		breaker:    resilience.NewCircuitBreaker(bc),
		now:        cfg.now,
	}, nil
}

// Breaker exposes the gate's circuit breaker for health reporting.
func (g *Gate) Breaker() *resilience.CircuitBreaker { return g.breaker }

// Pending returns the trigger currently in flight, if any.
func (g *Gate) Pending() (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Request{}, false
	}
	return *g.pending, true
}

type triggerRequest struct {
	UID string `json:"uid"`
}

type triggerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Trigger asks the backend to notify uid's app and blocks until it answers,
// the gate timeout passes or ctx ends. The error is nil only for Success;
// otherwise it is a classified fault describing why the gate stayed closed.
func (g *Gate) Trigger(ctx context.Context, uid string) (Outcome, error) {
	if uid == "" {
		return Rejected, fault.Rejected("feedback", "missing_uid")
	}

	issued := g.now()
	g.mu.Lock()
	g.pending = &Request{UID: uid, IssuedAt: issued, Deadline: issued.Add(g.timeout)}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.pending = nil
		g.mu.Unlock()
	}()

	ctx, span := observe.StartSpan(ctx, "feedback.trigger")
	defer span.End()
	span.SetAttributes(observe.SpeakerIDKey.String(uid))

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := g.breaker.Execute(func() error { return g.send(ctx, uid) })
	outcome, ferr := classify(err)
	span.SetAttributes(observe.OutcomeKey.String(outcome.String()))
	if ferr != nil && outcome != Rejected {
		span.SetStatus(codes.Error, ferr.Error())
	}
	return outcome, ferr
}

func classify(err error) (Outcome, error) {
	switch {
	case err == nil:
		return Success, nil
	case errors.Is(err, resilience.ErrCircuitOpen):
		return Rejected, fault.New(fault.Network, "feedback", "circuit_open", err)
	case errors.Is(err, errNotConfirmed):
		var fe *fault.Error
		if errors.As(err, &fe) {
			return Rejected, fe
		}
		return Rejected, fault.Rejected("feedback", "not_confirmed")
	}
	ferr := fault.FromHTTP("feedback", err)
	if errors.Is(ferr, fault.ErrNetworkTimeout) {
		return TimedOut, ferr
	}
	return Rejected, ferr
}

func (g *Gate) send(ctx context.Context, uid string) error {
	body, err := json.Marshal(triggerRequest{UID: uid})
	if err != nil {
		return fmt.Errorf("feedback: encode trigger: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("feedback: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("feedback: trigger: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("feedback: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		// Only 5xx counts against the breaker.
		reason := fmt.Sprintf("http_%d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("feedback: trigger returned HTTP %d", resp.StatusCode)
		}
		return notConfirmed(reason)
	}

	var tr triggerResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return notConfirmed("bad_response")
	}
	if !tr.Success {
		slog.Debug("feedback: app did not confirm", "uid", uid, "message", tr.Message)
		return notConfirmed("not_confirmed")
	}
	return nil
}

// notConfirmed returns a rejection that the breaker ignores.
func notConfirmed(reason string) error {
	return fmt.Errorf("%w: %w", errNotConfirmed, fault.Rejected("feedback", reason))
}
