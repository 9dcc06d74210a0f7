package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultPollInterval is how often the gate re-reads the store.
const defaultPollInterval = 200 * time.Millisecond

// Gate polls a [Store] and exposes whether the pipeline is enabled.
//
// Callers start polling with [Gate.Run]; workers read the latest state with
// [Gate.Enabled]. A store error closes the gate until the next successful
// poll.
//
// All methods are safe for concurrent use.
type Gate struct {
	store    Store
	interval time.Duration
	onChange func(Session)

	mu      sync.Mutex
	current Session
	polled  bool
}

// GateConfig configures a [Gate].
type GateConfig struct {
	// Store reports the login state. Required.
	Store Store

	// Interval is the poll period. Defaults to 200ms if zero.
	Interval time.Duration

	// OnChange is called after every poll whose enabled state or uid
	// differs from the previous one. May be nil.
	OnChange func(Session)
}

// NewGate creates a new [Gate] with the given configuration.
func NewGate(cfg GateConfig) *Gate {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Gate{
		store:    cfg.Store,
		interval: interval,
		onChange: cfg.OnChange,
	}
}

// Run polls the store until ctx is cancelled. It always returns ctx.Err().
func (g *Gate) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.Poll(ctx)
		}
	}
}

// Poll reads the store once and updates the gate.
func (g *Gate) Poll(ctx context.Context) Session {
	sess, err := g.store.Current(ctx)
	if err != nil {
		slog.Warn("session gate: store read failed", "error", err)
		sess = Session{Enrolling: sess.Enrolling}
	}

	g.mu.Lock()
	prev, polled := g.current, g.polled
	g.current, g.polled = sess, true
	g.mu.Unlock()

	if polled && prev.Enabled() == sess.Enabled() && prev.UID == sess.UID && prev.Enrolling == sess.Enrolling {
		return sess
	}
	switch {
	case sess.Enabled():
		slog.Info("session gate: pipeline enabled", "uid", sess.UID)
	case sess.Enrolling:
		slog.Info("session gate: enrollment in progress, pipeline paused")
	default:
		slog.Info("session gate: no user logged in, pipeline disabled")
	}
	if g.onChange != nil {
		g.onChange(sess)
	}
	return sess
}

// Enabled returns the logged-in uid and whether the pipeline may run.
func (g *Gate) Enabled() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.current.Enabled() {
		return "", false
	}
	return g.current.UID, true
}

// Session returns the most recent poll result.
func (g *Gate) Session() Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}
