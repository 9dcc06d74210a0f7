package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/sarvis/internal/health"
)

type body struct {
	Status   string            `json:"status"`
	Uptime   string            `json:"uptime"`
	Reason   string            `json:"reason"`
	Pipeline map[string]string `json:"pipeline"`
	Checks   map[string]string `json:"checks"`
}

func get(ctx context.Context, t *testing.T, h *health.Handler, path string) (int, body) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var b body
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, b
}

func pass(name string) health.Checker {
	return health.Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func TestHealthz_ReportsPipelineStatus(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h := health.New(nil,
		health.WithClock(clock),
		health.WithStatus(func() map[string]string {
			return map[string]string{"mode": "active", "uid": "42"}
		}),
	)
	now = now.Add(90*time.Second + 300*time.Millisecond)

	code, b := get(context.Background(), t, h, "/healthz")
	if code != http.StatusOK || b.Status != "ok" {
		t.Fatalf("/healthz = %d %+v", code, b)
	}
	if b.Uptime != "1m30s" {
		t.Errorf("uptime = %q, want 1m30s", b.Uptime)
	}
	if b.Pipeline["mode"] != "active" || b.Pipeline["uid"] != "42" {
		t.Errorf("pipeline = %v", b.Pipeline)
	}
}

func TestHealthz_OKWhileNotReady(t *testing.T) {
	t.Parallel()
	h := health.New([]health.Checker{{Name: "session", Check: func(context.Context) error {
		return errors.New("no active user")
	}}})
	if code, _ := get(context.Background(), t, h, "/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", code)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	noUser := health.Checker{Name: "session", Check: func(context.Context) error {
		return errors.New("pipeline disabled: no active user")
	}}
	stopped := health.Checker{Name: "capture", Check: func(context.Context) error {
		return errors.New("capture is not running")
	}}

	tests := []struct {
		name       string
		checkers   []health.Checker
		wantCode   int
		wantReason string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{},
		},
		{
			name:       "all pass",
			checkers:   []health.Checker{pass("capture")},
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"capture": "ok"},
		},
		{
			name:       "session closed",
			checkers:   []health.Checker{pass("capture"), noUser},
			wantCode:   http.StatusServiceUnavailable,
			wantReason: "session: pipeline disabled: no active user",
			wantChecks: map[string]string{"capture": "ok", "session": "fail: pipeline disabled: no active user"},
		},
		{
			name:       "first failure is the reason",
			checkers:   []health.Checker{stopped, noUser},
			wantCode:   http.StatusServiceUnavailable,
			wantReason: "capture: capture is not running",
			wantChecks: map[string]string{
				"capture": "fail: capture is not running",
				"session": "fail: pipeline disabled: no active user",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, b := get(context.Background(), t, health.New(tt.checkers), "/readyz")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if b.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", b.Reason, tt.wantReason)
			}
			if len(b.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", b.Checks, tt.wantChecks)
			}
			for k, v := range tt.wantChecks {
				if b.Checks[k] != v {
					t.Errorf("checks[%q] = %q, want %q", k, b.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()
	h := health.New([]health.Checker{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code, _ := get(ctx, t, h, "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", code)
	}
}
