package feedback_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/sarvis/internal/fault"
	"github.com/MrWong99/sarvis/internal/feedback"
	"github.com/MrWong99/sarvis/internal/observe"
	"github.com/MrWong99/sarvis/internal/resilience"
)

// backend returns a test server that answers triggers with handler and
// counts requests.
func backend(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newGate(t *testing.T, url string, opts ...feedback.Option) *feedback.Gate {
	t.Helper()
	g, err := feedback.New(url, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestTrigger_Success(t *testing.T) {
	var gotPath, gotUID string
	srv, _ := backend(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body struct {
			UID string `json:"uid"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotUID = body.UID
		_, _ = w.Write([]byte(`{"success": true, "message": "ok", "uid": "u-1"}`))
	})

	g := newGate(t, srv.URL+"/")
	out, err := g.Trigger(context.Background(), "u-1")
	if err != nil || out != feedback.Success {
		t.Fatalf("Trigger = %v, %v; want success", out, err)
	}
	if gotPath != feedback.DefaultPath {
		t.Errorf("path = %q, want %q", gotPath, feedback.DefaultPath)
	}
	if gotUID != "u-1" {
		t.Errorf("uid = %q", gotUID)
	}
}

func TestTrigger_RecordsSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	srv, _ := backend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "message": "dismissed"}`))
	})
	if out, _ := newGate(t, srv.URL).Trigger(context.Background(), "u-7"); out != feedback.Rejected {
		t.Fatalf("outcome = %v, want rejected", out)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "feedback.trigger" {
		t.Fatalf("spans = %v", spans)
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs[string(observe.SpeakerIDKey)] != "u-7" || attrs[string(observe.OutcomeKey)] != "rejected" {
		t.Errorf("span attributes = %v", attrs)
	}
	// A user declining is not a span error.
	if spans[0].Status.Code == codes.Error {
		t.Errorf("span status = %v", spans[0].Status)
	}
}

func TestTrigger_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		reason string
	}{
		{"success false", http.StatusOK, `{"success": false, "message": "no session"}`, "not_confirmed"},
		{"missing success", http.StatusOK, `{}`, "not_confirmed"},
		{"not json", http.StatusOK, `<html>`, "bad_response"},
		{"no active session", http.StatusNotFound, `{"success": false}`, "http_404"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := backend(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			g := newGate(t, srv.URL)
			out, err := g.Trigger(context.Background(), "u-1")
			if out != feedback.Rejected {
				t.Fatalf("outcome = %v, want rejected", out)
			}
			if !errors.Is(err, fault.ErrValidationRejected) {
				t.Fatalf("err = %v, want validation rejection", err)
			}
			var fe *fault.Error
			if errors.As(err, &fe) && fe.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", fe.Reason, tt.reason)
			}
		})
	}
}

func TestTrigger_ServerErrorIsNetworkFault(t *testing.T) {
	srv, _ := backend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	g := newGate(t, srv.URL)
	out, err := g.Trigger(context.Background(), "u-1")
	if out != feedback.Rejected {
		t.Fatalf("outcome = %v, want rejected", out)
	}
	if !errors.Is(err, fault.ErrNetwork) {
		t.Fatalf("err = %v, want network fault", err)
	}
}

func TestTrigger_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv, _ := backend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	g := newGate(t, srv.URL, feedback.WithTimeout(30*time.Millisecond))
	start := time.Now()
	out, err := g.Trigger(context.Background(), "u-1")
	if out != feedback.TimedOut {
		t.Fatalf("outcome = %v, want timed_out", out)
	}
	if !errors.Is(err, fault.ErrNetworkTimeout) {
		t.Fatalf("err = %v, want network timeout", err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Errorf("Trigger took %v, want about the gate timeout", took)
	}
}

func TestTrigger_PendingWhileOutstanding(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv, _ := backend(t, func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write([]byte(`{"success": true}`))
	})

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	g := newGate(t, srv.URL, feedback.WithClock(func() time.Time { return now }))

	done := make(chan feedback.Outcome, 1)
	go func() {
		out, _ := g.Trigger(context.Background(), "u-7")
		done <- out
	}()

	<-entered
	req, ok := g.Pending()
	if !ok {
		t.Fatal("no pending request while trigger is outstanding")
	}
	if req.UID != "u-7" || !req.IssuedAt.Equal(now) || !req.Deadline.Equal(now.Add(feedback.DefaultTimeout)) {
		t.Errorf("pending = %+v", req)
	}
	close(release)

	if out := <-done; out != feedback.Success {
		t.Fatalf("outcome = %v", out)
	}
	if _, ok := g.Pending(); ok {
		t.Error("request still pending after completion")
	}
}

func TestTrigger_BreakerOpensOnNetworkFailures(t *testing.T) {
	srv, hits := backend(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	g := newGate(t, srv.URL, feedback.WithBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	}))

	for i := 0; i < 2; i++ {
		_, _ = g.Trigger(context.Background(), "u-1")
	}
	out, err := g.Trigger(context.Background(), "u-1")
	if out != feedback.Rejected || !errors.Is(err, fault.ErrNetwork) {
		t.Fatalf("Trigger = %v, %v; want fast network rejection", out, err)
	}
	var fe *fault.Error
	if !errors.As(err, &fe) || fe.Reason != "circuit_open" {
		t.Errorf("err = %v, want circuit_open reason", err)
	}
	if hits.Load() != 2 {
		t.Errorf("backend hit %d times, want 2", hits.Load())
	}
	if g.Breaker().State() != resilience.StateOpen {
		t.Errorf("breaker state = %v", g.Breaker().State())
	}
}

func TestTrigger_AppRejectionsDoNotOpenBreaker(t *testing.T) {
	srv, hits := backend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success": false}`))
	})
	g := newGate(t, srv.URL, feedback.WithBreaker(resilience.CircuitBreakerConfig{MaxFailures: 1}))

	for i := 0; i < 4; i++ {
		if out, _ := g.Trigger(context.Background(), "u-1"); out != feedback.Rejected {
			t.Fatalf("call %d: outcome = %v", i, out)
		}
	}
	if hits.Load() != 4 {
		t.Errorf("backend hit %d times, want 4", hits.Load())
	}
	if g.Breaker().State() != resilience.StateClosed {
		t.Errorf("breaker state = %v, want closed", g.Breaker().State())
	}
}

func TestTrigger_MissingUID(t *testing.T) {
	srv, hits := backend(t, func(w http.ResponseWriter, _ *http.Request) {})
	g := newGate(t, srv.URL)
	out, err := g.Trigger(context.Background(), "")
	if out != feedback.Rejected || !errors.Is(err, fault.ErrValidationRejected) {
		t.Fatalf("Trigger = %v, %v", out, err)
	}
	if hits.Load() != 0 {
		t.Error("backend called without uid")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := feedback.New(""); err == nil {
		t.Error("empty URL accepted")
	}
	if _, err := feedback.New("http://x", feedback.WithTimeout(0)); err == nil {
		t.Error("zero timeout accepted")
	}
}

func TestOutcome_String(t *testing.T) {
	for o, want := range map[feedback.Outcome]string{
		feedback.Success:     "success",
		feedback.Rejected:    "rejected",
		feedback.TimedOut:    "timed_out",
		feedback.Outcome(42): "unknown",
	} {
		if got := o.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", o, got, want)
		}
	}
}

func TestSkip(t *testing.T) {
	t.Parallel()
	out, err := feedback.Skip{}.Trigger(context.Background(), "")
	if err != nil || out != feedback.Success {
		t.Fatalf("Trigger = %v, %v", out, err)
	}
}
