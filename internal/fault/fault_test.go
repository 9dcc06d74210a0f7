package fault_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/sarvis/internal/fault"
)

func TestIsMatchesKind(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("wrapped: %w", fault.Rejected("speaker", "segment_too_short"))
	if !errors.Is(err, fault.ErrValidationRejected) {
		t.Error("expected match on ErrValidationRejected")
	}
	if errors.Is(err, fault.ErrNetwork) {
		t.Error("unexpected match on ErrNetwork")
	}
	if got := fault.KindOf(err); got != fault.ValidationRejected {
		t.Errorf("KindOf = %v", got)
	}
	if got := fault.KindOf(errors.New("plain")); got != fault.Unknown {
		t.Errorf("KindOf(plain) = %v", got)
	}
}

func TestErrorString(t *testing.T) {
	t.Parallel()
	err := fault.New(fault.Network, "feedback", "status_502", errors.New("bad gateway"))
	want := "feedback: network (status_502): bad gateway"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestUnwrap(t *testing.T) {
	t.Parallel()
	base := errors.New("boom")
	if !errors.Is(fault.DeviceError(base), base) {
		t.Error("DeviceError must unwrap to the cause")
	}
}

func TestFromHTTP(t *testing.T) {
	t.Parallel()

	if fault.FromHTTP("stt", nil) != nil {
		t.Error("nil must stay nil")
	}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if err := fault.FromHTTP("stt", ctx.Err()); !errors.Is(err, fault.ErrNetworkTimeout) {
		t.Errorf("deadline: got %v", err)
	}

	// A real client timeout surfaces as a net.Error with Timeout() == true.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	client := &http.Client{Timeout: 20 * time.Millisecond}
	_, err := client.Get(srv.URL)
	if err == nil {
		t.Fatal("expected client timeout")
	}
	if got := fault.FromHTTP("feedback", err); !errors.Is(got, fault.ErrNetworkTimeout) {
		t.Errorf("client timeout: got %v", got)
	}

	if got := fault.FromHTTP("stt", errors.New("connection refused")); !errors.Is(got, fault.ErrNetwork) {
		t.Errorf("generic: got %v", got)
	}

	classified := fault.Rejected("wake", "no_match")
	if got := fault.FromHTTP("stt", classified); got != error(classified) {
		t.Errorf("classified errors must pass through, got %v", got)
	}
}
