package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/sarvis/pkg/provider/stt"
	sttmock "github.com/MrWong99/sarvis/pkg/provider/stt/mock"
)

func sttRequest() stt.Request {
	return stt.Request{Samples: make([]int16, 1600), SampleRate: 16000, Language: "ko"}
}

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{Text: "앞으로 가"}
	secondary := &sttmock.Provider{Text: "unused"}

	fb := NewSTTFallback(primary, "remote", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper", secondary)

	tr, err := fb.Transcribe(context.Background(), sttRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "앞으로 가" {
		t.Fatalf("text = %q", tr.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Fatalf("calls primary=%d secondary=%d", primary.CallCount(), secondary.CallCount())
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("proxy down")}
	secondary := &sttmock.Provider{Text: "멈춰"}

	fb := NewSTTFallback(primary, "remote", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("whisper", secondary)

	tr, err := fb.Transcribe(context.Background(), sttRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "멈춰" {
		t.Fatalf("text = %q, want fallback transcript", tr.Text)
	}
	if got := secondary.Calls[0].Req.Language; got != "ko" {
		t.Errorf("language = %q, want ko", got)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	fb := NewSTTFallback(&sttmock.Provider{Err: errors.New("a")}, "remote", FallbackConfig{})
	fb.AddFallback("whisper", &sttmock.Provider{Err: errors.New("b")})

	if _, err := fb.Transcribe(context.Background(), sttRequest()); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_DeadlineDoesNotFailOver(t *testing.T) {
	primary := &sttmock.Provider{Block: true}
	secondary := &sttmock.Provider{Text: "unused"}
	fb := NewSTTFallback(primary, "remote", FallbackConfig{})
	fb.AddFallback("whisper", secondary)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := fb.Transcribe(ctx, sttRequest()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times after the deadline", secondary.CallCount())
	}
}
