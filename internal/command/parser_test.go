package command_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sarvis/internal/command"
)

// stubFallback is a scripted command.Fallback.
type stubFallback struct {
	mu     sync.Mutex
	result command.Result
	err    error
	block  bool
	calls  []command.Request
}

func (s *stubFallback) ParseCommand(ctx context.Context, req command.Request) (command.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return command.Result{}, ctx.Err()
	}
	return s.result, s.err
}

func (s *stubFallback) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestParse_RuleMatchSkipsFallback(t *testing.T) {
	fb := &stubFallback{result: command.Home()}
	p := command.NewParser(fb)

	for _, text := range []string{"멈춰", "stop"} {
		got := p.Parse(context.Background(), text, command.ModeIdle, "alice", "req1")
		if got.Kind != command.KindStop {
			t.Errorf("Parse(%q) = %v, want STOP", text, got)
		}
		if got.Transcript != text || got.SpeakerID != "alice" || got.RequestID != "req1" {
			t.Errorf("attribution = %+v", got)
		}
	}
	if fb.callCount() != 0 {
		t.Errorf("fallback called %d times for rule-matchable text", fb.callCount())
	}
}

func TestParse_EmptyTranscript(t *testing.T) {
	fb := &stubFallback{}
	p := command.NewParser(fb)
	got := p.Parse(context.Background(), "  ", command.ModeIdle, "alice", "r")
	if got.Kind != command.KindReject || got.Reason != command.ReasonEmptyASR {
		t.Fatalf("got %v, want REJECT(empty_asr)", got)
	}
	if fb.callCount() != 0 {
		t.Error("fallback called for empty transcript")
	}
}

func TestParse_YoutubeGate(t *testing.T) {
	p := command.NewParser(nil)
	state := command.NewRuntimeState()

	got := p.Parse(context.Background(), "일시정지", state.Mode(), "", "")
	if got.Kind != command.KindReject || got.Reason != command.ReasonNotInYoutube {
		t.Fatalf("idle pause = %v, want REJECT(not_in_youtube)", got)
	}

	open := p.Parse(context.Background(), "유튜브 켜줘", state.Mode(), "", "")
	if open.Kind != command.KindYoutubeOpen {
		t.Fatalf("open = %v", open)
	}
	if !state.Apply(open) {
		t.Fatal("Apply(YoutubeOpen) did not change the mode")
	}

	got = p.Parse(context.Background(), "일시정지", state.Mode(), "", "")
	if got.Kind != command.KindYoutubePause {
		t.Fatalf("youtube pause = %v, want YOUTUBE_PAUSE", got)
	}
}

func TestParse_FallbackUsedForUnmatchedText(t *testing.T) {
	fb := &stubFallback{result: command.Move(command.Left)}
	p := command.NewParser(fb)

	got := p.Parse(context.Background(), "저기 창문 쪽으로 조금", command.ModeYoutube, "bob", "abc123")
	if got.Kind != command.KindMove || got.Direction != command.Left {
		t.Fatalf("got %v", got)
	}
	if fb.callCount() != 1 {
		t.Fatalf("fallback calls = %d", fb.callCount())
	}
	req := fb.calls[0]
	if req.Text != "저기 창문 쪽으로 조금" || req.Mode != command.ModeYoutube || req.SpeakerID != "bob" || req.RequestID != "abc123" {
		t.Errorf("fallback request = %+v", req)
	}
	if got.Transcript != req.Text {
		t.Errorf("transcript = %q", got.Transcript)
	}
}

func TestParse_NoFallbackIsUnknown(t *testing.T) {
	got := command.NewParser(nil).Parse(context.Background(), "오늘 날씨 어때", command.ModeIdle, "", "")
	if got.Kind != command.KindUnknown {
		t.Fatalf("got %v, want UNKNOWN", got)
	}
	if got.Dispatchable() {
		t.Error("Unknown must not be dispatchable")
	}
}

func TestParse_FallbackErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"network", errors.New("connection refused"), command.ReasonLLMError},
		{"malformed", command.ErrMalformedAction, command.ReasonBadServerResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := command.NewParser(&stubFallback{err: tt.err})
			got := p.Parse(context.Background(), "오늘 날씨 어때", command.ModeIdle, "", "")
			if got.Kind != command.KindReject || got.Reason != tt.reason {
				t.Fatalf("got %v, want REJECT(%s)", got, tt.reason)
			}
		})
	}
}

func TestParse_FallbackTimeout(t *testing.T) {
	p := command.NewParser(&stubFallback{block: true}, command.WithFallbackTimeout(20*time.Millisecond))

	start := time.Now()
	got := p.Parse(context.Background(), "오늘 날씨 어때", command.ModeIdle, "", "")
	if got.Kind != command.KindReject || got.Reason != command.ReasonLLMError {
		t.Fatalf("got %v, want REJECT(llm_error)", got)
	}
	if took := time.Since(start); took > time.Second {
		t.Errorf("Parse took %v, want about the fallback timeout", took)
	}
}
