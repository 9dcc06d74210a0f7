package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sarvis/internal/command"
	"github.com/MrWong99/sarvis/internal/dispatch"
)

type call struct {
	Path string
	Body map[string]string
}

type recorder struct {
	mu     sync.Mutex
	calls  []call
	status int
}

func (r *recorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.mu.Lock()
		r.calls = append(r.calls, call{Path: req.URL.Path, Body: body})
		status := r.status
		r.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	})
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

type publisher struct {
	events []dispatch.Event
}

func (p *publisher) Publish(topic string, v any) {
	if topic == "command" {
		p.events = append(p.events, v.(dispatch.Event))
	}
}

func newDispatcher(t *testing.T, opts ...dispatch.Option) (*dispatch.Dispatcher, *recorder, *recorder) {
	t.Helper()
	backend, actuator := &recorder{}, &recorder{}
	bs := httptest.NewServer(backend.handler())
	as := httptest.NewServer(actuator.handler())
	t.Cleanup(bs.Close)
	t.Cleanup(as.Close)

	d, err := dispatch.New(bs.URL+"/", as.URL, append([]dispatch.Option{dispatch.WithMoveRepeat(6, time.Millisecond)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, backend, actuator
}

func TestRoute(t *testing.T) {
	tests := []struct {
		r    command.Result
		ch   dispatch.Channel
		code string
	}{
		{command.YoutubeOpen(), dispatch.ChannelApp, "YOUTUBE_OPEN"},
		{command.YoutubeSeek(command.SeekForward), dispatch.ChannelApp, "YOUTUBE_SEEK_FORWARD"},
		{command.YoutubeSeek(command.SeekBackward), dispatch.ChannelApp, "YOUTUBE_SEEK_BACKWARD"},
		{command.YoutubePause(), dispatch.ChannelApp, "YOUTUBE_PAUSE"},
		{command.YoutubePlay(), dispatch.ChannelApp, "YOUTUBE_PLAY"},
		{command.FollowMe(), dispatch.ChannelVoice, "TRACK_ON"},
		{command.Stop(), dispatch.ChannelVoice, "TRACK_OFF"},
		{command.ComeHere(), dispatch.ChannelVoice, "COME_HERE"},
		{command.Home(), dispatch.ChannelVoice, "HOME"},
		{command.Move(command.Left), dispatch.ChannelButton, "LEFT"},
		{command.Move(command.Right), dispatch.ChannelButton, "RIGHT"},
		{command.Move(command.Up), dispatch.ChannelButton, "UP"},
		{command.Move(command.Down), dispatch.ChannelButton, "DOWN"},
		{command.Move(command.Forward), dispatch.ChannelButton, "FAR"},
		{command.Move(command.Backward), dispatch.ChannelButton, "NEAR"},
		{command.Reject("x"), dispatch.ChannelNone, ""},
		{command.Unknown(), dispatch.ChannelNone, ""},
	}
	for _, tt := range tests {
		ch, code := dispatch.Route(tt.r)
		if ch != tt.ch || code != tt.code {
			t.Errorf("Route(%v) = %v %q, want %v %q", tt.r, ch, code, tt.ch, tt.code)
		}
	}
}

func TestDispatch_App(t *testing.T) {
	pub := &publisher{}
	d, backend, actuator := newDispatcher(t, dispatch.WithPublisher(pub))
	if err := d.Dispatch(context.Background(), "user-7", command.YoutubePause()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	calls := backend.snapshot()
	if len(calls) != 1 || calls[0].Path != dispatch.AppPath ||
		calls[0].Body["uid"] != "user-7" || calls[0].Body["command"] != "YOUTUBE_PAUSE" {
		t.Errorf("backend calls = %+v", calls)
	}
	if len(actuator.snapshot()) != 0 {
		t.Error("actuator was called for an app command")
	}
	if len(pub.events) != 1 || !pub.events[0].Dispatched || pub.events[0].Channel != "app" {
		t.Errorf("events = %+v", pub.events)
	}
}

func TestDispatch_AppNeedsUser(t *testing.T) {
	d, backend, _ := newDispatcher(t)
	if err := d.Dispatch(context.Background(), "", command.YoutubeOpen()); !errors.Is(err, dispatch.ErrNoUser) {
		t.Fatalf("err = %v", err)
	}
	if len(backend.snapshot()) != 0 {
		t.Error("backend called without a user")
	}
}

func TestDispatch_Voice(t *testing.T) {
	d, _, actuator := newDispatcher(t)
	if err := d.Dispatch(context.Background(), "", command.Stop()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	calls := actuator.snapshot()
	if len(calls) != 1 || calls[0].Path != dispatch.VoicePath || calls[0].Body["command"] != "TRACK_OFF" {
		t.Errorf("actuator calls = %+v", calls)
	}
}

func TestDispatch_MoveRepeats(t *testing.T) {
	d, _, actuator := newDispatcher(t)
	if err := d.Dispatch(context.Background(), "u", command.Move(command.Forward)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	calls := actuator.snapshot()
	if len(calls) != 6 {
		t.Fatalf("sent %d times, want 6", len(calls))
	}
	for _, c := range calls {
		if c.Path != dispatch.ButtonPath || c.Body["command"] != "FAR" {
			t.Errorf("call = %+v", c)
		}
	}
}

func TestDispatch_MoveFailuresReported(t *testing.T) {
	d, _, actuator := newDispatcher(t)
	actuator.status = http.StatusServiceUnavailable
	err := d.Dispatch(context.Background(), "u", command.Move(command.Left))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(actuator.snapshot()) != 6 {
		t.Errorf("attempts = %d, want 6", len(actuator.snapshot()))
	}
}

func TestDispatch_RejectOnlyPublished(t *testing.T) {
	pub := &publisher{}
	d, backend, actuator := newDispatcher(t, dispatch.WithPublisher(pub))
	if err := d.Dispatch(context.Background(), "u", command.Reject(command.ReasonEmptyASR)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(backend.snapshot())+len(actuator.snapshot()) != 0 {
		t.Error("reject was delivered")
	}
	if len(pub.events) != 1 || pub.events[0].Dispatched {
		t.Errorf("events = %+v", pub.events)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := dispatch.New("", ""); err == nil {
		t.Fatal("expected error")
	}
}
