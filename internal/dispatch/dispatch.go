// Package dispatch delivers parsed commands to their consumers: YouTube
// controls go to the backend, which relays them to the paired app; tracking
// commands go to the actuator's voice endpoint; moves go to the actuator's
// button endpoint.
package dispatch

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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/sarvis/internal/command"
	"github.com/MrWong99/sarvis/internal/fault"
	"github.com/MrWong99/sarvis/internal/observe"
)

const (
	// AppPath is the backend route that forwards app controls.
	AppPath = "/api/control/voice/"
	// VoicePath is the actuator route for tracking commands.
	VoicePath = "/voice_command"
	// ButtonPath is the actuator route for arm moves.
	ButtonPath = "/button_command"

	DefaultMoveRepeat   = 6
	DefaultMoveInterval = 50 * time.Millisecond
)

// Channel names a delivery route.
type Channel int

const (
	// ChannelNone means the result is not delivered.
	ChannelNone Channel = iota
	ChannelApp
	ChannelVoice
	ChannelButton
)

func (c Channel) String() string {
	switch c {
	case ChannelApp:
		return "app"
	case ChannelVoice:
		return "voice"
	case ChannelButton:
		return "button"
	default:
		return "none"
	}
}

// Route returns the channel for r and the command string sent on it.
func Route(r command.Result) (Channel, string) {
	switch r.Kind {
	case command.KindYoutubeOpen, command.KindYoutubeSeek, command.KindYoutubePause, command.KindYoutubePlay:
		return ChannelApp, r.Code()
	case command.KindFollowMe:
		return ChannelVoice, "TRACK_ON"
	case command.KindStop:
		return ChannelVoice, "TRACK_OFF"
	case command.KindComeHere:
		return ChannelVoice, "COME_HERE"
	case command.KindHome:
		return ChannelVoice, "HOME"
	case command.KindMove:
		switch r.Direction {
		case command.Left:
			return ChannelButton, "LEFT"
		case command.Right:
			return ChannelButton, "RIGHT"
		case command.Up:
			return ChannelButton, "UP"
		case command.Down:
			return ChannelButton, "DOWN"
		case command.Forward:
			return ChannelButton, "FAR"
		case command.Backward:
			return ChannelButton, "NEAR"
		}
		return ChannelNone, ""
	case command.KindReject, command.KindUnknown:
		return ChannelNone, ""
	}
	return ChannelNone, ""
}

// ErrNoUser is returned when an app command arrives with no logged-in user.
var ErrNoUser = errors.New("dispatch: no logged-in user")

// Event is published for every result handed to the dispatcher.
type Event struct {
	Result     command.Result `json:"result"`
	Channel    string         `json:"channel"`
	Command    string         `json:"command,omitempty"`
	Dispatched bool           `json:"dispatched"`
	Error      string         `json:"error,omitempty"`
}

// Publisher receives dispatch events.
type Publisher interface {
	Publish(topic string, v any)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithMoveRepeat sets how often a move is sent and the pause between sends.
func WithMoveRepeat(n int, interval time.Duration) Option {
	return func(d *Dispatcher) { d.moveRepeat, d.moveInterval = n, interval }
}

// WithTimeouts sets the per-request timeouts of the app and actuator calls.
func WithTimeouts(app, actuator time.Duration) Option {
	return func(d *Dispatcher) { d.appTimeout, d.actuatorTimeout = app, actuator }
}

// WithPublisher publishes every result on topic "command".
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithMetrics replaces the default metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher sends results over HTTP. It is safe for concurrent use.
type Dispatcher struct {
	backendURL  string
	actuatorURL string

	httpClient      *http.Client
	moveRepeat      int
	moveInterval    time.Duration
	appTimeout      time.Duration
	actuatorTimeout time.Duration

	publisher Publisher
	metrics   *observe.Metrics
}

// New creates a Dispatcher for the backend and actuator base URLs.
func New(backendURL, actuatorURL string, opts ...Option) (*Dispatcher, error) {
	var errs []error
	if backendURL == "" {
		errs = append(errs, errors.New("dispatch: backend URL must not be empty"))
	}
	if actuatorURL == "" {
		errs = append(errs, errors.New("dispatch: actuator URL must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	d := &Dispatcher{
		backendURL:      strings.TrimRight(backendURL, "/"),
		actuatorURL:     strings.TrimRight(actuatorURL, "/"),
		httpClient:      &http.Client{},
		moveRepeat:      DefaultMoveRepeat,
		moveInterval:    DefaultMoveInterval,
		appTimeout:      2 * time.Second,
		actuatorTimeout: time.Second,
		metrics:         observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.moveRepeat < 1 {
		d.moveRepeat = 1
	}
	return d, nil
}

// Dispatch delivers r for the logged-in user uid. Results that have no
// channel are only published.
func (d *Dispatcher) Dispatch(ctx context.Context, uid string, r command.Result) error {
	ch, code := Route(r)
	ev := Event{Result: r, Channel: ch.String(), Command: code}

	var err error
	switch ch {
	case ChannelApp:
		err = d.sendApp(ctx, uid, code)
	case ChannelVoice:
		err = d.sendOnce(ctx, ch, d.actuatorURL+VoicePath, map[string]string{"command": code})
	case ChannelButton:
		err = d.sendMove(ctx, code)
	default:
		slog.Debug("dispatch: result not delivered", "result", r.String(), "request_id", r.RequestID)
	}

	ev.Dispatched = ch != ChannelNone && err == nil
	if err != nil {
		ev.Error = err.Error()
		slog.Warn("dispatch: delivery failed", "channel", ch, "command", code, "request_id", r.RequestID, "error", err)
	} else if ch != ChannelNone {
		slog.Info("dispatch: delivered", "channel", ch, "command", code, "request_id", r.RequestID)
	}
	if d.publisher != nil {
		d.publisher.Publish("command", ev)
	}
	return err
}

func (d *Dispatcher) sendApp(ctx context.Context, uid, code string) error {
	if uid == "" {
		return ErrNoUser
	}
	return d.sendOnce(ctx, ChannelApp, d.backendURL+AppPath, map[string]string{"uid": uid, "command": code})
}

// sendMove repeats the button command. Every send is attempted; the error
// reports how many failed.
func (d *Dispatcher) sendMove(ctx context.Context, code string) error {
	body := map[string]string{"command": code}
	failed := 0
	var last error
	for i := range d.moveRepeat {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fault.FromHTTP("dispatch", ctx.Err())
			case <-time.After(d.moveInterval):
			}
		}
		if err := d.sendOnce(ctx, ChannelButton, d.actuatorURL+ButtonPath, body); err != nil {
			failed++
			last = err
		}
	}
	if failed > 0 {
		return fmt.Errorf("dispatch: %s: %d/%d sends failed: %w", code, failed, d.moveRepeat, last)
	}
	return nil
}

func (d *Dispatcher) sendOnce(ctx context.Context, ch Channel, url string, payload any) error {
	ctx, span := observe.StartSpan(ctx, "dispatch."+ch.String())
	defer span.End()

	timeout := d.actuatorTimeout
	if ch == ChannelApp {
		timeout = d.appTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := d.post(ctx, url, payload)
	status := "ok"
	if err != nil {
		status = "error"
		span.SetStatus(codes.Error, err.Error())
		d.metrics.RecordProviderError(ctx, "dispatch", ch.String())
	}
	span.SetAttributes(attribute.String("status", status))
	d.metrics.RecordProviderRequest(ctx, "dispatch", ch.String(), status)
	return err
}

func (d *Dispatcher) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispatch: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dispatch: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fault.FromHTTP("dispatch", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return fault.New(fault.Network, "dispatch", fmt.Sprintf("http_%d", resp.StatusCode), nil)
	}
	return nil
}
