package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/sarvis/internal/observe"
)

var _ Fallback = (*RemoteFallback)(nil)

// RemoteFallback asks the voice proxy's POST /llm_parse endpoint.
type RemoteFallback struct {
	url        string
	token      string
	httpClient *http.Client
}

// RemoteOption configures a RemoteFallback.
type RemoteOption func(*RemoteFallback)

// WithToken sets the x-token header value.
func WithToken(token string) RemoteOption {
	return func(f *RemoteFallback) { f.token = token }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(f *RemoteFallback) { f.httpClient = c }
}

// NewRemoteFallback creates a fallback for the proxy at baseURL.
func NewRemoteFallback(baseURL string, opts ...RemoteOption) (*RemoteFallback, error) {
	if baseURL == "" {
		return nil, errors.New("command: llm_parse baseURL must not be empty")
	}
	f := &RemoteFallback{
		url:        strings.TrimRight(baseURL, "/") + "/llm_parse",
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

type parseRequest struct {
	Text      string     `json:"text"`
	State     parseState `json:"state"`
	SpeakerID *string    `json:"speaker_id"`
	RequestID *string    `json:"request_id"`
}

type parseState struct {
	Mode Mode `json:"mode"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ParseCommand implements Fallback.
func (f *RemoteFallback) ParseCommand(ctx context.Context, req Request) (Result, error) {
	ctx, span := observe.StartSpan(ctx, "command.llm_parse")
	defer span.End()
	span.SetAttributes(observe.RequestIDKey.String(req.RequestID))

	body, err := json.Marshal(parseRequest{
		Text:      req.Text,
		State:     parseState{Mode: req.Mode},
		SpeakerID: optional(req.SpeakerID),
		RequestID: optional(req.RequestID),
	})
	if err != nil {
		return Result{}, fmt.Errorf("command: encode llm_parse request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("command: create llm_parse request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		httpReq.Header.Set("x-token", f.token)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("command: llm_parse request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Result{}, fmt.Errorf("command: read llm_parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("command: llm_parse returned HTTP %d", resp.StatusCode)
	}
	return DecodeAction(data)
}

// DecodeAction interprets a parser reply. Accepted shapes:
//
//	{"ok": true, "action": {"cmd": ...}}
//	{"ok": true, "cmd": ...}
//	{"ok": false, "reason": "..."}
//	{"cmd": ...}
//
// A reply with ok false is Reject(reason), or Reject(server_rejected) without
// a reason. Anything that is not a JSON object yields
// Reject(bad_server_response); an object with an unusable action is
// ErrMalformedAction.
func DecodeAction(data []byte) (Result, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return Reject(ReasonBadServerResponse), nil
	}

	if rawOK, has := obj["ok"]; has {
		var ok bool
		if err := json.Unmarshal(rawOK, &ok); err != nil {
			return Result{}, fmt.Errorf("%w: ok is not a boolean", ErrMalformedAction)
		}
		if !ok {
			var reason string
			_ = json.Unmarshal(obj["reason"], &reason)
			if reason == "" {
				reason = ReasonServerRejected
			}
			return Reject(reason), nil
		}
		if rawAction, has := obj["action"]; has && len(rawAction) > 0 && rawAction[0] == '{' {
			return decodeActionObject(rawAction)
		}
		delete(obj, "ok")
		delete(obj, "reason")
		rest, err := json.Marshal(obj)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrMalformedAction, err)
		}
		return decodeActionObject(rest)
	}
	return decodeActionObject(data)
}

func decodeActionObject(data []byte) (Result, error) {
	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedAction, err)
	}
	return a.Result()
}
