package wake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var _ Matcher = (*RemoteMatcher)(nil)

// RemoteMatcher asks the voice proxy's POST /verify_wake endpoint.
type RemoteMatcher struct {
	url        string
	token      string
	httpClient *http.Client
}

// RemoteOption configures a RemoteMatcher.
type RemoteOption func(*RemoteMatcher)

// WithRemoteToken sets the x-token header value.
func WithRemoteToken(token string) RemoteOption {
	return func(m *RemoteMatcher) { m.token = token }
}

// WithRemoteHTTPClient replaces the HTTP client.
func WithRemoteHTTPClient(c *http.Client) RemoteOption {
	return func(m *RemoteMatcher) { m.httpClient = c }
}

// NewRemoteMatcher creates a matcher for the proxy at baseURL.
func NewRemoteMatcher(baseURL string, opts ...RemoteOption) (*RemoteMatcher, error) {
	if baseURL == "" {
		return nil, errors.New("wake: verify baseURL must not be empty")
	}
	m := &RemoteMatcher{
		url:        strings.TrimRight(baseURL, "/") + "/verify_wake",
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

type verifyRequest struct {
	Text        string   `json:"text"`
	TargetWords []string `json:"target_words"`
}

type verifyResponse struct {
	IsValid     *bool   `json:"is_valid"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
	MatchedWord *string `json:"matched_word"`
}

// Match implements Matcher. Non-200 replies and bodies without is_valid are
// errors.
func (m *RemoteMatcher) Match(ctx context.Context, text string, targets []string) (Match, error) {
	body, err := json.Marshal(verifyRequest{Text: text, TargetWords: targets})
	if err != nil {
		return Match{}, fmt.Errorf("wake: encode verify request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return Match{}, fmt.Errorf("wake: create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("x-token", m.token)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Match{}, fmt.Errorf("wake: verify request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Match{}, fmt.Errorf("wake: read verify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Match{}, fmt.Errorf("wake: verify returned HTTP %d", resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return Match{}, fmt.Errorf("wake: parse verify response: %w", err)
	}
	if vr.IsValid == nil {
		return Match{}, errors.New("wake: verify response missing is_valid")
	}
	out := Match{Valid: *vr.IsValid, Confidence: vr.Confidence, Reason: vr.Reason}
	if vr.MatchedWord != nil {
		out.MatchedWord = *vr.MatchedWord
	}
	return out, nil
}
