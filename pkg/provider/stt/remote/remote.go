// Package remote provides an STT provider that uploads audio to an HTTP
// transcription endpoint as multipart/form-data.
//
// It speaks the voice proxy's POST /stt contract (fields "file" and
// "language", optional x-token header, JSON reply {"text": ...}). The same
// request shape is accepted by a whisper.cpp whisper-server at /inference, so
// pointing it at a local server only needs [WithPath].
//
// Usage:
//
//	p, err := remote.New("http://proxy:8000",
//	    remote.WithToken(os.Getenv("SARVIS_PROXY_TOKEN")),
//	    remote.WithLanguage("ko"),
//	)
//	tr, err := p.Transcribe(ctx, stt.RequestFor(seg, ""))
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/provider/stt"
)

const (
	defaultPath     = "/stt"
	defaultLanguage = "ko"

	// TokenHeader carries the proxy credential.
	TokenHeader = "x-token"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// StatusError is returned when the server answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote stt: server returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("remote stt: server returned HTTP %d: %s", e.Code, e.Body)
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithPath sets the request path appended to the base URL. Defaults to
// "/stt".
func WithPath(path string) Option {
	return func(p *Provider) { p.path = path }
}

// WithToken sets the x-token header value. Empty sends no header.
func WithToken(token string) Option {
	return func(p *Provider) { p.token = token }
}

// WithLanguage sets the default language hint. Defaults to "ko".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithModel forwards a model name as the "model" form field.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithHTTPClient replaces the HTTP client. Per-call deadlines come from the
// context, so the client needs no timeout of its own.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against an HTTP transcription endpoint.
type Provider struct {
	baseURL    string
	path       string
	token      string
	language   string
	model      string
	httpClient *http.Client
}

// New creates a Provider for the server at baseURL (e.g.
// "http://13.124.184.2:8000"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("remote stt: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       defaultPath,
		language:   defaultLanguage,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe encodes req as WAV and uploads it.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if len(req.Samples) == 0 {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	start := time.Now()

	wav, err := audio.EncodeWAV(req.Samples, req.SampleRate)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("remote stt: %w", err)
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "command.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("remote stt: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return stt.Transcript{}, fmt.Errorf("remote stt: write wav data: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return stt.Transcript{}, fmt.Errorf("remote stt: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return stt.Transcript{}, fmt.Errorf("remote stt: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("remote stt: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("remote stt: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if p.token != "" {
		httpReq.Header.Set(TokenHeader, p.token)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("remote stt: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("remote stt: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Transcript{}, fmt.Errorf("remote stt: parse JSON response: %w", err)
	}

	return stt.Transcript{
		Text:     strings.TrimSpace(result.Text),
		Language: result.Language,
		Latency:  time.Since(start),
	}, nil
}
