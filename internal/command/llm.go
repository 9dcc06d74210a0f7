package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/sarvis/pkg/provider/llm"
)

var _ Fallback = (*LLMFallback)(nil)

// SystemPrompt instructs a chat model to answer with one action object.
const SystemPrompt = "너는 음성 명령을 아래 JSON 스키마로만 변환한다. 설명 금지.\n" +
	"스키마:\n" +
	"{\n" +
	"  \"cmd\": \"MOVE\"|\"STOP\"|\"FOLLOW_ME\"|\"COME_HERE\"|\"HOME\"|\"YOUTUBE_OPEN\"|\"YOUTUBE_SEEK_FORWARD\"|\"YOUTUBE_SEEK_BACKWARD\"|\"YOUTUBE_PAUSE\"|\"YOUTUBE_PLAY\"|\"REJECT\"|\"UNKNOWN\",\n" +
	"  \"dir\": \"left\"|\"right\"|\"up\"|\"down\"|\"forward\"|\"backward\" (MOVE일 때만),\n" +
	"  \"reason\": string (REJECT일 때만)\n" +
	"}\n" +
	"유튜브 컨트롤은 state.mode가 youtube일 때만 허용. 아니면 REJECT+reason=not_in_youtube.\n"

// LLMFallback parses with a chat model.
type LLMFallback struct {
	provider  llm.Provider
	maxTokens int
}

// NewLLMFallback wraps p.
func NewLLMFallback(p llm.Provider) (*LLMFallback, error) {
	if p == nil {
		return nil, errors.New("command: llm provider must not be nil")
	}
	return &LLMFallback{provider: p, maxTokens: 100}, nil
}

type llmInput struct {
	Text  string     `json:"text"`
	State parseState `json:"state"`
}

// ParseCommand implements Fallback.
func (f *LLMFallback) ParseCommand(ctx context.Context, req Request) (Result, error) {
	in, err := json.Marshal(llmInput{Text: req.Text, State: parseState{Mode: req.Mode}})
	if err != nil {
		return Result{}, fmt.Errorf("command: encode llm input: %w", err)
	}
	resp, err := f.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: SystemPrompt,
		Messages:     []llm.Message{llm.User(string(in))},
		MaxTokens:    f.maxTokens,
		JSON:         true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("command: llm complete: %w", err)
	}
	if resp == nil {
		return Result{}, fmt.Errorf("%w: empty llm response", ErrMalformedAction)
	}
	obj, ok := extractObject(resp.Content)
	if !ok {
		return Result{}, fmt.Errorf("%w: no JSON object in %q", ErrMalformedAction, resp.Content)
	}
	return DecodeAction([]byte(obj))
}

// extractObject returns the outermost {...} span of s. Models that ignore
// the JSON mode often wrap the object in prose or code fences.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return "", false
	}
	return s[start : end+1], true
}
