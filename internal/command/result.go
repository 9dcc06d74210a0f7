// Package command turns a command transcript into a structured [Result]: a
// deterministic keyword grammar first, then an optional fallback parser
// (the voice proxy's /llm_parse endpoint or any llm.Provider).
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Kind is the variant tag of a [Result].
type Kind int

const (
	KindUnknown Kind = iota
	KindMove
	KindStop
	KindFollowMe
	KindComeHere
	KindHome
	KindYoutubeOpen
	KindYoutubeSeek
	KindYoutubePause
	KindYoutubePlay
	KindReject
)

// String returns the lower_snake name used in logs and metric attributes.
func (k Kind) String() string {
	switch k {
	case KindMove:
		return "move"
	case KindStop:
		return "stop"
	case KindFollowMe:
		return "follow_me"
	case KindComeHere:
		return "come_here"
	case KindHome:
		return "home"
	case KindYoutubeOpen:
		return "youtube_open"
	case KindYoutubeSeek:
		return "youtube_seek"
	case KindYoutubePause:
		return "youtube_pause"
	case KindYoutubePlay:
		return "youtube_play"
	case KindReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Direction is the payload of a Move.
type Direction string

const (
	Left     Direction = "left"
	Right    Direction = "right"
	Up       Direction = "up"
	Down     Direction = "down"
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

func (d Direction) valid() bool {
	switch d {
	case Left, Right, Up, Down, Forward, Backward:
		return true
	}
	return false
}

// Seek is the payload of a YoutubeSeek.
type Seek string

const (
	SeekForward  Seek = "forward"
	SeekBackward Seek = "backward"
)

// Reject reasons produced by the parser itself.
const (
	ReasonEmptyASR          = "empty_asr"
	ReasonNotInYoutube      = "not_in_youtube"
	ReasonLLMError          = "llm_error"
	ReasonServerRejected    = "server_rejected"
	ReasonBadServerResponse = "bad_server_response"
)

// Result is an immutable parsed command. Build one with the variant
// constructors; the zero value is Unknown.
type Result struct {
	Kind      Kind
	Direction Direction // Move only
	Seek      Seek      // YoutubeSeek only
	Reason    string    // Reject only

	Transcript string
	SpeakerID  string
	RequestID  string
}

func Move(d Direction) Result { return Result{Kind: KindMove, Direction: d} }
func Stop() Result            { return Result{Kind: KindStop} }
func FollowMe() Result        { return Result{Kind: KindFollowMe} }
func ComeHere() Result        { return Result{Kind: KindComeHere} }
func Home() Result            { return Result{Kind: KindHome} }
func YoutubeOpen() Result     { return Result{Kind: KindYoutubeOpen} }
func YoutubeSeek(s Seek) Result {
	return Result{Kind: KindYoutubeSeek, Seek: s}
}
func YoutubePause() Result        { return Result{Kind: KindYoutubePause} }
func YoutubePlay() Result         { return Result{Kind: KindYoutubePlay} }
func Reject(reason string) Result { return Result{Kind: KindReject, Reason: reason} }
func Unknown() Result             { return Result{Kind: KindUnknown} }

// Attributed returns a copy of r carrying the transcript and ids.
func (r Result) Attributed(transcript, speakerID, requestID string) Result {
	r.Transcript = transcript
	r.SpeakerID = speakerID
	r.RequestID = requestID
	return r
}

// Dispatchable reports whether r should reach an actuator or the app.
func (r Result) Dispatchable() bool {
	return r.Kind != KindReject && r.Kind != KindUnknown
}

// Code returns the upper-case command name used on the wire, e.g. "MOVE" or
// "YOUTUBE_SEEK_FORWARD".
func (r Result) Code() string {
	switch r.Kind {
	case KindYoutubeSeek:
		if r.Seek == SeekBackward {
			return "YOUTUBE_SEEK_BACKWARD"
		}
		return "YOUTUBE_SEEK_FORWARD"
	default:
		return strings.ToUpper(r.Kind.String())
	}
}

// String returns a compact form for logs.
func (r Result) String() string {
	switch r.Kind {
	case KindMove:
		return r.Code() + "(" + string(r.Direction) + ")"
	case KindReject:
		return r.Code() + "(" + r.Reason + ")"
	default:
		return r.Code()
	}
}

type resultJSON struct {
	Cmd       string `json:"cmd"`
	Dir       string `json:"dir,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ASR       string `json:"asr,omitempty"`
	SpeakerID string `json:"speaker_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// MarshalJSON encodes r in the action shape {"cmd", "dir", "reason"} plus
// attribution.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Cmd:       r.Code(),
		Dir:       string(r.Direction),
		Reason:    r.Reason,
		ASR:       r.Transcript,
		SpeakerID: r.SpeakerID,
		RequestID: r.RequestID,
	})
}

// ErrMalformedAction is returned when a fallback reply cannot be turned into
// a Result.
var ErrMalformedAction = errors.New("command: malformed action")

// Action is the loosely typed command object exchanged with fallback parsers.
type Action struct {
	Cmd    string `json:"cmd"`
	Dir    string `json:"dir,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Result converts a into a Result. Unknown command names and Move without a
// valid direction are ErrMalformedAction.
func (a Action) Result() (Result, error) {
	switch strings.ToUpper(strings.TrimSpace(a.Cmd)) {
	case "MOVE":
		d := Direction(strings.ToLower(strings.TrimSpace(a.Dir)))
		if !d.valid() {
			return Result{}, fmt.Errorf("%w: move direction %q", ErrMalformedAction, a.Dir)
		}
		return Move(d), nil
	case "STOP":
		return Stop(), nil
	case "FOLLOW_ME":
		return FollowMe(), nil
	case "COME_HERE":
		return ComeHere(), nil
	case "HOME":
		return Home(), nil
	case "YOUTUBE_OPEN":
		return YoutubeOpen(), nil
	case "YOUTUBE_SEEK_FORWARD":
		return YoutubeSeek(SeekForward), nil
	case "YOUTUBE_SEEK_BACKWARD":
		return YoutubeSeek(SeekBackward), nil
	case "YOUTUBE_PAUSE":
		return YoutubePause(), nil
	case "YOUTUBE_PLAY":
		return YoutubePlay(), nil
	case "REJECT":
		reason := a.Reason
		if reason == "" {
			reason = ReasonServerRejected
		}
		return Reject(reason), nil
	case "UNKNOWN":
		return Unknown(), nil
	default:
		return Result{}, fmt.Errorf("%w: cmd %q", ErrMalformedAction, a.Cmd)
	}
}

// Mode gates which commands are legal.
type Mode string

const (
	ModeIdle    Mode = "idle"
	ModeYoutube Mode = "youtube"
)

// RuntimeState holds the process-wide command mode. Only the pipeline worker
// changes it; other goroutines may read it.
type RuntimeState struct {
	mu   sync.RWMutex
	mode Mode
}

// NewRuntimeState returns a state in ModeIdle.
func NewRuntimeState() *RuntimeState {
	return &RuntimeState{mode: ModeIdle}
}

// Mode returns the current mode.
func (s *RuntimeState) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Apply updates the mode after r was produced. A YoutubeOpen switches to
// ModeYoutube; nothing else changes the mode. Reports whether it changed.
func (s *RuntimeState) Apply(r Result) bool {
	if r.Kind != KindYoutubeOpen {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.mode != ModeYoutube
	s.mode = ModeYoutube
	return changed
}

// Reset returns to ModeIdle.
func (s *RuntimeState) Reset() {
	s.mu.Lock()
	s.mode = ModeIdle
	s.mu.Unlock()
}
