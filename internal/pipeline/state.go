package pipeline

import "time"

// Mode is the pipeline's top-level state.
type Mode int

const (
	// Idle listens for the wake phrase.
	Idle Mode = iota
	// Active follows a verified wake and always has a deadline.
	Active
	// Cooldown is the dead time after a command finalized.
	Cooldown
)

// String returns the lower-case name used in logs, metrics and events.
func (m Mode) String() string {
	switch m {
	case Active:
		return "active"
	case Cooldown:
		return "cooldown"
	default:
		return "idle"
	}
}

// StateConfig holds the state machine timings.
type StateConfig struct {
	// ActiveTimeout is how long Active survives without a refresh.
	// Default 6 s.
	ActiveTimeout time.Duration

	// Cooldown is the dead time after a finalized command. Default 0.8 s.
	Cooldown time.Duration

	// SpeakerCache is how long a verified speaker id stays valid.
	// Default 8 s.
	SpeakerCache time.Duration
}

// Transition describes a mode change.
type Transition struct {
	From, To Mode
	// Reason is a short cause such as "wake", "deadline" or "finalized".
	Reason string
}

// StateMachine tracks mode, the active deadline, the command cooldown and
// the cached speaker id. It holds no clock: every method takes now. Only the
// pipeline worker uses it.
type StateMachine struct {
	cfg StateConfig

	mode          Mode
	deadline      time.Time
	cooldownUntil time.Time

	speaker      string
	speakerUntil time.Time
}

// NewStateMachine returns a machine in Idle.
func NewStateMachine(cfg StateConfig) *StateMachine {
	if cfg.ActiveTimeout <= 0 {
		cfg.ActiveTimeout = 4 * time.Second
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.SpeakerCache <= 0 {
		cfg.SpeakerCache = 8 * time.Second
	}
	return &StateMachine{cfg: cfg}
}

// Mode returns the current mode.
func (s *StateMachine) Mode() Mode { return s.mode }

// Deadline returns the Active deadline. Meaningless outside Active.
func (s *StateMachine) Deadline() time.Time { return s.deadline }

// EnterActive switches to Active with a fresh deadline.
func (s *StateMachine) EnterActive(now time.Time) Transition {
	t := Transition{From: s.mode, To: Active, Reason: "wake"}
	s.mode = Active
	s.deadline = now.Add(s.cfg.ActiveTimeout)
	return t
}

// Refresh pushes the Active deadline out. It does nothing outside Active.
func (s *StateMachine) Refresh(now time.Time) {
	if s.mode == Active {
		s.deadline = now.Add(s.cfg.ActiveTimeout)
	}
}

// MarkExecuted records a finalized command and enters Cooldown.
func (s *StateMachine) MarkExecuted(now time.Time) Transition {
	t := Transition{From: s.mode, To: Cooldown, Reason: "finalized"}
	s.cooldownUntil = now.Add(s.cfg.Cooldown)
	s.mode = Cooldown
	return t
}

// CanStartCommand reports whether the command cooldown has elapsed.
func (s *StateMachine) CanStartCommand(now time.Time) bool {
	return !now.Before(s.cooldownUntil)
}

// SetSpeaker caches id for the configured window.
func (s *StateMachine) SetSpeaker(id string, now time.Time) {
	s.speaker = id
	s.speakerUntil = now.Add(s.cfg.SpeakerCache)
}

// Speaker returns the cached speaker id, or "" once the window has passed.
func (s *StateMachine) Speaker(now time.Time) string {
	if now.After(s.speakerUntil) {
		return ""
	}
	return s.speaker
}

// Reset returns to Idle for reason. The cooldown and the speaker cache are
// kept.
func (s *StateMachine) Reset(reason string) (Transition, bool) {
	if s.mode == Idle {
		return Transition{}, false
	}
	t := Transition{From: s.mode, To: Idle, Reason: reason}
	s.mode = Idle
	return t, true
}

// Tick applies the time-based transitions: an expired Active deadline or an
// elapsed Cooldown returns to Idle.
func (s *StateMachine) Tick(now time.Time) (Transition, bool) {
	switch {
	case s.mode == Active && now.After(s.deadline):
		return s.Reset("deadline")
	case s.mode == Cooldown && !now.Before(s.cooldownUntil):
		return s.Reset("cooldown_over")
	}
	return Transition{}, false
}
