package config

import "time"

// Default values applied by [ApplyDefaults]. They match the field-tuned
// values of the deployed device.
const (
	DefaultListenAddr   = ":9090"
	DefaultSampleRate   = 48000
	DefaultFrame        = 30 * time.Millisecond
	DefaultQueueSize    = 3
	DefaultSessionDir   = "/run/sarvis"
	DefaultLanguage     = "ko"
	DefaultBypassUID    = "default_user"
	DefaultFeedbackPath = "/api/voice-command/trigger/"
)

// Default returns a Config holding every default. [LoadFromReader] decodes
// onto it, so a value written in the file wins even when it is zero.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero field of cfg with its default. An explicit
// zero cannot be told apart from an unset field here; decode onto [Default]
// to keep one.
func ApplyDefaults(cfg *Config) {
	setString(&cfg.Server.ListenAddr, DefaultListenAddr)
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	setString(&a.Source, "portaudio")
	setInt(&a.SampleRate, DefaultSampleRate)
	setDuration(&a.FrameDuration, DefaultFrame)
	setInt(&a.QueueSize, DefaultQueueSize)

	s := &cfg.Segment
	setDuration(&s.PreRoll, 400*time.Millisecond)
	setFloat(&s.TriggerRatio, 0.8)
	setDuration(&s.SilenceTimeout, 1500*time.Millisecond)
	setDuration(&s.MaxLength, 10*time.Second)
	setDuration(&s.MinDuration, 350*time.Millisecond)
	setFloat(&s.RMSGate, 250)
	setFloat(&s.RMSEMAAlpha, 0.25)
	setFloat(&s.SpeechThreshold, 0.5)
	setFloat(&s.SilenceThreshold, 0.35)

	w := &cfg.Wake
	setFloat(&w.Threshold, 0.70)
	setDuration(&w.Clip, time.Second)
	setDuration(&w.MinSegment, 350*time.Millisecond)
	v := &w.Validation
	if v.Policy == "" {
		v.Policy = WakePolicyOr
	}
	setString(&v.Matcher, "remote")
	setFloat(&v.MinConfidence, 0.5)
	setDuration(&v.STTTimeout, 6*time.Second)
	setDuration(&v.VerifyTimeout, 3*time.Second)

	sp := &cfg.Speaker
	setString(&sp.BypassUID, DefaultBypassUID)
	setFloat(&sp.Threshold, 0.35)
	setDuration(&sp.MinSegment, 800*time.Millisecond)
	setBool(&sp.NoiseReduction, true)

	f := &cfg.Feedback
	setString(&f.Path, DefaultFeedbackPath)
	setDuration(&f.Timeout, 10*time.Second)
	setInt(&f.BreakerFailures, 5)
	setDuration(&f.BreakerReset, 30*time.Second)

	c := &cfg.Command
	setDuration(&c.WakeWait, 15*time.Second)
	setDuration(&c.StartMin, 150*time.Millisecond)
	setDuration(&c.SilenceFinalize, 1200*time.Millisecond)
	setDuration(&c.MaxDuration, 4*time.Second)
	setFloat(&c.IgnoreRMS, 150)
	setFloat(&c.StartRMS, 250)
	setFloat(&c.FallbackRMS, 80)
	setBool(&c.FallbackEnabled, true)
	setFloat(&c.MinSpeechRatio, 0.25)
	setBool(&c.PreBuffer, true)
	setDuration(&c.ActiveTimeout, 4*time.Second)
	setDuration(&c.Cooldown, 800*time.Millisecond)
	setDuration(&c.SpeakerCache, 8*time.Second)
	setString(&c.Language, DefaultLanguage)
	setDuration(&c.STTTimeout, 6*time.Second)
	setString(&c.Fallback, "remote")
	setDuration(&c.FallbackTimeout, 3*time.Second)

	d := &cfg.Dispatch
	setInt(&d.MoveRepeat, 6)
	setDuration(&d.MoveInterval, 50*time.Millisecond)
	setDuration(&d.AppTimeout, 2*time.Second)
	setDuration(&d.ActuatorTimeout, time.Second)

	ss := &cfg.Session
	setString(&ss.Dir, DefaultSessionDir)
	setDuration(&ss.PollInterval, 200*time.Millisecond)

	p := &cfg.Providers
	setString(&p.STT.Name, "remote")
	setString(&p.VAD.Name, "energy")
	setString(&p.KWS.Name, "onnx")
	setString(&p.Voiceprint.Name, "onnx")
	setString(&p.Profiles.Name, "file")
}

func setString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if *dst == 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}

func setBool(dst **bool, v bool) {
	if *dst == nil {
		*dst = &v
	}
}

// Bool dereferences an optional flag set by [ApplyDefaults].
func Bool(b *bool) bool { return b != nil && *b }
