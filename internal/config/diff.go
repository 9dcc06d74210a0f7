package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually; every
// other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	WakeThresholdChanged bool
	NewWakeThreshold     float64

	ValidationConfidenceChanged bool
	NewValidationConfidence     float64

	SpeakerThresholdChanged bool
	NewSpeakerThreshold     float64

	// CollectorChanged is true when any command collection threshold or
	// timing changed. Apply with the new config's Command section.
	CollectorChanged bool

	// RestartRequired names top-level sections that changed in ways only a
	// restart applies.
	RestartRequired []string
}

// Changed reports whether d carries any change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.WakeThresholdChanged || d.ValidationConfidenceChanged ||
		d.SpeakerThresholdChanged || d.CollectorChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Wake.Threshold != new.Wake.Threshold {
		d.WakeThresholdChanged = true
		d.NewWakeThreshold = new.Wake.Threshold
	}
	if old.Wake.Validation.MinConfidence != new.Wake.Validation.MinConfidence {
		d.ValidationConfidenceChanged = true
		d.NewValidationConfidence = new.Wake.Validation.MinConfidence
	}
	if old.Speaker.Threshold != new.Speaker.Threshold {
		d.SpeakerThresholdChanged = true
		d.NewSpeakerThreshold = new.Speaker.Threshold
	}
	if collectorFields(old.Command) != collectorFields(new.Command) {
		d.CollectorChanged = true
	}

	// Everything else needs a restart. Compare with the hot fields masked.
	o, n := maskHot(*old), maskHot(*new)
	sections := []struct {
		name string
		a, b any
	}{
		{"server", o.Server, n.Server},
		{"endpoints", o.Endpoints, n.Endpoints},
		{"providers", o.Providers, n.Providers},
		{"audio", o.Audio, n.Audio},
		{"segment", o.Segment, n.Segment},
		{"wake", o.Wake, n.Wake},
		{"speaker", o.Speaker, n.Speaker},
		{"feedback", o.Feedback, n.Feedback},
		{"command", o.Command, n.Command},
		{"dispatch", o.Dispatch, n.Dispatch},
		{"session", o.Session, n.Session},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}

// collectorKey holds the hot-reloadable command fields in comparable form.
type collectorKey struct {
	c               CommandConfig
	fallbackEnabled bool
	preBuffer       bool
}

func collectorFields(c CommandConfig) collectorKey {
	k := collectorKey{fallbackEnabled: Bool(c.FallbackEnabled), preBuffer: Bool(c.PreBuffer)}
	k.c = CommandConfig{
		WakeWait:        c.WakeWait,
		FallbackAfter:   c.FallbackAfter,
		StartMin:        c.StartMin,
		SilenceFinalize: c.SilenceFinalize,
		MaxDuration:     c.MaxDuration,
		IgnoreRMS:       c.IgnoreRMS,
		StartRMS:        c.StartRMS,
		FallbackRMS:     c.FallbackRMS,
		MinSpeechRatio:  c.MinSpeechRatio,
	}
	return k
}

// maskHot returns a copy of c with every hot-reloadable field zeroed.
func maskHot(c Config) Config {
	c.Server.LogLevel = ""
	c.Wake.Threshold = 0
	c.Wake.Validation.MinConfidence = 0
	c.Speaker.Threshold = 0
	cmd := c.Command
	c.Command = CommandConfig{
		ActiveTimeout:   cmd.ActiveTimeout,
		Cooldown:        cmd.Cooldown,
		SpeakerCache:    cmd.SpeakerCache,
		Language:        cmd.Language,
		STTTimeout:      cmd.STTTimeout,
		Fallback:        cmd.Fallback,
		FallbackTimeout: cmd.FallbackTimeout,
		ArchiveDir:      cmd.ArchiveDir,
	}
	return c
}
