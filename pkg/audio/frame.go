package audio

import "time"

// Frame is one fixed-size block of mono PCM audio. Frames are immutable once
// produced and are consumed within a single segmentation pass.
type Frame struct {
	// Samples holds signed 16-bit PCM samples.
	Samples []int16

	// SampleRate in Hz.
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return samplesDuration(len(f.Samples), f.SampleRate)
}

// Segment is a run of frames judged to contain speech. A segment is owned by
// the stage currently processing it and is never mutated after handoff.
type Segment struct {
	// Index is a monotonically increasing sequence number assigned by the
	// segmenter, used to correlate log lines across stages.
	Index uint64

	// Samples holds signed 16-bit PCM samples.
	Samples []int16

	// SampleRate in Hz.
	SampleRate int
}

// Duration returns the playback length of the segment.
func (s Segment) Duration() time.Duration {
	return samplesDuration(len(s.Samples), s.SampleRate)
}

// Empty reports whether the segment carries no audio.
func (s Segment) Empty() bool { return len(s.Samples) == 0 }

func samplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// SamplesFor returns the number of samples that d spans at sampleRate.
func SamplesFor(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}
