package segment

import (
	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/provider/vad"
)

// Stats summarises a finished segment for the command collector.
type Stats struct {
	// RMS is the level of the whole segment in PCM units.
	RMS float64

	// SpeechRatio is the fraction of frames the VAD classified as speech.
	SpeechRatio float64
}

// Measure computes Stats for seg, classifying it in frameSamples-sized
// frames with sess. The session is reset before and after. A trailing
// partial frame is ignored; a segment shorter than one frame has ratio 0.
// Frames the VAD fails on count as unvoiced.
func Measure(seg audio.Segment, sess vad.SessionHandle, frameSamples int) Stats {
	st := Stats{RMS: audio.RMS(seg.Samples)}
	if sess == nil || frameSamples <= 0 {
		return st
	}
	n := len(seg.Samples) / frameSamples
	if n == 0 {
		return st
	}
	sess.Reset()
	defer sess.Reset()

	voiced := 0
	for i := range n {
		ev, err := sess.ProcessFrame(seg.Samples[i*frameSamples : (i+1)*frameSamples])
		if err == nil && ev.Speech {
			voiced++
		}
	}
	st.SpeechRatio = float64(voiced) / float64(n)
	return st
}
