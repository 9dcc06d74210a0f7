package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// RMS returns the root-mean-square level of samples in PCM units (0–32767).
// Returns 0 for an empty slice.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DBFS expresses an RMS level in decibels relative to full scale. Silence
// maps to -120 dBFS.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return -120
	}
	return 20 * math.Log10(rms/32768.0)
}

// ToFloat32 converts PCM samples to float32 normalised to [-1.0, 1.0).
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// FromFloat32 converts normalised float samples back to PCM, clamping to the
// int16 range.
func FromFloat32(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
		x := math.Round(float64(v) * 32768.0)
		if x > math.MaxInt16 {
			x = math.MaxInt16
		} else if x < math.MinInt16 {
			x = math.MinInt16
		}
		out[i] = int16(x)
	}
	return out
}

// DecodePCM16 reads little-endian int16 PCM bytes. A trailing odd byte is
// ignored.
func DecodePCM16(pcm []byte) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := range n {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// EncodePCM16 writes samples as little-endian int16 PCM bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Concat joins segments into one. All segments must share a sample rate; the
// result uses the rate and index of the first segment. Returns a zero Segment
// for empty input.
func Concat(segs []Segment) Segment {
	if len(segs) == 0 {
		return Segment{}
	}
	total := 0
	for _, s := range segs {
		total += len(s.Samples)
	}
	out := make([]int16, 0, total)
	for _, s := range segs {
		out = append(out, s.Samples...)
	}
	return Segment{Index: segs[0].Index, Samples: out, SampleRate: segs[0].SampleRate}
}

// Clip returns seg truncated to at most max playback time.
func Clip(seg Segment, max time.Duration) Segment {
	limit := SamplesFor(max, seg.SampleRate)
	if max <= 0 || len(seg.Samples) <= limit {
		return seg
	}
	seg.Samples = seg.Samples[:limit]
	return seg
}
