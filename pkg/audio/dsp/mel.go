// Package dsp implements the audio front-end shared by the wake-word and
// speaker models: log-mel spectrograms, per-bin mean/variance normalisation
// and the waveform clean-up applied before embedding.
//
// All functions operate on mono float32 samples normalised to [-1, 1].
package dsp

import (
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// MelConfig describes a log-mel front-end.
type MelConfig struct {
	SampleRate int
	NFFT       int
	Hop        int
	NMels      int
	FMin       float64
	FMax       float64

	// Eps is added to mel power before the logarithm.
	Eps float64
}

// KWSMel is the 40-bin front-end the wake-word classifier was trained on.
var KWSMel = MelConfig{SampleRate: 16000, NFFT: 400, Hop: 160, NMels: 40, FMin: 20, FMax: 7600, Eps: 1e-10}

// SpeakerMel is the 80-bin front-end of the speaker embedding models.
var SpeakerMel = MelConfig{SampleRate: 16000, NFFT: 400, Hop: 160, NMels: 80, FMin: 20, FMax: 7600, Eps: 1e-10}

// Validate reports whether c describes a usable filterbank.
func (c MelConfig) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("dsp: sample rate must be positive, got %d", c.SampleRate)
	case c.NFFT <= 0 || c.Hop <= 0:
		return fmt.Errorf("dsp: n_fft and hop must be positive, got %d/%d", c.NFFT, c.Hop)
	case c.NMels <= 0:
		return fmt.Errorf("dsp: n_mels must be positive, got %d", c.NMels)
	case c.FMax <= c.FMin || c.FMax > float64(c.SampleRate)/2:
		return fmt.Errorf("dsp: invalid mel range %.0f..%.0f Hz", c.FMin, c.FMax)
	}
	return nil
}

// Frames returns the number of analysis frames for n samples without
// centring (no padding at either end).
func (c MelConfig) Frames(n int) int {
	if n < c.NFFT {
		return 0
	}
	return 1 + (n-c.NFFT)/c.Hop
}

// LogMel is a reusable log-mel extractor. The filterbank and window are
// computed once by [NewLogMel]. A LogMel is safe for concurrent use.
type LogMel struct {
	cfg     MelConfig
	window  []float64
	filters [][]float64 // [mel][bin]
}

// NewLogMel precomputes the Hann window and the Slaney-scaled, area-normalised
// mel filterbank for cfg.
func NewLogMel(cfg MelConfig) (*LogMel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Eps <= 0 {
		cfg.Eps = 1e-10
	}
	return &LogMel{
		cfg:     cfg,
		window:  periodicHann(cfg.NFFT),
		filters: melFilterbank(cfg),
	}, nil
}

// Config returns the extractor's configuration.
func (l *LogMel) Config() MelConfig { return l.cfg }

// Compute returns the log-mel spectrogram of samples as [mel][frame]. Input
// shorter than one FFT window yields zero frames.
func (l *LogMel) Compute(samples []float32) [][]float32 {
	nFrames := l.cfg.Frames(len(samples))
	out := make([][]float32, l.cfg.NMels)
	for m := range out {
		out[m] = make([]float32, nFrames)
	}

	buf := make([]float64, l.cfg.NFFT)
	nBins := l.cfg.NFFT/2 + 1
	power := make([]float64, nBins)
	for t := range nFrames {
		start := t * l.cfg.Hop
		for i := range buf {
			buf[i] = float64(samples[start+i]) * l.window[i]
		}
		spec := fft.FFTReal(buf)
		for k := range nBins {
			re, im := real(spec[k]), imag(spec[k])
			power[k] = re*re + im*im
		}
		for m, filt := range l.filters {
			var e float64
			for k, w := range filt {
				if w != 0 {
					e += w * power[k]
				}
			}
			out[m][t] = float32(math.Log(e + l.cfg.Eps))
		}
	}
	return out
}

// CMVN normalises every row of feats to zero mean and unit variance in place.
func CMVN(feats [][]float32) {
	for _, row := range feats {
		if len(row) == 0 {
			continue
		}
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(len(row))
		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		std := math.Sqrt(variance/float64(len(row))) + 1e-6
		for i, v := range row {
			row[i] = float32((float64(v) - mean) / std)
		}
	}
}

// Transpose turns [mel][frame] into [frame][mel].
func Transpose(feats [][]float32) [][]float32 {
	if len(feats) == 0 {
		return nil
	}
	out := make([][]float32, len(feats[0]))
	for t := range out {
		out[t] = make([]float32, len(feats))
		for m := range feats {
			out[t][m] = feats[m][t]
		}
	}
	return out
}

// FitFrames pads with zeros or truncates every row of feats to n frames.
func FitFrames(feats [][]float32, n int) [][]float32 {
	out := make([][]float32, len(feats))
	for m, row := range feats {
		r := make([]float32, n)
		copy(r, row)
		out[m] = r
	}
	return out
}

// Flatten concatenates the rows of feats.
func Flatten(feats [][]float32) []float32 {
	if len(feats) == 0 {
		return nil
	}
	out := make([]float32, 0, len(feats)*len(feats[0]))
	for _, row := range feats {
		out = append(out, row...)
	}
	return out
}

// periodicHann returns the DFT-even Hann window of length n.
func periodicHann(n int) []float64 {
	return window.Hann(n + 1)[:n]
}

// Slaney mel scale: linear below 1 kHz, logarithmic above.
const (
	melFSp      = 200.0 / 3
	melMinLogHz = 1000.0
	melMinLog   = melMinLogHz / melFSp
)

var melLogStep = math.Log(6.4) / 27.0

func hzToMel(hz float64) float64 {
	if hz < melMinLogHz {
		return hz / melFSp
	}
	return melMinLog + math.Log(hz/melMinLogHz)/melLogStep
}

func melToHz(mel float64) float64 {
	if mel < melMinLog {
		return mel * melFSp
	}
	return melMinLogHz * math.Exp(melLogStep*(mel-melMinLog))
}

func melFilterbank(cfg MelConfig) [][]float64 {
	nBins := cfg.NFFT/2 + 1
	fftFreqs := make([]float64, nBins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(cfg.SampleRate) / float64(cfg.NFFT)
	}

	lo, hi := hzToMel(cfg.FMin), hzToMel(cfg.FMax)
	pts := make([]float64, cfg.NMels+2)
	for i := range pts {
		pts[i] = melToHz(lo + (hi-lo)*float64(i)/float64(cfg.NMels+1))
	}

	filters := make([][]float64, cfg.NMels)
	for m := range filters {
		left, center, right := pts[m], pts[m+1], pts[m+2]
		norm := 2.0 / (right - left)
		f := make([]float64, nBins)
		for k, hz := range fftFreqs {
			lower := (hz - left) / (center - left)
			upper := (right - hz) / (right - center)
			if w := math.Min(lower, upper); w > 0 {
				f[k] = w * norm
			}
		}
		filters[m] = f
	}
	return filters
}
