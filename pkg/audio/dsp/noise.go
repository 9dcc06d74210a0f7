package dsp

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// GateConfig tunes [SpectralGate].
type GateConfig struct {
	NFFT int
	Hop  int

	// StdThreshold is how many standard deviations above the per-bin mean
	// (in dB) a bin must be to count as signal.
	StdThreshold float64

	// PropDecrease is the fraction by which gated bins are attenuated
	// (1 removes them entirely).
	PropDecrease float64
}

// DefaultGate matches the stationary noise reduction applied at enrollment.
var DefaultGate = GateConfig{NFFT: 512, Hop: 128, StdThreshold: 1.5, PropDecrease: 0.8}

// SpectralGate performs stationary spectral-gating noise reduction: the noise
// floor of each frequency bin is estimated from the clip itself, bins below
// mean+StdThreshold·std are attenuated, and the signal is resynthesised by
// weighted overlap-add. Input shorter than one window is returned unchanged.
func SpectralGate(x []float32, cfg GateConfig) []float32 {
	if cfg.NFFT <= 0 || cfg.Hop <= 0 || len(x) < cfg.NFFT {
		return x
	}
	win := periodicHann(cfg.NFFT)
	nFrames := 1 + (len(x)-cfg.NFFT)/cfg.Hop
	nBins := cfg.NFFT/2 + 1

	spectra := make([][]complex128, nFrames)
	db := make([][]float64, nFrames)
	buf := make([]float64, cfg.NFFT)
	for t := range nFrames {
		start := t * cfg.Hop
		for i := range buf {
			buf[i] = float64(x[start+i]) * win[i]
		}
		spec := fft.FFTReal(buf)
		spectra[t] = spec
		row := make([]float64, nBins)
		for k := range nBins {
			row[k] = 20 * math.Log10(cmplx.Abs(spec[k])+1e-10)
		}
		db[t] = row
	}

	thresh := make([]float64, nBins)
	for k := range nBins {
		var mean, sq float64
		for t := range nFrames {
			mean += db[t][k]
		}
		mean /= float64(nFrames)
		for t := range nFrames {
			d := db[t][k] - mean
			sq += d * d
		}
		thresh[k] = mean + cfg.StdThreshold*math.Sqrt(sq/float64(nFrames))
	}

	keep := 1 - cfg.PropDecrease
	out := make([]float64, len(x))
	norm := make([]float64, len(x))
	full := make([]complex128, cfg.NFFT)
	for t := range nFrames {
		spec := spectra[t]
		for k := range nBins {
			g := 1.0
			if db[t][k] < thresh[k] {
				g = keep
			}
			full[k] = spec[k] * complex(g, 0)
			if k > 0 && k < cfg.NFFT-k {
				full[cfg.NFFT-k] = cmplx.Conj(full[k])
			}
		}
		frame := fft.IFFT(full)
		start := t * cfg.Hop
		for i := range cfg.NFFT {
			out[start+i] += real(frame[i]) * win[i]
			norm[start+i] += win[i] * win[i]
		}
	}

	res := make([]float32, len(x))
	for i := range res {
		if norm[i] > 1e-8 {
			res[i] = float32(out[i] / norm[i])
		} else {
			res[i] = x[i]
		}
	}
	return res
}
