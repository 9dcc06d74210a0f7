package dsp

import "math"

// PeakNormalize scales x in place so its largest magnitude is 1. Near-silent
// input (peak below 1e-6) is left untouched.
func PeakNormalize(x []float32) {
	var peak float64
	for _, v := range x {
		peak = math.Max(peak, math.Abs(float64(v)))
	}
	if peak <= 1e-6 {
		return
	}
	inv := float32(1 / peak)
	for i := range x {
		x[i] *= inv
	}
}

// RemoveDC subtracts the mean of x from every sample in place.
func RemoveDC(x []float32) {
	if len(x) == 0 {
		return
	}
	var mean float64
	for _, v := range x {
		mean += float64(v)
	}
	m := float32(mean / float64(len(x)))
	for i := range x {
		x[i] -= m
	}
}

// FitLength returns x zero-padded or truncated to exactly n samples.
func FitLength(x []float32, n int) []float32 {
	out := make([]float32, n)
	copy(out, x)
	return out
}

// Softmax returns the normalised exponentials of logits.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - max))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / (sum + 1e-9))
	}
	return out
}

// L2Normalize returns a copy of v scaled to unit length.
func L2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	n := math.Sqrt(sum) + 1e-9
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Cosine returns the cosine similarity of a and b. Vectors of different
// length compare over their common prefix.
func Cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
