package filters

import (
	"math"
)

// Biquad is a second-order IIR section using the RBJ cookbook formulas.
// Reference: https://webaudio.github.io/Audio-EQ-Cookbook/audio-eq-cookbook.html
//
// Coefficients are normalized by a0 and the state is Direct Form II, so
// Process does no allocation and is safe for the audio callback.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64

	w1, w2 float64 // Direct Form II delay line
}

// NewLowpass creates a low-pass biquad. Used to focus onset energy on the
// kick/bass band.
func NewLowpass(sampleRate int, cutoffFreq, q float64) *Biquad {
	w0, alpha := prewarp(sampleRate, cutoffFreq, q)
	cosW0 := math.Cos(w0)

	return normalized(
		(1.0-cosW0)/2.0, 1.0-cosW0, (1.0-cosW0)/2.0,
		1.0+alpha, -2.0*cosW0, 1.0-alpha,
	)
}

func prewarp(sampleRate int, freq, q float64) (w0, alpha float64) {
	if q <= 0 {
		q = math.Sqrt2 / 2.0
	}
	w0 = 2.0 * math.Pi * freq / float64(sampleRate)

	// Prevent numerical issues at Nyquist
	if w0 >= math.Pi {
		w0 = math.Pi * 0.99
	}
	if w0 <= 0 {
		w0 = 1e-6
	}
	return w0, math.Sin(w0) / (2.0 * q)
}

func normalized(b0, b1, b2, a0, a1, a2 float64) *Biquad {
	return &Biquad{
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b2 / a0,
		a1: a1 / a0,
		a2: a2 / a0,
	}
}

// Process filters a single sample.
// w[n] = x[n] - a1*w[n-1] - a2*w[n-2]
// y[n] = b0*w[n] + b1*w[n-1] + b2*w[n-2]
func (bq *Biquad) Process(input float64) float64 {
	w := input - bq.a1*bq.w1 - bq.a2*bq.w2
	output := bq.b0*w + bq.b1*bq.w1 + bq.b2*bq.w2

	bq.w2 = bq.w1
	bq.w1 = w

	return output
}

// Reset clears the delay line.
func (bq *Biquad) Reset() {
	bq.w1, bq.w2 = 0.0, 0.0
}
