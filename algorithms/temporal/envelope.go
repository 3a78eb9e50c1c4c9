package temporal

import (
	"math"
)

// Envelope provides amplitude envelope extraction
type Envelope struct {
	// No state needed - stateless calculation
}

// NewEnvelope creates a new envelope extractor
func NewEnvelope() *Envelope {
	return &Envelope{}
}

// BlockRMS computes the RMS of one audio block. Non-finite samples count as
// silence so the result is always finite.
func (e *Envelope) BlockRMS(block []float32) float64 {
	if len(block) == 0 {
		return 0.0
	}

	sumSquares := 0.0
	for _, s := range block {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(len(block)))
}
