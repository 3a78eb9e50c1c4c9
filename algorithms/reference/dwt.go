// Package reference holds whole-signal beat trackers used to cross-check the
// streaming pipeline on recorded audio.
package reference

import (
	"fmt"
	"math/bits"
	"slices"

	"github.com/goccmack/godsp"
	"github.com/goccmack/godsp/dwt"
	"github.com/goccmack/godsp/peaks"

	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
)

const (
	// dwtLevel is the number of scales the transform is computed over
	dwtLevel = 4
	// scale is the decimation of the energy envelope relative to the input
	scale = 1 << dwtLevel
)

// DWTConfig tunes the offline tracker
type DWTConfig struct {
	PeakSeparation float64 `json:"peak_separation"` // minimum seconds between peaks
	MaxBPM         float64 `json:"max_bpm"`         // tempos above are halved
}

// DefaultDWTConfig returns the tracker defaults
func DefaultDWTConfig() DWTConfig {
	return DWTConfig{
		PeakSeparation: 0.25,
		MaxBPM:         200,
	}
}

// DWTResult is the outcome of an offline analysis
type DWTResult struct {
	BPM   float64   `json:"bpm"`
	Peaks []float64 `json:"peaks"` // seconds from the start of the signal
}

// DWTTempo finds beat peaks in the summed Daubechies-4 detail envelopes of the
// whole signal and returns the tempo implied by the median peak spacing.
func DWTTempo(pcm []float32, sampleRate int, config DWTConfig) (DWTResult, error) {
	def := DefaultDWTConfig()
	if config.PeakSeparation <= 0 {
		config.PeakSeparation = def.PeakSeparation
	}
	if config.MaxBPM <= 0 {
		config.MaxBPM = def.MaxBPM
	}
	if sampleRate <= 0 {
		return DWTResult{}, fmt.Errorf("sample rate must be positive: %d", sampleRate)
	}

	envRate := float64(sampleRate) / scale
	sep := int(config.PeakSeparation * envRate)
	if sep <= 0 {
		return DWTResult{}, fmt.Errorf("peak separation %.3fs is below one envelope sample", config.PeakSeparation)
	}
	if len(pcm) < 4*scale {
		return DWTResult{}, fmt.Errorf("signal too short: %d samples", len(pcm))
	}

	// the transform halves the signal at every level
	x := make([]float64, 1<<bits.Len(uint(len(pcm)-1)))
	for i, s := range pcm {
		x[i] = float64(s)
	}

	coefs := dwt.Daubechies4(x, dwtLevel).GetCoefficients()
	sumX := godsp.SumVectors(godsp.DownSampleAll(godsp.AbsAll(coefs)))
	if avg := godsp.Average(sumX); avg > 0 {
		sumX = godsp.DivS(sumX, avg)
	}

	var result DWTResult
	for _, pk := range peaks.Get(sumX, sep) {
		t := float64(pk) / envRate
		if t*float64(sampleRate) < float64(len(pcm)) {
			result.Peaks = append(result.Peaks, t)
		}
	}
	slices.Sort(result.Peaks)
	if len(result.Peaks) < 2 {
		return result, fmt.Errorf("found %d peaks, need at least 2", len(result.Peaks))
	}

	intervals := make([]float64, 0, len(result.Peaks)-1)
	for i := 1; i < len(result.Peaks); i++ {
		intervals = append(intervals, result.Peaks[i]-result.Peaks[i-1])
	}
	interval := common.Median(intervals)
	if interval <= 0 {
		return result, fmt.Errorf("degenerate peak spacing")
	}

	result.BPM = 60 / interval
	for result.BPM > config.MaxBPM {
		result.BPM /= 2
	}
	return result, nil
}
