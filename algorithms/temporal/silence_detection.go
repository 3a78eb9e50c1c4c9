package temporal

import (
	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
)

// SilenceConfig tunes silence detection over diagnostic envelope samples
type SilenceConfig struct {
	Threshold   float64 `json:"threshold"`    // envelope below this is quiet
	MinDuration float64 `json:"min_duration"` // seconds of quiet before silence is declared
	MaxSegments int     `json:"max_segments"` // finished segments retained
}

// DefaultSilenceConfig returns the detector defaults
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		Threshold:   0.002,
		MinDuration: 2.0,
		MaxSegments: 32,
	}
}

// SilenceSegment is a stretch of audio that stayed below the threshold
type SilenceSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// SilenceDetector tracks whether the input has gone quiet
type SilenceDetector struct {
	config SilenceConfig

	quiet      bool
	quietSince float64
	silent     bool
	segments   []SilenceSegment
}

// NewSilenceDetector creates a detector. Zero-valued fields take defaults.
func NewSilenceDetector(config SilenceConfig) *SilenceDetector {
	def := DefaultSilenceConfig()
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.MinDuration <= 0 {
		config.MinDuration = def.MinDuration
	}
	if config.MaxSegments <= 0 {
		config.MaxSegments = def.MaxSegments
	}
	return &SilenceDetector{config: config}
}

// Process feeds one envelope reading and reports the silence state and
// whether it changed with this reading.
func (sd *SilenceDetector) Process(t, envelope float64) (silent, changed bool) {
	if !common.IsFinite(t) || !common.IsFinite(envelope) {
		return sd.silent, false
	}

	if envelope >= sd.config.Threshold {
		wasSilent := sd.silent
		if wasSilent {
			sd.segments = append(sd.segments, SilenceSegment{Start: sd.quietSince, End: t})
			if len(sd.segments) > sd.config.MaxSegments {
				sd.segments = sd.segments[len(sd.segments)-sd.config.MaxSegments:]
			}
		}
		sd.quiet = false
		sd.silent = false
		return false, wasSilent
	}

	if !sd.quiet {
		sd.quiet = true
		sd.quietSince = t
	}
	if !sd.silent && t-sd.quietSince >= sd.config.MinDuration {
		sd.silent = true
		return true, true
	}
	return sd.silent, false
}

// Silent reports whether the input is currently silent
func (sd *SilenceDetector) Silent() bool {
	return sd.silent
}

// Segments returns the finished silent stretches, oldest first
func (sd *SilenceDetector) Segments() []SilenceSegment {
	return append([]SilenceSegment(nil), sd.segments...)
}

// Reset clears all state
func (sd *SilenceDetector) Reset() {
	sd.quiet = false
	sd.quietSince = 0
	sd.silent = false
	sd.segments = nil
}
