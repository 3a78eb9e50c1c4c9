package temporal

import (
	"math"

	"github.com/RyanBlaney/sonido-pulse/algorithms/filters"
)

// BeatEvent is emitted once per detected onset.
type BeatEvent struct {
	Time      float64 `json:"time"`       // seconds on the audio clock
	Energy    float64 `json:"energy"`     // block RMS that fired
	Threshold float64 `json:"threshold"`  // movingAvg * multiplier at fire time
	MovingAvg float64 `json:"moving_avg"` // noise floor at fire time
}

// DiagnosticSample is the periodic envelope report used by sustain detection.
type DiagnosticSample struct {
	Time      float64 `json:"time"`
	Envelope  float64 `json:"envelope"`
	MovingAvg float64 `json:"moving_avg"`
	Threshold float64 `json:"threshold"`
	Gate      float64 `json:"gate"`
}

// OnsetSink receives detector output. Implementations are called from the
// audio context and must not block.
type OnsetSink interface {
	Beat(BeatEvent)
	Diagnostic(DiagnosticSample)
}

// OnsetConfig tunes the energy onset detector.
type OnsetConfig struct {
	SampleRate         int     `json:"sample_rate"`
	Multiplier         float64 `json:"multiplier"`          // rms must exceed movingAvg * Multiplier
	Smoothing          float64 `json:"smoothing"`           // EMA coefficient of the noise floor
	GateDecay          float64 `json:"gate_decay"`          // per-block gate decay factor
	GateThreshold      float64 `json:"gate_threshold"`      // gate must fall below this to re-trigger
	MinInterval        float64 `json:"min_interval"`        // seconds between beats
	DiagnosticInterval float64 `json:"diagnostic_interval"` // seconds between diagnostic samples
	DCBlock            bool    `json:"dc_block"`
	FocusLowpassHz     float64 `json:"focus_lowpass_hz"` // 0 disables the kick-focus low-pass
}

// DefaultOnsetConfig returns the detector defaults
func DefaultOnsetConfig() OnsetConfig {
	return OnsetConfig{
		SampleRate:         44100,
		Multiplier:         1.8,
		Smoothing:          0.01,
		GateDecay:          0.95,
		GateThreshold:      0.2,
		MinInterval:        0.180,
		DiagnosticInterval: 0.1,
		DCBlock:            true,
		FocusLowpassHz:     0,
	}
}

// OnsetDetector turns fixed-size audio blocks into beat events using an
// adaptive energy threshold. It runs in the audio callback: Process does no
// allocation, no logging and never panics on finite or non-finite input.
type OnsetDetector struct {
	config   OnsetConfig
	envelope *Envelope
	dc       *filters.DCRemoval
	focus    *filters.Biquad

	samples        int64
	movingAvg      float64
	seeded         bool
	gate           float64
	lastBeatTime   float64
	lastDiagnostic float64
}

// NewOnsetDetector creates a detector. Zero-valued config fields fall back to
// DefaultOnsetConfig.
func NewOnsetDetector(config OnsetConfig) *OnsetDetector {
	def := DefaultOnsetConfig()
	if config.SampleRate <= 0 {
		config.SampleRate = def.SampleRate
	}
	if config.Multiplier <= 0 {
		config.Multiplier = def.Multiplier
	}
	if config.Smoothing <= 0 || config.Smoothing > 1 {
		config.Smoothing = def.Smoothing
	}
	if config.GateDecay <= 0 || config.GateDecay >= 1 {
		config.GateDecay = def.GateDecay
	}
	if config.GateThreshold <= 0 {
		config.GateThreshold = def.GateThreshold
	}
	if config.MinInterval <= 0 {
		config.MinInterval = def.MinInterval
	}
	if config.DiagnosticInterval <= 0 {
		config.DiagnosticInterval = def.DiagnosticInterval
	}

	od := &OnsetDetector{
		config:   config,
		envelope: NewEnvelope(),
	}
	if config.DCBlock {
		od.dc = filters.NewDCRemoval()
	}
	if config.FocusLowpassHz > 0 {
		od.focus = filters.NewLowpass(config.SampleRate, config.FocusLowpassHz, math.Sqrt2/2)
	}
	od.Reset()
	return od
}

// Config returns the effective configuration
func (od *OnsetDetector) Config() OnsetConfig {
	return od.config
}

// Now returns the audio clock in seconds
func (od *OnsetDetector) Now() float64 {
	return float64(od.samples) / float64(od.config.SampleRate)
}

// Process analyzes one block and reports whether a beat fired. sink may be nil.
func (od *OnsetDetector) Process(block []float32, sink OnsetSink) bool {
	now := od.Now()
	od.samples += int64(len(block))

	rms := od.blockEnergy(block)
	if !od.seeded {
		od.movingAvg = rms
		od.seeded = true
	}

	threshold := od.movingAvg * od.config.Multiplier
	fired := false
	if rms > threshold && od.gate < od.config.GateThreshold && now-od.lastBeatTime > od.config.MinInterval {
		fired = true
		od.gate = 1.0
		od.lastBeatTime = now
		if sink != nil {
			sink.Beat(BeatEvent{
				Time:      now,
				Energy:    rms,
				Threshold: threshold,
				MovingAvg: od.movingAvg,
			})
		}
	}

	if now-od.lastDiagnostic >= od.config.DiagnosticInterval {
		od.lastDiagnostic = now
		if sink != nil {
			sink.Diagnostic(DiagnosticSample{
				Time:      now,
				Envelope:  rms,
				MovingAvg: od.movingAvg,
				Threshold: threshold,
				Gate:      od.gate,
			})
		}
	}

	od.movingAvg += od.config.Smoothing * (rms - od.movingAvg)
	od.gate *= od.config.GateDecay

	return fired
}

func (od *OnsetDetector) blockEnergy(block []float32) float64 {
	if od.dc == nil && od.focus == nil {
		return od.envelope.BlockRMS(block)
	}
	if len(block) == 0 {
		return 0.0
	}

	sumSquares := 0.0
	for _, s := range block {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		if od.dc != nil {
			v = od.dc.Process(v)
		}
		if od.focus != nil {
			v = od.focus.Process(v)
		}
		sumSquares += v * v
	}
	rms := math.Sqrt(sumSquares / float64(len(block)))
	if math.IsNaN(rms) || math.IsInf(rms, 0) {
		// Filter state blew up; start over rather than poison the floor
		od.resetFilters()
		return 0.0
	}
	return rms
}

func (od *OnsetDetector) resetFilters() {
	if od.dc != nil {
		od.dc.Reset()
	}
	if od.focus != nil {
		od.focus.Reset()
	}
}

// Reset clears all detector state
func (od *OnsetDetector) Reset() {
	od.samples = 0
	od.movingAvg = 0
	od.seeded = false
	od.gate = 0
	od.lastBeatTime = math.Inf(-1)
	od.lastDiagnostic = math.Inf(-1)
	od.resetFilters()
}
