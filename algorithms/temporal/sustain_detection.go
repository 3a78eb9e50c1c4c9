package temporal

import (
	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
	"github.com/RyanBlaney/sonido-pulse/logging"
)

// SustainKind distinguishes the events of one held beat
type SustainKind int

const (
	// SustainStarted is emitted when a pulse is confirmed as held
	SustainStarted SustainKind = iota
	// SustainProgress reports the growing duration while the note holds
	SustainProgress
	// SustainEnded is emitted once the envelope has fallen off its peak
	SustainEnded
)

func (k SustainKind) String() string {
	switch k {
	case SustainStarted:
		return "started"
	case SustainProgress:
		return "progress"
	case SustainEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// SustainEvent reports a held beat. Duration32nd is measured in 32nd notes
// (one phrase slot) from the triggering pulse.
type SustainEvent struct {
	Kind         SustainKind `json:"kind"`
	PulseTime    float64     `json:"pulse_time"`
	Time         float64     `json:"time"`
	Duration32nd float64     `json:"duration_32nd"`
	Envelope     float64     `json:"envelope"`
}

// EnvelopePoint is one diagnostic envelope reading
type EnvelopePoint struct {
	Time     float64 `json:"time"`
	Envelope float64 `json:"envelope"`
}

// SustainCandidate is the pulse currently under observation
type SustainCandidate struct {
	PulseTime     float64         `json:"pulse_time"`
	PulseEnvelope float64         `json:"pulse_envelope"`
	Window        []EnvelopePoint `json:"window"`
	Evaluated     bool            `json:"evaluated"`
	Tracking      bool            `json:"tracking"`
	PeakEnvelope  float64         `json:"peak_envelope"`
	EndTime       float64         `json:"end_time,omitempty"`
	Duration32nd  float64         `json:"duration_32nd,omitempty"`
}

// SustainConfig tunes held-beat detection
type SustainConfig struct {
	MinVelocity       float64 `json:"min_velocity"`       // envelope units per second over the first quarter beat
	DecreaseThreshold float64 `json:"decrease_threshold"` // drop from peak that ends a sustain
	ProgressInterval  float64 `json:"progress_interval"`  // seconds between progress events
	WindowSeconds     float64 `json:"window_seconds"`     // envelope history kept per candidate
	MaxDecreasing     float64 `json:"max_decreasing"`     // share of falling steps tolerated in a rising trend
}

// DefaultSustainConfig returns the detector defaults
func DefaultSustainConfig() SustainConfig {
	return SustainConfig{
		MinVelocity:       0.05,
		DecreaseThreshold: 0.05,
		ProgressInterval:  0.1,
		WindowSeconds:     1.0,
		MaxDecreasing:     1.0 / 3.0,
	}
}

// SustainDetector decides, one quarter beat after each pulse, whether the
// envelope kept rising (a held note) and then follows it until it decays.
// At most one candidate is active at a time; a new pulse discards the old one.
type SustainDetector struct {
	config    SustainConfig
	logger    logging.Logger
	candidate *SustainCandidate
	lastEmit  float64
	confirmed int
}

// NewSustainDetector creates a detector. Zero-valued fields take defaults.
func NewSustainDetector(config SustainConfig) *SustainDetector {
	def := DefaultSustainConfig()
	if config.MinVelocity <= 0 {
		config.MinVelocity = def.MinVelocity
	}
	if config.DecreaseThreshold <= 0 {
		config.DecreaseThreshold = def.DecreaseThreshold
	}
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = def.ProgressInterval
	}
	if config.WindowSeconds <= 0 {
		config.WindowSeconds = def.WindowSeconds
	}
	if config.MaxDecreasing <= 0 || config.MaxDecreasing > 1 {
		config.MaxDecreasing = def.MaxDecreasing
	}

	return &SustainDetector{
		config: config,
		logger: logging.WithFields(logging.Fields{"component": "sustain_detector"}),
	}
}

// ProcessPulse starts a new candidate at a detected beat
func (sd *SustainDetector) ProcessPulse(t, envelope float64) {
	if !common.IsFinite(t) || !common.IsFinite(envelope) {
		return
	}
	if sd.candidate != nil && sd.candidate.Tracking {
		sd.logger.Debug("Sustain superseded by new pulse", logging.Fields{
			"pulse_time": sd.candidate.PulseTime,
			"new_pulse":  t,
		})
	}
	sd.candidate = &SustainCandidate{
		PulseTime:     t,
		PulseEnvelope: envelope,
		Window:        []EnvelopePoint{{Time: t, Envelope: envelope}},
		PeakEnvelope:  envelope,
	}
	sd.lastEmit = t
}

// ProcessDiagnostic feeds one envelope reading. bpm <= 0 means unknown.
// It returns the sustain events produced by this sample, if any.
func (sd *SustainDetector) ProcessDiagnostic(t, envelope, bpm float64) []SustainEvent {
	c := sd.candidate
	if c == nil || !common.IsFinite(t) || !common.IsFinite(envelope) {
		return nil
	}

	last := c.Window[len(c.Window)-1]
	if t <= last.Time {
		return nil
	}

	c.Window = append(c.Window, EnvelopePoint{Time: t, Envelope: envelope})
	sd.prune(t)

	if !common.IsFinite(bpm) || bpm <= 0 {
		return nil
	}

	beat := 60.0 / bpm
	quarterBeat := beat / 4.0
	thirtySecond := beat / 8.0
	elapsed := t - c.PulseTime

	if !c.Evaluated {
		if elapsed < quarterBeat {
			return nil
		}
		c.Evaluated = true
		if !sd.risingTrend(c.PulseTime, c.PulseTime+quarterBeat) {
			sd.candidate = nil
			return nil
		}

		c.Tracking = true
		levels := make([]float64, len(c.Window))
		for i, p := range c.Window {
			levels[i] = p.Envelope
		}
		c.PeakEnvelope = max(c.PeakEnvelope, common.Max(levels))
		c.Duration32nd = quarterBeat / thirtySecond
		sd.lastEmit = t
		sd.confirmed++

		return []SustainEvent{{
			Kind:         SustainStarted,
			PulseTime:    c.PulseTime,
			Time:         t,
			Duration32nd: c.Duration32nd,
			Envelope:     envelope,
		}}
	}

	if !c.Tracking {
		return nil
	}

	if envelope > c.PeakEnvelope {
		c.PeakEnvelope = envelope
	}

	if c.PeakEnvelope-envelope > sd.config.DecreaseThreshold {
		c.EndTime = t
		c.Duration32nd = elapsed / thirtySecond
		c.Tracking = false
		ev := SustainEvent{
			Kind:         SustainEnded,
			PulseTime:    c.PulseTime,
			Time:         t,
			Duration32nd: c.Duration32nd,
			Envelope:     envelope,
		}
		sd.candidate = nil
		return []SustainEvent{ev}
	}

	if t-sd.lastEmit < sd.config.ProgressInterval {
		return nil
	}
	sd.lastEmit = t
	c.Duration32nd = elapsed / thirtySecond
	return []SustainEvent{{
		Kind:         SustainProgress,
		PulseTime:    c.PulseTime,
		Time:         t,
		Duration32nd: c.Duration32nd,
		Envelope:     envelope,
	}}
}

// risingTrend checks the window [from, to] plus the first reading at or past
// `to`, which closes the interval.
func (sd *SustainDetector) risingTrend(from, to float64) bool {
	points := make([]EnvelopePoint, 0, len(sd.candidate.Window))
	for _, p := range sd.candidate.Window {
		if p.Time < from {
			continue
		}
		points = append(points, p)
		if p.Time >= to {
			break
		}
	}
	if len(points) < 2 {
		return false
	}

	first, last := points[0], points[len(points)-1]
	total := last.Envelope - first.Envelope
	if total <= 0 {
		return false
	}

	decreasing := 0
	for i := 1; i < len(points); i++ {
		if points[i].Envelope < points[i-1].Envelope {
			decreasing++
		}
	}
	if float64(decreasing) > sd.config.MaxDecreasing*float64(len(points)-1) {
		return false
	}

	span := last.Time - first.Time
	if span <= 0 {
		return false
	}
	return total/span > sd.config.MinVelocity
}

func (sd *SustainDetector) prune(now float64) {
	w := sd.candidate.Window
	cut := 0
	for cut < len(w)-1 && now-w[cut].Time > sd.config.WindowSeconds {
		cut++
	}
	if cut > 0 {
		sd.candidate.Window = append(w[:0], w[cut:]...)
	}
}

// Active returns a copy of the current candidate
func (sd *SustainDetector) Active() (SustainCandidate, bool) {
	if sd.candidate == nil {
		return SustainCandidate{}, false
	}
	c := *sd.candidate
	c.Window = append([]EnvelopePoint(nil), sd.candidate.Window...)
	return c, true
}

// Confirmed returns how many sustains were confirmed since the last reset
func (sd *SustainDetector) Confirmed() int {
	return sd.confirmed
}

// Reset drops the candidate and counters
func (sd *SustainDetector) Reset() {
	sd.candidate = nil
	sd.lastEmit = 0
	sd.confirmed = 0
}
