package temporal

import (
	"math"

	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
	"github.com/RyanBlaney/sonido-pulse/logging"
)

// harmonicFamily holds the multiples of the accepted mean a new sample may
// sit on and still count as the same tempo.
var harmonicFamily = [...]float64{0.5, 1, 2, 4}

// TempoConfig tunes the two-stage tempo estimator
type TempoConfig struct {
	MaxBeats      int     `json:"max_beats"`      // beat times retained
	MinBeats      int     `json:"min_beats"`      // beats required before a BPM exists
	OutlierLow    float64 `json:"outlier_low"`    // interval floor as a fraction of the median
	OutlierHigh   float64 `json:"outlier_high"`   // interval ceiling as a multiple of the median
	MaxBPM        float64 `json:"max_bpm"`        // values above are halved
	FastAlpha     float64 `json:"fast_alpha"`     // EMA factor for small changes
	SlowAlpha     float64 `json:"slow_alpha"`     // EMA factor for large jumps
	JumpThreshold float64 `json:"jump_threshold"` // relative change separating the two

	AcceptedSize      int     `json:"accepted_size"`
	DroppedSize       int     `json:"dropped_size"`
	HarmonicTolerance float64 `json:"harmonic_tolerance"`
	DropRatio         float64 `json:"drop_ratio"`       // dropped share of recent samples that suggests a change
	ClusterCV         float64 `json:"cluster_cv"`       // dropped values must cluster tighter than this
	ChangeThreshold   float64 `json:"change_threshold"` // dropped mean must differ by more than this
	MinRematch        int     `json:"min_rematch"`      // dropped values that must re-match the new tempo
	MinPlausibleBPM   float64 `json:"min_plausible_bpm"`
	ChangeHold        float64 `json:"change_hold"` // seconds a detected change stays reported

	HintWeight float64 `json:"hint_weight"`
	HintTTL    float64 `json:"hint_ttl"` // seconds
}

// DefaultTempoConfig returns the estimator defaults
func DefaultTempoConfig() TempoConfig {
	return TempoConfig{
		MaxBeats:          20,
		MinBeats:          3,
		OutlierLow:        0.5,
		OutlierHigh:       2.0,
		MaxBPM:            200,
		FastAlpha:         0.3,
		SlowAlpha:         0.1,
		JumpThreshold:     0.2,
		AcceptedSize:      20,
		DroppedSize:       20,
		HarmonicTolerance: 0.15,
		DropRatio:         0.4,
		ClusterCV:         0.15,
		ChangeThreshold:   0.2,
		MinRematch:        4,
		MinPlausibleBPM:   60,
		ChangeHold:        2.0,
		HintWeight:        0.25,
		HintTTL:           30,
	}
}

// BPMHint is a tempo suggested by an external predictor
type BPMHint struct {
	Value      float64 `json:"value"`
	ReceivedAt float64 `json:"received_at"`
}

// TempoStats exposes estimator internals for diagnostics
type TempoStats struct {
	Beats        int       `json:"beats"`
	Accepted     []float64 `json:"accepted"`
	Dropped      []float64 `json:"dropped"`
	AcceptCount  int       `json:"accept_count"`
	DropCount    int       `json:"drop_count"`
	TempoChanges int       `json:"tempo_changes"`
	Hint         *BPMHint  `json:"hint,omitempty"` // set while the hint is blended in
}

// TempoEstimator converts a stream of beat times into a smoothed,
// octave-corrected BPM.
//
// Stage one takes the median of outlier-filtered inter-beat intervals and
// smooths it with an EMA that adapts slowly to large jumps. Stage two keeps a
// buffer of stage-one samples that agree with the running mean up to a
// harmonic (x0.5, x1, x2, x4) and parks the rest in a dropped buffer; a tight,
// persistent cluster of dropped samples is promoted to a new tempo.
type TempoEstimator struct {
	config TempoConfig
	logger logging.Logger

	beats    *common.CircularBuffer
	accepted *common.CircularBuffer
	dropped  *common.CircularBuffer

	smoothed    float64
	hasSmoothed bool
	hyper       float64
	hasHyper    bool

	hint    BPMHint
	hasHint bool
	now     float64

	acceptCount    int
	dropCount      int
	tempoChanges   int
	changeAt       float64
	changeReported bool
}

// NewTempoEstimator creates an estimator. Zero-valued fields take defaults.
func NewTempoEstimator(config TempoConfig) *TempoEstimator {
	config = withTempoDefaults(config)

	te := &TempoEstimator{
		config:   config,
		logger:   logging.WithFields(logging.Fields{"component": "tempo_estimator"}),
		beats:    common.NewCircularBuffer(config.MaxBeats),
		accepted: common.NewCircularBuffer(config.AcceptedSize),
		dropped:  common.NewCircularBuffer(config.DroppedSize),
	}
	te.Reset()
	return te
}

func withTempoDefaults(c TempoConfig) TempoConfig {
	d := DefaultTempoConfig()
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setFloat := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	setInt(&c.MaxBeats, d.MaxBeats)
	setInt(&c.MinBeats, d.MinBeats)
	setInt(&c.AcceptedSize, d.AcceptedSize)
	setInt(&c.DroppedSize, d.DroppedSize)
	setInt(&c.MinRematch, d.MinRematch)
	setFloat(&c.OutlierLow, d.OutlierLow)
	setFloat(&c.OutlierHigh, d.OutlierHigh)
	setFloat(&c.MaxBPM, d.MaxBPM)
	setFloat(&c.FastAlpha, d.FastAlpha)
	setFloat(&c.SlowAlpha, d.SlowAlpha)
	setFloat(&c.JumpThreshold, d.JumpThreshold)
	setFloat(&c.HarmonicTolerance, d.HarmonicTolerance)
	setFloat(&c.DropRatio, d.DropRatio)
	setFloat(&c.ClusterCV, d.ClusterCV)
	setFloat(&c.ChangeThreshold, d.ChangeThreshold)
	setFloat(&c.MinPlausibleBPM, d.MinPlausibleBPM)
	setFloat(&c.ChangeHold, d.ChangeHold)
	setFloat(&c.HintWeight, d.HintWeight)
	setFloat(&c.HintTTL, d.HintTTL)
	if c.MinBeats < 3 {
		c.MinBeats = 3
	}
	return c
}

// AddBeat records a beat time. Times that go backwards are ignored.
func (te *TempoEstimator) AddBeat(t float64) {
	if !common.IsFinite(t) {
		return
	}
	if last, ok := te.beats.Last(); ok && t <= last {
		return
	}
	te.beats.Push(t)
	if t > te.now {
		te.now = t
	}
}

// ProcessBeat records a beat and runs both smoothing stages. It returns the
// hyper-smoothed BPM, if any.
func (te *TempoEstimator) ProcessBeat(t float64) (float64, bool) {
	te.AddBeat(t)
	if _, ok := te.CalculateBPM(); !ok {
		return te.HyperSmoothedBPM()
	}
	return te.UpdateHyperSmoothedBPM()
}

// CalculateBPM derives a raw BPM from the buffered beats and folds it into the
// first-stage EMA. It returns the updated smoothed BPM.
func (te *TempoEstimator) CalculateBPM() (float64, bool) {
	if te.beats.Available() < te.config.MinBeats {
		return 0, false
	}

	times := te.beats.Values()
	intervals := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		intervals = append(intervals, times[i]-times[i-1])
	}

	median := common.Median(intervals)
	if median <= 0 {
		return te.SmoothedBPM()
	}

	survivors := intervals[:0]
	for _, iv := range intervals {
		if iv >= te.config.OutlierLow*median && iv <= te.config.OutlierHigh*median {
			survivors = append(survivors, iv)
		}
	}
	if len(survivors) < 2 {
		return te.SmoothedBPM()
	}

	interval := common.Median(survivors)
	if interval <= 0 {
		return te.SmoothedBPM()
	}

	raw := te.foldCeiling(60.0 / interval)

	if !te.hasSmoothed {
		te.smoothed = raw
		te.hasSmoothed = true
	} else {
		alpha := te.config.FastAlpha
		if common.RelativeDifference(raw, te.smoothed) >= te.config.JumpThreshold {
			alpha = te.config.SlowAlpha
		}
		te.smoothed = common.EMA(te.smoothed, raw, alpha)
	}

	return te.SmoothedBPM()
}

// UpdateHyperSmoothedBPM feeds the current smoothed BPM into the second stage
func (te *TempoEstimator) UpdateHyperSmoothedBPM() (float64, bool) {
	if !te.hasSmoothed {
		return te.HyperSmoothedBPM()
	}
	sample := te.smoothed

	if te.accepted.Available() < 2 {
		te.accepted.Push(sample)
		te.acceptCount++
		te.hyper = common.Mean(te.accepted.Values())
		te.hasHyper = true
	} else {
		mean := common.Mean(te.accepted.Values())
		if folded, ok := foldHarmonic(sample, mean, te.config.HarmonicTolerance); ok {
			te.accepted.Push(folded)
			te.acceptCount++
			te.hyper = common.Mean(te.accepted.Values())
		} else {
			te.dropped.Push(sample)
			te.dropCount++
		}
	}

	te.analyzeDropped()
	return te.HyperSmoothedBPM()
}

// analyzeDropped promotes a tight, persistent cluster of rejected samples to
// the new tempo.
func (te *TempoEstimator) analyzeDropped() {
	nDropped := te.dropped.Available()
	if nDropped < te.config.MinRematch || !te.hasHyper {
		return
	}

	recent := nDropped + te.accepted.Available()
	if float64(nDropped)/float64(recent) <= te.config.DropRatio {
		return
	}

	values := te.dropped.Values()
	if common.CoefficientOfVariation(values) >= te.config.ClusterCV {
		return
	}

	droppedMean := common.Mean(values)
	if common.RelativeDifference(droppedMean, te.hyper) <= te.config.ChangeThreshold {
		return
	}

	candidate := droppedMean
	for i := 0; i < 2 && candidate > te.config.MaxBPM; i++ {
		candidate /= 2
	}
	if candidate < te.config.MinPlausibleBPM {
		candidate *= 2
	}

	matches := make([]float64, 0, len(values))
	for _, v := range values {
		if folded, ok := foldHarmonic(v, candidate, te.config.HarmonicTolerance); ok {
			matches = append(matches, folded)
		}
	}
	if len(matches) < te.config.MinRematch {
		return
	}

	previous := te.hyper
	te.accepted.Clear()
	for _, m := range matches {
		te.accepted.Push(m)
	}
	te.dropped.Clear()
	te.hyper = common.Mean(te.accepted.Values())
	te.acceptCount = 0
	te.dropCount = 0
	te.tempoChanges++
	te.changeAt = te.now
	te.changeReported = true

	te.logger.Info("Tempo change detected", logging.Fields{
		"previous_bpm": math.Round(previous*10) / 10,
		"new_bpm":      math.Round(te.hyper*10) / 10,
		"matches":      len(matches),
	})
}

// foldHarmonic returns sample divided by the harmonic of base it sits on,
// picking the closest member of the family within tolerance.
func foldHarmonic(sample, base, tolerance float64) (float64, bool) {
	if base <= 0 || sample <= 0 {
		return 0, false
	}
	best := math.Inf(1)
	folded := 0.0
	for _, k := range harmonicFamily {
		diff := common.RelativeDifference(sample, base*k)
		if diff < tolerance && diff < best {
			best = diff
			folded = sample / k
		}
	}
	return folded, !math.IsInf(best, 1)
}

func (te *TempoEstimator) foldCeiling(bpm float64) float64 {
	for bpm > te.config.MaxBPM {
		bpm /= 2
	}
	return bpm
}

// SmoothedBPM returns the first-stage estimate
func (te *TempoEstimator) SmoothedBPM() (float64, bool) {
	if !te.hasSmoothed {
		return 0, false
	}
	return te.foldCeiling(te.smoothed), true
}

// HyperSmoothedBPM returns the second-stage estimate, blended with a fresh
// external hint when one is present.
func (te *TempoEstimator) HyperSmoothedBPM() (float64, bool) {
	if !te.hasHyper || te.hyper <= 0 {
		return 0, false
	}
	bpm := te.hyper
	if te.hintFresh() {
		w := te.config.HintWeight
		bpm = (1-w)*bpm + w*te.hint.Value
	}
	return te.foldCeiling(bpm), true
}

// SetServerBPMHint stores an external tempo suggestion received at arrivalTime.
// The hint is blended only while the beat clock is within HintTTL after
// arrivalTime; the hint itself never moves the clock.
func (te *TempoEstimator) SetServerBPMHint(bpm, arrivalTime float64) {
	if !common.IsFinite(bpm) || !common.IsFinite(arrivalTime) {
		return
	}
	te.hint = BPMHint{Value: bpm, ReceivedAt: arrivalTime}
	te.hasHint = true
}

// Hint returns the stored hint and whether it is currently blended in
func (te *TempoEstimator) Hint() (BPMHint, bool) {
	return te.hint, te.hintFresh()
}

func (te *TempoEstimator) hintFresh() bool {
	if !te.hasHint || te.hint.Value <= 0 {
		return false
	}
	age := te.now - te.hint.ReceivedAt
	return age >= 0 && age <= te.config.HintTTL
}

// IsTempoChangeDetected reports whether a tempo change was promoted within the
// last ChangeHold seconds of the beat clock.
func (te *TempoEstimator) IsTempoChangeDetected() bool {
	return te.changeReported && te.now-te.changeAt <= te.config.ChangeHold
}

// Now returns the latest beat time
func (te *TempoEstimator) Now() float64 {
	return te.now
}

// Stats returns a copy of the estimator buffers and counters
func (te *TempoEstimator) Stats() TempoStats {
	st := TempoStats{
		Beats:        te.beats.Available(),
		Accepted:     te.accepted.Values(),
		Dropped:      te.dropped.Values(),
		AcceptCount:  te.acceptCount,
		DropCount:    te.dropCount,
		TempoChanges: te.tempoChanges,
	}
	if h, fresh := te.Hint(); fresh {
		st.Hint = &h
	}
	return st
}

// Reset clears all estimator state
func (te *TempoEstimator) Reset() {
	te.beats.Clear()
	te.accepted.Clear()
	te.dropped.Clear()
	te.smoothed = 0
	te.hasSmoothed = false
	te.hyper = 0
	te.hasHyper = false
	te.hint = BPMHint{}
	te.hasHint = false
	te.now = 0
	te.acceptCount = 0
	te.dropCount = 0
	te.tempoChanges = 0
	te.changeAt = 0
	te.changeReported = false
}
