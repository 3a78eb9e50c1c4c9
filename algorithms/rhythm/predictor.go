package rhythm

import (
	"math"

	"github.com/RyanBlaney/sonido-pulse/algorithms/temporal"
	"github.com/RyanBlaney/sonido-pulse/logging"
)

// PredictorConfig tunes phrase tracking and prediction
type PredictorConfig struct {
	MaxHistory    int `json:"max_history"`    // closed phrases retained
	MaxReinforced int `json:"max_reinforced"` // verified fragments retained
	MaxAccuracy   int `json:"max_accuracy"`   // accuracy records retained
	MinHistory    int `json:"min_history"`    // phrases needed before history predictions

	Window          int     `json:"window"`           // recent phrases in the frequency model
	MetricCycle     int     `json:"metric_cycle"`     // phrases per metric cycle
	MinAligned      int     `json:"min_aligned"`      // phrases needed before metric alignment
	MinCycle        int     `json:"min_cycle"`        // shortest literal cycle searched
	MaxCycle        int     `json:"max_cycle"`        // longest literal cycle searched
	CycleSimilarity float64 `json:"cycle_similarity"` // per-pair Jaccard needed for a cycle

	OnGridThreshold  float64 `json:"on_grid_threshold"`
	OffGridThreshold float64 `json:"off_grid_threshold"`
}

// DefaultPredictorConfig returns the predictor defaults
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		MaxHistory:       16,
		MaxReinforced:    20,
		MaxAccuracy:      32,
		MinHistory:       2,
		Window:           4,
		MetricCycle:      4,
		MinAligned:       4,
		MinCycle:         2,
		MaxCycle:         4,
		CycleSimilarity:  0.8,
		OnGridThreshold:  0.4,
		OffGridThreshold: 0.6,
	}
}

func withPredictorDefaults(c PredictorConfig) PredictorConfig {
	d := DefaultPredictorConfig()
	for _, f := range []struct{ v, def *int }{
		{&c.MaxHistory, &d.MaxHistory},
		{&c.MaxReinforced, &d.MaxReinforced},
		{&c.MaxAccuracy, &d.MaxAccuracy},
		{&c.MinHistory, &d.MinHistory},
		{&c.Window, &d.Window},
		{&c.MetricCycle, &d.MetricCycle},
		{&c.MinAligned, &d.MinAligned},
		{&c.MinCycle, &d.MinCycle},
		{&c.MaxCycle, &d.MaxCycle},
	} {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}
	for _, f := range []struct{ v, def *float64 }{
		{&c.CycleSimilarity, &d.CycleSimilarity},
		{&c.OnGridThreshold, &d.OnGridThreshold},
		{&c.OffGridThreshold, &d.OffGridThreshold},
	} {
		if *f.v <= 0 {
			*f.v = *f.def
		}
	}
	if c.MaxCycle < c.MinCycle {
		c.MaxCycle = c.MinCycle
	}
	return c
}

// PhrasePredictor quantizes beats into 32-slot phrases and forecasts the
// rhythm of the phrase being played.
//
// Two predictors run side by side. The history predictor looks for a literal
// cycle in recent phrases and falls back to per-slot activation frequencies.
// The reinforced predictor runs the same frequency model over fragments of
// earlier predictions that were confirmed by what was actually played. Their
// outputs are fused so that syncopated slots need agreement from both.
type PhrasePredictor struct {
	config PredictorConfig
	logger logging.Logger

	history    []Phrase
	reinforced []ReinforcedPattern
	accuracy   []AccuracyRecord

	current   *Phrase
	nextIndex int

	// active is the prediction the open phrase will be scored against
	active *Prediction

	historyPred    *Prediction
	reinforcedPred *Prediction
	fused          *Prediction
	lastCycle      int
}

// NewPhrasePredictor creates a predictor. Zero-valued fields take defaults.
func NewPhrasePredictor(config PredictorConfig) *PhrasePredictor {
	pp := &PhrasePredictor{
		config: withPredictorDefaults(config),
		logger: logging.WithFields(logging.Fields{"component": "phrase_predictor"}),
	}
	pp.Reset()
	return pp
}

// Config returns the effective configuration
func (pp *PhrasePredictor) Config() PredictorConfig {
	return pp.config
}

func (pp *PhrasePredictor) frequencyParams() frequencyParams {
	return frequencyParams{
		window:       pp.config.Window,
		metricCycle:  pp.config.MetricCycle,
		minAligned:   pp.config.MinAligned,
		onThreshold:  pp.config.OnGridThreshold,
		offThreshold: pp.config.OffGridThreshold,
	}
}

// ProcessBeat places a beat at time t into the open phrase, closing and
// opening phrases as the beat clock advances. bpm is the tempo used to size
// a newly opened phrase; beats with no usable tempo are ignored.
func (pp *PhrasePredictor) ProcessBeat(t, bpm float64) {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) || math.IsNaN(t) || math.IsInf(t, 0) {
		return
	}

	switch {
	case pp.current == nil:
		pp.open(t, bpm)
	case t < pp.current.Start:
		return
	case t-pp.current.Start >= pp.current.Duration()-pp.current.SlotDuration()/2:
		pp.close()
		pp.open(t, bpm)
	}

	slot := pp.current.Quantize(t)
	pp.current.Slots[slot] = true

	pp.refresh()
}

// ProcessSustain records a sustain duration on the slot of the beat that
// started it. The beat may belong to the open phrase or to the phrase that
// closed most recently; the longest duration seen for a slot is kept.
func (pp *PhrasePredictor) ProcessSustain(ev temporal.SustainEvent) {
	if ev.Duration32nd <= 0 || math.IsNaN(ev.Duration32nd) || math.IsInf(ev.Duration32nd, 0) {
		return
	}

	var ph *Phrase
	switch {
	case pp.current != nil && pp.current.Contains(ev.PulseTime):
		ph = pp.current
	case len(pp.history) > 0 && pp.history[len(pp.history)-1].Contains(ev.PulseTime):
		ph = &pp.history[len(pp.history)-1]
	default:
		return
	}

	slot := ph.Quantize(ev.PulseTime)
	if !ph.Slots[slot] {
		return
	}
	if ev.Duration32nd > ph.Durations[slot] {
		ph.Durations[slot] = ev.Duration32nd
	}
	if ph != pp.current {
		pp.refresh()
	}
}

func (pp *PhrasePredictor) open(t, bpm float64) {
	pp.current = &Phrase{
		Index:        pp.nextIndex,
		Start:        t,
		BeatDuration: 60 / bpm,
	}
	pp.nextIndex++

	pp.refresh()
	pp.active = nil
	switch {
	case pp.fused != nil:
		pred := *pp.fused
		pp.active = &pred
	case pp.historyPred != nil:
		pred := *pp.historyPred
		pp.active = &pred
	}
}

func (pp *PhrasePredictor) close() {
	closed := *pp.current
	pp.current = nil

	if pp.active != nil {
		pp.score(closed, *pp.active)
	}
	pp.active = nil

	pp.history = append(pp.history, closed)
	if len(pp.history) > pp.config.MaxHistory {
		pp.history = pp.history[len(pp.history)-pp.config.MaxHistory:]
	}
}

func (pp *PhrasePredictor) score(actual Phrase, pred Prediction) {
	record, verified := Score(actual.Fragment, pred)
	record.PhraseIndex = actual.Index

	pp.accuracy = append(pp.accuracy, record)
	if len(pp.accuracy) > pp.config.MaxAccuracy {
		pp.accuracy = pp.accuracy[len(pp.accuracy)-pp.config.MaxAccuracy:]
	}

	pp.logger.Debug("Phrase scored", logging.Fields{
		"phrase":          actual.Index,
		"source":          pred.Source.String(),
		"correct":         record.Correct,
		"total":           record.Total,
		"false_positives": record.FalsePositives,
	})

	if verified.Slots.Count() == 0 {
		return
	}
	pp.reinforced = append(pp.reinforced, ReinforcedPattern{PhraseIndex: actual.Index, Fragment: verified})
	if len(pp.reinforced) > pp.config.MaxReinforced {
		pp.reinforced = pp.reinforced[len(pp.reinforced)-pp.config.MaxReinforced:]
	}
}

// refresh recomputes all predictions for the open phrase, or for the phrase
// that will open next when none is open.
func (pp *PhrasePredictor) refresh() {
	target := pp.nextIndex
	if pp.current != nil {
		target = pp.current.Index
	}

	pp.historyPred, pp.reinforcedPred, pp.fused = nil, nil, nil
	if h, ok := pp.predictFromHistory(target); ok {
		pp.historyPred = &h
	}
	if r, ok := pp.predictFromReinforced(target); ok {
		pp.reinforcedPred = &r
	}
	if pp.historyPred != nil && pp.reinforcedPred != nil {
		f := Fuse(*pp.historyPred, *pp.reinforcedPred)
		pp.fused = &f
	}
}

// CurrentPhrase returns a copy of the open phrase
func (pp *PhrasePredictor) CurrentPhrase() (Phrase, bool) {
	if pp.current == nil {
		return Phrase{}, false
	}
	return *pp.current, true
}

// CurrentPhrasePattern returns the slots marked so far in the open phrase
func (pp *PhrasePredictor) CurrentPhrasePattern() (Pattern, bool) {
	if pp.current == nil {
		return Pattern{}, false
	}
	return pp.current.Slots, true
}

// HistoryPrediction returns the latest history-based prediction
func (pp *PhrasePredictor) HistoryPrediction() (Prediction, bool) {
	if pp.historyPred == nil {
		return Prediction{}, false
	}
	return *pp.historyPred, true
}

// ReinforcedPrediction returns the latest prediction from the reinforced store
func (pp *PhrasePredictor) ReinforcedPrediction() (Prediction, bool) {
	if pp.reinforcedPred == nil {
		return Prediction{}, false
	}
	return *pp.reinforcedPred, true
}

// HyperPrediction returns the best available prediction: fused when both
// predictors have output, otherwise whichever one does.
func (pp *PhrasePredictor) HyperPrediction() (Prediction, bool) {
	switch {
	case pp.fused != nil:
		return *pp.fused, true
	case pp.historyPred != nil:
		return *pp.historyPred, true
	case pp.reinforcedPred != nil:
		return *pp.reinforcedPred, true
	}
	return Prediction{}, false
}

// HyperPredictedPattern returns the slots of HyperPrediction
func (pp *PhrasePredictor) HyperPredictedPattern() (Pattern, bool) {
	pred, ok := pp.HyperPrediction()
	return pred.Slots, ok
}

// HyperPredictedDurations returns the durations of HyperPrediction
func (pp *PhrasePredictor) HyperPredictedDurations() (Durations, bool) {
	pred, ok := pp.HyperPrediction()
	return pred.Durations, ok
}

// ActivePrediction returns the prediction the open phrase will be scored
// against: the fused prediction at the time it opened, else the history one.
// A reinforced-only prediction is shown but never scored.
func (pp *PhrasePredictor) ActivePrediction() (Prediction, bool) {
	if pp.active == nil {
		return Prediction{}, false
	}
	return *pp.active, true
}

// PredictionAccuracy returns the accuracy log, oldest first
func (pp *PhrasePredictor) PredictionAccuracy() []AccuracyRecord {
	return append([]AccuracyRecord(nil), pp.accuracy...)
}

// History returns the closed phrases, oldest first
func (pp *PhrasePredictor) History() []Phrase {
	return append([]Phrase(nil), pp.history...)
}

// Reinforced returns the reinforced store, oldest first
func (pp *PhrasePredictor) Reinforced() []ReinforcedPattern {
	return append([]ReinforcedPattern(nil), pp.reinforced...)
}

// SlotPriors summarizes the closed phrases slot by slot
func (pp *PhrasePredictor) SlotPriors() []SlotPrior {
	fragments := make([]Fragment, len(pp.history))
	for i, ph := range pp.history {
		fragments[i] = ph.Fragment
	}
	return ComputeSlotPriors(fragments)
}

// Reset clears all phrases, predictions and learned state
func (pp *PhrasePredictor) Reset() {
	pp.history = nil
	pp.reinforced = nil
	pp.accuracy = nil
	pp.current = nil
	pp.nextIndex = 0
	pp.active = nil
	pp.historyPred = nil
	pp.reinforcedPred = nil
	pp.fused = nil
	pp.lastCycle = 0
}
