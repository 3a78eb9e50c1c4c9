package rhythm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/RyanBlaney/sonido-pulse/algorithms/temporal"
)

const testBPM = 120.0

// play feeds one beat per active slot of each pattern, phrase after phrase,
// starting at start. It returns the start time of the phrase that follows.
func play(pp *PhrasePredictor, start float64, patterns ...Pattern) float64 {
	phraseDur := BeatsPerPhrase * 60 / testBPM
	slotDur := phraseDur / SlotsPerPhrase
	for _, p := range patterns {
		for _, s := range p.Slots() {
			pp.ProcessBeat(start+float64(s)*slotDur, testBPM)
		}
		start += phraseDur
	}
	return start
}

func TestPatternSimilarity(t *testing.T) {
	a := PatternOf(0, 8, 16, 24)
	b := PatternOf(0, 8, 16)
	if got := a.Similarity(b); math.Abs(got-0.75) > 1e-12 {
		t.Errorf("similarity = %v, want 0.75", got)
	}
	if got := (Pattern{}).Similarity(Pattern{}); got != 1 {
		t.Errorf("empty similarity = %v, want 1", got)
	}
	if got := a.String(); got != "x.......|x.......|x.......|x......." {
		t.Errorf("String() = %q", got)
	}
}

func TestPhraseQuantize(t *testing.T) {
	ph := Phrase{Start: 10, BeatDuration: 0.5}
	cases := []struct {
		t    float64
		want int
	}{
		{10, 0},
		{10.03, 0},
		{10.04, 1},
		{10.5, 8},
		{9.9, 0},
		{12.5, 31},
	}
	for _, c := range cases {
		if got := ph.Quantize(c.t); got != c.want {
			t.Errorf("Quantize(%v) = %d, want %d", c.t, got, c.want)
		}
	}
}

func TestNoPredictionBeforeTwoPhrases(t *testing.T) {
	pp := NewPhrasePredictor(PredictorConfig{})
	pattern := PatternOf(0, 8, 16, 24)

	next := play(pp, 0, pattern)
	pp.ProcessBeat(next, testBPM)

	if _, ok := pp.HyperPrediction(); ok {
		t.Fatal("prediction after one closed phrase")
	}
	if _, ok := pp.HyperPredictedDurations(); ok {
		t.Fatal("durations after one closed phrase")
	}

	play(pp, next, pattern, pattern)
	if _, ok := pp.HistoryPrediction(); !ok {
		t.Fatal("no history prediction after two closed phrases")
	}
}

func TestNoBPMIgnored(t *testing.T) {
	pp := NewPhrasePredictor(PredictorConfig{})
	pp.ProcessBeat(0, 0)
	pp.ProcessBeat(0.5, -120)
	pp.ProcessBeat(1, math.NaN())
	if _, ok := pp.CurrentPhrasePattern(); ok {
		t.Fatal("phrase opened without a tempo")
	}
}

func TestCurrentPhrasePattern(t *testing.T) {
	pp := NewPhrasePredictor(PredictorConfig{})
	play(pp, 0, PatternOf(0, 6, 8, 31))

	got, ok := pp.CurrentPhrasePattern()
	if !ok {
		t.Fatal("no open phrase")
	}
	if got != PatternOf(0, 6, 8, 31) {
		t.Errorf("current = %v", got)
	}
	if len(pp.History()) != 0 {
		t.Errorf("history = %d phrases, want 0", len(pp.History()))
	}
}

func TestAlternatingCycle(t *testing.T) {
	a := PatternOf(0, 8, 12, 16, 24)
	b := PatternOf(0, 4, 10, 16, 28)

	pp := NewPhrasePredictor(PredictorConfig{})
	next := play(pp, 0, a, b, a, b)
	pp.ProcessBeat(next, testBPM)

	pred, ok := pp.HistoryPrediction()
	if !ok {
		t.Fatal("no history prediction")
	}
	if pred.Slots != a {
		t.Errorf("prediction = %v, want %v", pred.Slots, a)
	}
	if pred.Target != 4 {
		t.Errorf("target = %d, want 4", pred.Target)
	}

	next = play(pp, next, a)
	pp.ProcessBeat(next, testBPM)
	pred, _ = pp.HistoryPrediction()
	if pred.Slots != b {
		t.Errorf("prediction = %v, want %v", pred.Slots, b)
	}
}

func TestSteadyEighthsPredictedExactly(t *testing.T) {
	p := PatternOf(0, 8, 16, 24)

	pp := NewPhrasePredictor(PredictorConfig{})
	next := play(pp, 0, p, p, p, p)
	pp.ProcessBeat(next, testBPM)

	pred, ok := pp.HistoryPrediction()
	if !ok {
		t.Fatal("no history prediction")
	}
	if pred.Slots != p {
		t.Errorf("prediction = %v, want %v", pred.Slots, p)
	}

	hyper, ok := pp.HyperPredictedPattern()
	if !ok || hyper != p {
		t.Errorf("hyper prediction = %v (%v), want %v", hyper, ok, p)
	}
}

func TestFrequencyModelThresholds(t *testing.T) {
	// slot 8 in 2 of 4 phrases clears the on-grid threshold; slot 6 in 2 of
	// 4 does not clear the off-grid one
	entries := []indexedFragment{
		{index: 0, Fragment: Fragment{Slots: PatternOf(0, 6, 8)}},
		{index: 1, Fragment: Fragment{Slots: PatternOf(0)}},
		{index: 2, Fragment: Fragment{Slots: PatternOf(0, 6, 8)}},
		{index: 3, Fragment: Fragment{Slots: PatternOf(0)}},
	}
	params := NewPhrasePredictor(PredictorConfig{}).frequencyParams()
	params.minAligned = 100

	got := predictByFrequency(entries, 4, params)
	if want := PatternOf(0, 8); got.Slots != want {
		t.Errorf("slots = %v, want %v", got.Slots, want)
	}
}

func TestFrequencyModelMetricAlignment(t *testing.T) {
	// slot 20 shows up only on the first phrase of each 4-phrase cycle
	var entries []indexedFragment
	for i := range 8 {
		f := Fragment{Slots: PatternOf(0, 16)}
		if i%4 == 0 {
			f.Slots[20] = true
		}
		entries = append(entries, indexedFragment{index: i, Fragment: f})
	}
	params := NewPhrasePredictor(PredictorConfig{}).frequencyParams()

	if got := predictByFrequency(entries, 8, params); !got.Slots[20] {
		t.Errorf("aligned slot missing for cycle start: %v", got.Slots)
	}
	if got := predictByFrequency(entries, 9, params); got.Slots[20] {
		t.Errorf("aligned slot predicted off cycle start: %v", got.Slots)
	}
}

func TestAdjacentOffGridSuppressed(t *testing.T) {
	var entries []indexedFragment
	for i := range 3 {
		entries = append(entries, indexedFragment{index: i, Fragment: Fragment{Slots: PatternOf(0, 8, 9, 14)}})
	}
	params := NewPhrasePredictor(PredictorConfig{}).frequencyParams()

	got := predictByFrequency(entries, 3, params)
	if want := PatternOf(0, 8, 14); got.Slots != want {
		t.Errorf("slots = %v, want %v", got.Slots, want)
	}
}

func TestFrequencyModelDurations(t *testing.T) {
	entries := []indexedFragment{
		{index: 0, Fragment: Fragment{Slots: PatternOf(0, 8)}},
		{index: 1, Fragment: Fragment{Slots: PatternOf(0, 8)}},
		{index: 2, Fragment: Fragment{Slots: PatternOf(0, 8)}},
	}
	entries[0].Durations[8] = 2
	entries[2].Durations[8] = 4
	params := NewPhrasePredictor(PredictorConfig{}).frequencyParams()

	got := predictByFrequency(entries, 3, params)
	if d, ok := got.Durations.Get(8); !ok || d != 3 {
		t.Errorf("duration = %v (%v), want 3", d, ok)
	}
	if _, ok := got.Durations.Get(0); ok {
		t.Error("duration on slot without sustains")
	}
}

func TestScorePrefersOnGrid(t *testing.T) {
	pred := Prediction{Source: SourceHistory}
	pred.Slots = PatternOf(0, 8, 16, 18)
	pred.Durations[8] = 3
	pred.Durations[18] = 5

	record, verified := Score(Fragment{Slots: PatternOf(0, 9, 17)}, pred)

	if record.Correct != 3 || record.Total != 3 || record.FalsePositives != 1 {
		t.Errorf("record = %+v, want 3/3 with 1 false positive", record)
	}
	if want := PatternOf(0, 8, 16); verified.Slots != want {
		t.Errorf("verified = %v, want %v", verified.Slots, want)
	}
	if d, ok := verified.Durations.Get(8); !ok || d != 3 {
		t.Errorf("verified duration on 8 = %v (%v), want 3", d, ok)
	}
	if _, ok := verified.Durations.Get(18); ok {
		t.Error("duration promoted for an unmatched slot")
	}
}

func TestScoreClaimsEachPredictionOnce(t *testing.T) {
	pred := Prediction{Fragment: Fragment{Slots: PatternOf(8)}}
	record, _ := Score(Fragment{Slots: PatternOf(7, 8, 9)}, pred)
	if record.Correct != 1 || record.Total != 3 || record.FalsePositives != 0 {
		t.Errorf("record = %+v", record)
	}
	if math.Abs(record.Recall()-1.0/3) > 1e-12 || record.Precision() != 1 {
		t.Errorf("precision %v recall %v", record.Precision(), record.Recall())
	}
}

func TestFuseRule(t *testing.T) {
	h := Prediction{Source: SourceHistory, Target: 7}
	r := Prediction{Source: SourceReinforced, Target: 7}
	h.Slots = PatternOf(0, 4, 6, 10)
	r.Slots = PatternOf(0, 8, 10, 14)
	h.Durations[0] = 2
	r.Durations[0] = 4
	r.Durations[8] = 6
	h.Durations[10] = 1

	f := Fuse(h, r)
	if want := PatternOf(0, 4, 8, 10); f.Slots != want {
		t.Errorf("fused = %v, want %v", f.Slots, want)
	}
	if f.Source != SourceFused || f.Target != 7 {
		t.Errorf("source %v target %d", f.Source, f.Target)
	}
	if f.Durations[0] != 3 || f.Durations[8] != 6 || f.Durations[10] != 1 {
		t.Errorf("durations = %v", f.Durations)
	}
}

func TestFuseMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	random := func() Prediction {
		var p Prediction
		for i := range SlotsPerPhrase {
			p.Slots[i] = rng.Intn(3) == 0
		}
		return p
	}

	for range 500 {
		h, r := random(), random()
		f := Fuse(h, r)
		for slot := range SlotsPerPhrase {
			both := h.Slots[slot] && r.Slots[slot]
			if OnGrid(slot) && both && !f.Slots[slot] {
				t.Fatalf("on-grid slot %d dropped: h=%v r=%v", slot, h.Slots, r.Slots)
			}
			if !OnGrid(slot) && f.Slots[slot] && !both {
				t.Fatalf("off-grid slot %d kept without agreement: h=%v r=%v", slot, h.Slots, r.Slots)
			}
		}
	}
}

func TestScoringFeedsReinforcedStore(t *testing.T) {
	p := PatternOf(0, 8, 16, 24)

	pp := NewPhrasePredictor(PredictorConfig{})
	next := play(pp, 0, p, p, p, p)
	pp.ProcessBeat(next, testBPM)

	acc := pp.PredictionAccuracy()
	if len(acc) != 2 {
		t.Fatalf("accuracy records = %d, want 2", len(acc))
	}
	if acc[0].PhraseIndex != 2 || acc[0].Source != SourceHistory {
		t.Errorf("first record = %+v", acc[0])
	}
	if acc[1].PhraseIndex != 3 || acc[1].Source != SourceFused {
		t.Errorf("second record = %+v", acc[1])
	}
	for _, rec := range acc {
		if rec.Correct != 4 || rec.Total != 4 || rec.FalsePositives != 0 {
			t.Errorf("record = %+v, want 4/4", rec)
		}
	}

	reinforced := pp.Reinforced()
	if len(reinforced) != 2 || reinforced[0].Slots != p {
		t.Fatalf("reinforced = %+v", reinforced)
	}
	if pred, ok := pp.ReinforcedPrediction(); !ok || pred.Slots != p {
		t.Errorf("reinforced prediction = %v (%v)", pred.Slots, ok)
	}
	if pred, _ := pp.HyperPrediction(); pred.Source != SourceFused {
		t.Errorf("hyper source = %v, want fused", pred.Source)
	}
	if active, ok := pp.ActivePrediction(); !ok || active.Source != SourceFused || active.Target != 4 {
		t.Errorf("active prediction = %+v (%v), want fused for phrase 4", active, ok)
	}
}

func TestReinforcedOnlyPredictionNotScored(t *testing.T) {
	p := PatternOf(0, 8, 16, 24)
	pp := NewPhrasePredictor(PredictorConfig{})
	pp.reinforced = []ReinforcedPattern{{PhraseIndex: 0, Fragment: Fragment{Slots: p}}}

	pp.ProcessBeat(0, testBPM)
	if pred, ok := pp.HyperPrediction(); !ok || pred.Source != SourceReinforced {
		t.Fatalf("hyper prediction = %+v (%v), want reinforced", pred, ok)
	}
	if _, ok := pp.ActivePrediction(); ok {
		t.Fatal("reinforced-only prediction became active")
	}

	play(pp, 0, p)
	pp.ProcessBeat(2, testBPM)
	if acc := pp.PredictionAccuracy(); len(acc) != 0 {
		t.Errorf("accuracy records = %+v, want none", acc)
	}
}

func TestEmptyVerifiedNotStored(t *testing.T) {
	pred := Prediction{Source: SourceHistory, Fragment: Fragment{Slots: PatternOf(16)}}
	pred.Durations[16] = 2

	record, verified := Score(Fragment{Slots: PatternOf(0)}, pred)
	if record.Correct != 0 || record.Total != 1 || record.FalsePositives != 1 {
		t.Errorf("record = %+v", record)
	}
	if verified.Slots.Count() != 0 || verified.Durations != (Durations{}) {
		t.Errorf("verified = %+v, want empty", verified)
	}

	pp := NewPhrasePredictor(PredictorConfig{})
	pp.score(Phrase{Index: 3, Fragment: Fragment{Slots: PatternOf(0)}}, pred)
	if len(pp.PredictionAccuracy()) != 1 {
		t.Errorf("accuracy records = %d, want 1", len(pp.PredictionAccuracy()))
	}
	if len(pp.Reinforced()) != 0 {
		t.Errorf("reinforced = %d, want 0", len(pp.Reinforced()))
	}
}

func TestSustainDurations(t *testing.T) {
	pp := NewPhrasePredictor(PredictorConfig{})
	play(pp, 0, PatternOf(0, 8))

	pp.ProcessSustain(temporal.SustainEvent{Kind: temporal.SustainStarted, PulseTime: 0.5, Duration32nd: 2})
	pp.ProcessSustain(temporal.SustainEvent{Kind: temporal.SustainProgress, PulseTime: 0.5, Duration32nd: 5})
	pp.ProcessSustain(temporal.SustainEvent{Kind: temporal.SustainEnded, PulseTime: 0.5, Duration32nd: 4})
	pp.ProcessSustain(temporal.SustainEvent{Kind: temporal.SustainStarted, PulseTime: 0.75, Duration32nd: 3})

	ph, ok := pp.CurrentPhrase()
	if !ok {
		t.Fatal("no open phrase")
	}
	if d, ok := ph.Durations.Get(8); !ok || d != 5 {
		t.Errorf("slot 8 duration = %v (%v), want 5", d, ok)
	}
	if _, ok := ph.Durations.Get(12); ok {
		t.Error("duration recorded on an inactive slot")
	}

	// a sustain that ends after its phrase closed lands in history
	pp.ProcessBeat(2, testBPM)
	pp.ProcessSustain(temporal.SustainEvent{Kind: temporal.SustainEnded, PulseTime: 0, Duration32nd: 6})
	hist := pp.History()
	if d, _ := hist[0].Durations.Get(0); d != 6 {
		t.Errorf("closed phrase slot 0 duration = %v, want 6", d)
	}
}

func TestCyclePredictionCarriesDurations(t *testing.T) {
	p := PatternOf(0, 8, 16, 24)
	pp := NewPhrasePredictor(PredictorConfig{})

	start := 0.0
	for range 4 {
		next := play(pp, start, p)
		pp.ProcessSustain(temporal.SustainEvent{PulseTime: start + 1, Duration32nd: 4})
		start = next
	}
	pp.ProcessBeat(start, testBPM)

	durs, ok := pp.HyperPredictedDurations()
	if !ok {
		t.Fatal("no durations")
	}
	if d, ok := durs.Get(16); !ok || d != 4 {
		t.Errorf("slot 16 duration = %v (%v), want 4", d, ok)
	}
}

func TestHistoryBounded(t *testing.T) {
	p := PatternOf(0, 16)
	pp := NewPhrasePredictor(PredictorConfig{})
	patterns := make([]Pattern, 30)
	for i := range patterns {
		patterns[i] = p
	}
	next := play(pp, 0, patterns...)
	pp.ProcessBeat(next, testBPM)

	cfg := pp.Config()
	if got := len(pp.History()); got != cfg.MaxHistory {
		t.Errorf("history = %d, want %d", got, cfg.MaxHistory)
	}
	if got := len(pp.Reinforced()); got != cfg.MaxReinforced {
		t.Errorf("reinforced = %d, want %d", got, cfg.MaxReinforced)
	}
	if got := len(pp.PredictionAccuracy()); got != 28 {
		t.Errorf("accuracy = %d, want 28", got)
	}
	if last := pp.History()[cfg.MaxHistory-1]; last.Index != 29 {
		t.Errorf("newest history index = %d, want 29", last.Index)
	}
}

func TestSlotPriors(t *testing.T) {
	pp := NewPhrasePredictor(PredictorConfig{})
	if pp.SlotPriors() != nil {
		t.Fatal("priors before any phrase")
	}

	start := play(pp, 0, PatternOf(0, 8), PatternOf(0))
	pp.ProcessSustain(temporal.SustainEvent{PulseTime: 2, Duration32nd: 3})
	pp.ProcessBeat(start, testBPM)

	priors := pp.SlotPriors()
	if len(priors) != SlotsPerPhrase {
		t.Fatalf("priors = %d", len(priors))
	}
	if priors[0].Probability != 1 || priors[8].Probability != 0.5 || priors[1].Probability != 0 {
		t.Errorf("probabilities %v %v %v", priors[0].Probability, priors[8].Probability, priors[1].Probability)
	}
	if priors[0].MedianDuration != 3 {
		t.Errorf("median duration = %v, want 3", priors[0].MedianDuration)
	}
}

func TestPredictorResetMatchesFresh(t *testing.T) {
	p := PatternOf(0, 8, 16, 24)
	pp := NewPhrasePredictor(PredictorConfig{})
	next := play(pp, 0, p, p, p, p)
	pp.ProcessBeat(next, testBPM)

	pp.Reset()
	pp.Reset()
	fresh := NewPhrasePredictor(PredictorConfig{})

	if _, ok := pp.CurrentPhrasePattern(); ok {
		t.Error("open phrase after reset")
	}
	if _, ok := pp.HyperPrediction(); ok {
		t.Error("prediction after reset")
	}
	if len(pp.History()) != 0 || len(pp.Reinforced()) != 0 || len(pp.PredictionAccuracy()) != 0 {
		t.Error("stores not cleared")
	}

	a := play(pp, 0, p, p, p)
	b := play(fresh, 0, p, p, p)
	pp.ProcessBeat(a, testBPM)
	fresh.ProcessBeat(b, testBPM)

	pa, _ := pp.HyperPrediction()
	pb, _ := fresh.HyperPrediction()
	if pa != pb {
		t.Errorf("reset predictor diverges: %+v vs %+v", pa, pb)
	}
	if len(pp.PredictionAccuracy()) != len(fresh.PredictionAccuracy()) {
		t.Error("accuracy logs diverge")
	}
}

func TestSourceTextRoundTrip(t *testing.T) {
	for _, src := range []Source{SourceHistory, SourceReinforced, SourceFused} {
		text, _ := src.MarshalText()
		var got Source
		if err := got.UnmarshalText(text); err != nil || got != src {
			t.Errorf("%s decoded as %v (%v)", text, got, err)
		}
	}
	var s Source
	if err := s.UnmarshalText([]byte("oracle")); err == nil {
		t.Error("expected error for unknown source")
	}
}
