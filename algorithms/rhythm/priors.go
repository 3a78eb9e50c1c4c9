package rhythm

import (
	"github.com/RyanBlaney/sonido-pulse/algorithms/common"
)

// SlotPrior summarizes one slot over a set of phrases
type SlotPrior struct {
	Slot           int     `json:"slot"`
	Probability    float64 `json:"probability"`     // share of phrases with an onset here
	MedianDuration float64 `json:"median_duration"` // 32nds, 0 when no sustain was seen
	Samples        int     `json:"samples"`
}

// ComputeSlotPriors returns onset probability and median sustain length per
// slot across fragments. Empty input yields nil.
func ComputeSlotPriors(fragments []Fragment) []SlotPrior {
	if len(fragments) == 0 {
		return nil
	}

	priors := make([]SlotPrior, SlotsPerPhrase)
	durations := make([]float64, 0, len(fragments))
	for slot := range SlotsPerPhrase {
		hits := 0
		durations = durations[:0]
		for _, f := range fragments {
			if !f.Slots[slot] {
				continue
			}
			hits++
			if d, ok := f.Durations.Get(slot); ok {
				durations = append(durations, d)
			}
		}
		priors[slot] = SlotPrior{
			Slot:           slot,
			Probability:    float64(hits) / float64(len(fragments)),
			MedianDuration: common.Median(durations),
			Samples:        len(fragments),
		}
	}
	return priors
}
