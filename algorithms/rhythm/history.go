package rhythm

import (
	"github.com/RyanBlaney/sonido-pulse/logging"
)

// findCycle looks for the shortest L in [minLen, maxLen] such that each of the
// last L phrases matches the phrase L positions before it. It returns the
// phrase that comes next in the cycle.
func findCycle(history []Phrase, minLen, maxLen int, similarity float64) (Phrase, int, bool) {
	n := len(history)
	for l := minLen; l <= maxLen; l++ {
		if n < 2*l {
			break
		}
		matched := true
		for i := n - 2*l; i < n-l; i++ {
			if history[i].Slots.Similarity(history[i+l].Slots) < similarity {
				matched = false
				break
			}
		}
		if matched {
			return history[n-l], l, true
		}
	}
	return Phrase{}, 0, false
}

// predictFromHistory forecasts the phrase with index target from raw history:
// a literal cycle if one repeats, activation frequencies otherwise.
func (pp *PhrasePredictor) predictFromHistory(target int) (Prediction, bool) {
	if len(pp.history) < pp.config.MinHistory {
		return Prediction{}, false
	}

	if next, l, ok := findCycle(pp.history, pp.config.MinCycle, pp.config.MaxCycle, pp.config.CycleSimilarity); ok {
		if l != pp.lastCycle {
			pp.logger.Debug("Phrase cycle detected", logging.Fields{
				"length": l,
				"target": target,
			})
		}
		pp.lastCycle = l
		return Prediction{Target: target, Source: SourceHistory, Fragment: next.Fragment}, true
	}
	pp.lastCycle = 0

	entries := make([]indexedFragment, len(pp.history))
	for i, ph := range pp.history {
		entries[i] = indexedFragment{index: ph.Index, Fragment: ph.Fragment}
	}
	return Prediction{
		Target:   target,
		Source:   SourceHistory,
		Fragment: predictByFrequency(entries, target, pp.frequencyParams()),
	}, true
}

// predictFromReinforced applies the frequency model to the reinforced store
func (pp *PhrasePredictor) predictFromReinforced(target int) (Prediction, bool) {
	if len(pp.reinforced) == 0 {
		return Prediction{}, false
	}
	entries := make([]indexedFragment, len(pp.reinforced))
	for i, r := range pp.reinforced {
		entries[i] = indexedFragment{index: r.PhraseIndex, Fragment: r.Fragment}
	}
	return Prediction{
		Target:   target,
		Source:   SourceReinforced,
		Fragment: predictByFrequency(entries, target, pp.frequencyParams()),
	}, true
}
