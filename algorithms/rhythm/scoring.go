package rhythm

// Score compares the phrase that was played with the prediction made for it.
// Each actual onset claims at most one unclaimed predicted onset within one
// slot, preferring 8th-note positions and then the closest. The returned
// fragment is the verified part of the prediction: matched predicted slots
// together with the durations the prediction gave them. A predicted duration
// is only promoted when its slot matched.
func Score(actual Fragment, predicted Prediction) (AccuracyRecord, Fragment) {
	var (
		claimed  Pattern
		verified Fragment
		record   = AccuracyRecord{Source: predicted.Source}
	)

	for slot := range SlotsPerPhrase {
		if !actual.Slots[slot] {
			continue
		}
		record.Total++

		match := -1
		for _, cand := range [...]int{slot, slot - 1, slot + 1} {
			if cand < 0 || cand >= SlotsPerPhrase || claimed[cand] || !predicted.Slots[cand] {
				continue
			}
			if match == -1 || (OnGrid(cand) && !OnGrid(match)) {
				match = cand
			}
		}
		if match == -1 {
			continue
		}

		claimed[match] = true
		record.Correct++
		verified.Slots[match] = true
		verified.Durations[match] = predicted.Durations[match]
	}

	record.FalsePositives = predicted.Slots.Count() - record.Correct
	return record, verified
}
