package rhythm

// frequencyParams carries the thresholds of the activation-frequency model
type frequencyParams struct {
	window       int     // most recent entries considered
	metricCycle  int     // phrases per metric cycle for alignment
	minAligned   int     // entries required before alignment is used
	onThreshold  float64 // activation share needed on 8th-note slots
	offThreshold float64 // activation share needed on syncopated slots
}

// indexedFragment is a fragment with its position in the phrase stream
type indexedFragment struct {
	index int
	Fragment
}

// predictByFrequency marks a slot active when its activation share among the
// recent entries (averaged with the share among entries at the same position
// of the metric cycle, once enough exist) exceeds the grid-dependent
// threshold. Durations are the mean of the durations recorded on contributing
// entries.
func predictByFrequency(entries []indexedFragment, target int, p frequencyParams) Fragment {
	var out Fragment
	if len(entries) == 0 {
		return out
	}

	recent := entries
	if len(recent) > p.window {
		recent = recent[len(recent)-p.window:]
	}

	var aligned []indexedFragment
	if p.metricCycle > 0 && len(entries) >= p.minAligned {
		phase := mod(target, p.metricCycle)
		for _, e := range entries {
			if mod(e.index, p.metricCycle) == phase {
				aligned = append(aligned, e)
			}
		}
	}

	for slot := range SlotsPerPhrase {
		share, durSum, durN := activation(recent, slot)
		if len(aligned) > 0 {
			alignedShare, aSum, aN := activation(aligned, slot)
			share = (share + alignedShare) / 2
			durSum += aSum
			durN += aN
		}

		threshold := p.offThreshold
		if OnGrid(slot) {
			threshold = p.onThreshold
		}
		if share > threshold {
			out.Slots[slot] = true
			if durN > 0 {
				out.Durations[slot] = durSum / float64(durN)
			}
		}
	}

	suppressAdjacentOffGrid(&out)
	return out
}

func activation(entries []indexedFragment, slot int) (share, durSum float64, durN int) {
	if len(entries) == 0 {
		return 0, 0, 0
	}
	hits := 0
	for _, e := range entries {
		if !e.Slots[slot] {
			continue
		}
		hits++
		if d, ok := e.Durations.Get(slot); ok {
			durSum += d
			durN++
		}
	}
	return float64(hits) / float64(len(entries)), durSum, durN
}

// suppressAdjacentOffGrid drops syncopated slots next to an active 8th-note
// slot; the two are treated as the same onset and the grid position wins.
func suppressAdjacentOffGrid(f *Fragment) {
	var drop Pattern
	for slot := range SlotsPerPhrase {
		if !f.Slots[slot] || OnGrid(slot) {
			continue
		}
		if (slot > 0 && OnGrid(slot-1) && f.Slots[slot-1]) ||
			(slot < SlotsPerPhrase-1 && OnGrid(slot+1) && f.Slots[slot+1]) {
			drop[slot] = true
		}
	}
	for slot, d := range drop {
		if d {
			f.Slots[slot] = false
			f.Durations[slot] = 0
		}
	}
}

func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
