package rhythm

// Fuse combines the history and reinforced predictions. A slot survives when
// both predictors mark it, or when it is an 8th-note slot marked by either;
// syncopated slots backed by a single predictor are dropped. Durations are
// averaged when both sides carry one.
func Fuse(history, reinforced Prediction) Prediction {
	out := Prediction{Target: history.Target, Source: SourceFused}

	for slot := range SlotsPerPhrase {
		h, r := history.Slots[slot], reinforced.Slots[slot]
		if !(h && r) && !((h || r) && OnGrid(slot)) {
			continue
		}
		out.Slots[slot] = true

		hd, hok := history.Durations.Get(slot)
		rd, rok := reinforced.Durations.Get(slot)
		hok = hok && h
		rok = rok && r
		switch {
		case hok && rok:
			out.Durations[slot] = (hd + rd) / 2
		case hok:
			out.Durations[slot] = hd
		case rok:
			out.Durations[slot] = rd
		}
	}
	return out
}
