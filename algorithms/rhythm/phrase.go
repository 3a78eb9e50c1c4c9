package rhythm

import (
	"fmt"
	"math"
	"strings"
)

const (
	// SlotsPerPhrase is the number of 32nd-note slots in one phrase
	SlotsPerPhrase = 32
	// BeatsPerPhrase is the phrase length in beats
	BeatsPerPhrase = 4
	// SlotsPerBeat is the number of slots per beat
	SlotsPerBeat = SlotsPerPhrase / BeatsPerPhrase
	// GridStep is the slot spacing of 8th-note positions
	GridStep = 4
)

// OnGrid reports whether slot sits on an 8th-note boundary
func OnGrid(slot int) bool {
	return slot%GridStep == 0
}

// Pattern marks which slots of a phrase hold an onset
type Pattern [SlotsPerPhrase]bool

// Count returns the number of active slots
func (p Pattern) Count() int {
	n := 0
	for _, on := range p {
		if on {
			n++
		}
	}
	return n
}

// Slots returns the active slot indices in ascending order
func (p Pattern) Slots() []int {
	out := make([]int, 0, SlotsPerPhrase)
	for i, on := range p {
		if on {
			out = append(out, i)
		}
	}
	return out
}

// Similarity is the Jaccard index of the active slot sets. Two empty
// patterns are identical.
func (p Pattern) Similarity(other Pattern) float64 {
	inter, union := 0, 0
	for i := range p {
		if p[i] && other[i] {
			inter++
		}
		if p[i] || other[i] {
			union++
		}
	}
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

// String renders the pattern as x/. characters grouped by beat
func (p Pattern) String() string {
	var b strings.Builder
	for i, on := range p {
		if i > 0 && i%SlotsPerBeat == 0 {
			b.WriteByte('|')
		}
		if on {
			b.WriteByte('x')
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

// PatternOf builds a pattern from slot indices, ignoring out-of-range values
func PatternOf(slots ...int) Pattern {
	var p Pattern
	for _, s := range slots {
		if s >= 0 && s < SlotsPerPhrase {
			p[s] = true
		}
	}
	return p
}

// Durations holds a sustain length in 32nd notes per slot. Zero means the
// slot has no recorded duration.
type Durations [SlotsPerPhrase]float64

// Get returns the duration of slot and whether one is present
func (d Durations) Get(slot int) (float64, bool) {
	if slot < 0 || slot >= SlotsPerPhrase || d[slot] <= 0 {
		return 0, false
	}
	return d[slot], true
}

// Fragment is the shape shared by played phrases, reinforced patterns and
// predictions: which slots fire and how long the held ones last.
type Fragment struct {
	Slots     Pattern   `json:"slots"`
	Durations Durations `json:"durations"`
}

// Phrase is one played 4-beat unit
type Phrase struct {
	Index        int     `json:"index"` // position in the stream of closed phrases
	Start        float64 `json:"start"`
	BeatDuration float64 `json:"beat_duration"`
	Fragment
}

// Duration returns the phrase length in seconds
func (ph *Phrase) Duration() float64 {
	return BeatsPerPhrase * ph.BeatDuration
}

// SlotDuration returns the length of one slot in seconds
func (ph *Phrase) SlotDuration() float64 {
	return ph.Duration() / SlotsPerPhrase
}

// Quantize maps an absolute time to the nearest slot of the phrase
func (ph *Phrase) Quantize(t float64) int {
	slotDur := ph.SlotDuration()
	if slotDur <= 0 {
		return 0
	}
	slot := int(math.Round((t - ph.Start) / slotDur))
	if slot < 0 {
		return 0
	}
	if slot >= SlotsPerPhrase {
		return SlotsPerPhrase - 1
	}
	return slot
}

// Contains reports whether t falls inside the phrase, allowing half a slot
// on either side.
func (ph *Phrase) Contains(t float64) bool {
	half := ph.SlotDuration() / 2
	return t >= ph.Start-half && t < ph.Start+ph.Duration()-half
}

// ReinforcedPattern is the verified-correct part of an earlier prediction
type ReinforcedPattern struct {
	PhraseIndex int `json:"phrase_index"` // phrase that confirmed it
	Fragment
}

// Source records which predictor produced a prediction
type Source int

const (
	SourceHistory Source = iota
	SourceReinforced
	SourceFused
)

func (s Source) String() string {
	switch s {
	case SourceHistory:
		return "history"
	case SourceReinforced:
		return "reinforced"
	case SourceFused:
		return "fused"
	default:
		return "unknown"
	}
}

// MarshalText encodes the source by name
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a name written by MarshalText
func (s *Source) UnmarshalText(text []byte) error {
	for _, src := range []Source{SourceHistory, SourceReinforced, SourceFused} {
		if src.String() == string(text) {
			*s = src
			return nil
		}
	}
	return fmt.Errorf("unknown prediction source %q", text)
}

// Prediction is a forecast of the rhythm of one phrase
type Prediction struct {
	Target int    `json:"target"` // phrase index the prediction is for
	Source Source `json:"source"`
	Fragment
}

// AccuracyRecord scores one closed phrase against its prediction
type AccuracyRecord struct {
	PhraseIndex    int    `json:"phrase_index"`
	Source         Source `json:"source"`
	Correct        int    `json:"correct"`
	Total          int    `json:"total"`
	FalsePositives int    `json:"false_positives"`
}

// Precision returns Correct / (Correct + FalsePositives)
func (a AccuracyRecord) Precision() float64 {
	if a.Correct+a.FalsePositives == 0 {
		return 0
	}
	return float64(a.Correct) / float64(a.Correct+a.FalsePositives)
}

// Recall returns Correct / Total
func (a AccuracyRecord) Recall() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Correct) / float64(a.Total)
}
