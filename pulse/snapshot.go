package pulse

import (
	"math"

	"github.com/RyanBlaney/sonido-pulse/algorithms/rhythm"
)

// Snapshot is the state published after each control-side event. Nullable
// values are nil until the pipeline has enough data.
type Snapshot struct {
	SessionID   string                  `json:"session_id"`
	Time        float64                 `json:"time"` // audio clock of the latest event
	Smoothed    *float64                `json:"smoothed_bpm,omitempty"`
	Hyper       *float64                `json:"hyper_smoothed_bpm,omitempty"`
	TempoChange bool                    `json:"tempo_change"`
	Phrase      *rhythm.Phrase          `json:"phrase,omitempty"`
	Prediction  *rhythm.Prediction      `json:"prediction,omitempty"`
	Accuracy    []rhythm.AccuracyRecord `json:"accuracy"`
	Sustaining  bool                    `json:"sustaining"`
	Silent      bool                    `json:"silent"`
	Stats       SessionStats            `json:"stats"`
}

// Cue is one predicted onset placed on the audio clock
type Cue struct {
	Slot     int     `json:"slot"`
	Time     float64 `json:"time"`
	Duration float64 `json:"duration"` // seconds, 0 for a one-shot
	OnGrid   bool    `json:"on_grid"`
}

// SmoothedBPM returns the first-stage tempo
func (s *Snapshot) SmoothedBPM() (float64, bool) {
	if s == nil || s.Smoothed == nil {
		return 0, false
	}
	return *s.Smoothed, true
}

// HyperSmoothedBPM returns the octave-corrected tempo
func (s *Snapshot) HyperSmoothedBPM() (float64, bool) {
	if s == nil || s.Hyper == nil {
		return 0, false
	}
	return *s.Hyper, true
}

// IsTempoChangeDetected reports a recent tempo change
func (s *Snapshot) IsTempoChangeDetected() bool {
	return s != nil && s.TempoChange
}

// CurrentPhrasePattern returns the slots played so far in the open phrase
func (s *Snapshot) CurrentPhrasePattern() (rhythm.Pattern, bool) {
	if s == nil || s.Phrase == nil {
		return rhythm.Pattern{}, false
	}
	return s.Phrase.Slots, true
}

// HyperPredictedPattern returns the predicted slots
func (s *Snapshot) HyperPredictedPattern() (rhythm.Pattern, bool) {
	if s == nil || s.Prediction == nil {
		return rhythm.Pattern{}, false
	}
	return s.Prediction.Slots, true
}

// HyperPredictedDurations returns the predicted sustain lengths in 32nds
func (s *Snapshot) HyperPredictedDurations() (rhythm.Durations, bool) {
	if s == nil || s.Prediction == nil {
		return rhythm.Durations{}, false
	}
	return s.Prediction.Durations, true
}

// PredictionAccuracy returns the accuracy log
func (s *Snapshot) PredictionAccuracy() []rhythm.AccuracyRecord {
	if s == nil {
		return nil
	}
	return s.Accuracy
}

// Cues places the predicted onsets that are still ahead of now on the audio
// clock. The prediction is laid over the phrase-length period that contains
// now, counted from the start of the open phrase. Silent input has no cues.
func (s *Snapshot) Cues(now float64) []Cue {
	if s == nil || s.Silent || s.Phrase == nil || s.Prediction == nil {
		return nil
	}
	phraseDur := s.Phrase.Duration()
	if phraseDur <= 0 {
		return nil
	}

	start := s.Phrase.Start
	if now > start {
		start += math.Floor((now-start)/phraseDur) * phraseDur
	}
	slotDur := phraseDur / rhythm.SlotsPerPhrase

	var cues []Cue
	for _, slot := range s.Prediction.Slots.Slots() {
		at := start + float64(slot)*slotDur
		if at < now {
			continue
		}
		cue := Cue{Slot: slot, Time: at, OnGrid: rhythm.OnGrid(slot)}
		if d, ok := s.Prediction.Durations.Get(slot); ok {
			cue.Duration = d * slotDur
		}
		cues = append(cues, cue)
	}
	return cues
}
