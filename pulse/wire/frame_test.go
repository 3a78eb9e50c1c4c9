package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/RyanBlaney/sonido-pulse/algorithms/rhythm"
	"github.com/RyanBlaney/sonido-pulse/pulse"
)

func testSnapshot() *pulse.Snapshot {
	bpm := 120.0
	pred := rhythm.Prediction{Fragment: rhythm.Fragment{Slots: rhythm.PatternOf(0, 8, 18)}}
	pred.Durations[8] = 4
	return &pulse.Snapshot{
		SessionID:  "abc",
		Smoothed:   &bpm,
		Hyper:      &bpm,
		Phrase:     &rhythm.Phrase{Index: 3, Start: 10, BeatDuration: 0.5},
		Prediction: &pred,
	}
}

func TestFrameFromSnapshot(t *testing.T) {
	frame := FrameFromSnapshot(testSnapshot(), 10.2)
	if frame.SessionID != "abc" || frame.HyperBPM != 120 || frame.PhraseIndex != 3 {
		t.Errorf("frame = %v", frame)
	}
	if len(frame.Cues) != 2 || frame.Cues[0].Slot != 8 || frame.Cues[0].Duration != 0.25 {
		t.Errorf("cues = %v", frame.Cues)
	}
	if FrameFromSnapshot(nil, 0) != nil {
		t.Error("expected nil frame for nil snapshot")
	}
}

func TestFrameStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	first := FrameFromSnapshot(testSnapshot(), 10.2)
	second := FrameFromSnapshot(testSnapshot(), 11.5)
	for _, f := range []*CueFrame{first, second} {
		if err := w.Write(f); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	r := NewReader(&buf)
	got, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Time != 10.2 || len(got.Cues) != 2 || got.Cues[1].Slot != 18 || got.Cues[1].OnGrid {
		t.Errorf("first frame = %v", got)
	}
	got, err = r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Time != 11.5 || len(got.Cues) != 0 {
		t.Errorf("second frame = %v", got)
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("Read after last frame = %v, want EOF", err)
	}
}

func TestReaderTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf).Write(FrameFromSnapshot(testSnapshot(), 10)); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()[:buf.Len()-1]
	if _, err := NewReader(bytes.NewReader(data)).Read(); err == nil {
		t.Error("expected error for truncated frame")
	}
}
