// Package wire encodes published cue schedules as length-delimited protobuf
// frames for a downstream renderer.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gogo/protobuf/proto"

	"github.com/RyanBlaney/sonido-pulse/pulse"
)

// maxFrameSize bounds a single decoded frame
const maxFrameSize = 1 << 20

// Cue is one predicted onset on the audio clock
type Cue struct {
	Slot     int32   `protobuf:"varint,1,opt,name=slot,proto3" json:"slot"`
	Time     float64 `protobuf:"fixed64,2,opt,name=time,proto3" json:"time"`
	Duration float64 `protobuf:"fixed64,3,opt,name=duration,proto3" json:"duration"`
	OnGrid   bool    `protobuf:"varint,4,opt,name=on_grid,proto3" json:"on_grid"`
}

func (m *Cue) Reset()         { *m = Cue{} }
func (m *Cue) String() string { return proto.CompactTextString(m) }
func (*Cue) ProtoMessage()    {}

// CueFrame is the tempo and cue state at one moment
type CueFrame struct {
	SessionID    string  `protobuf:"bytes,1,opt,name=session_id,proto3" json:"session_id"`
	Time         float64 `protobuf:"fixed64,2,opt,name=time,proto3" json:"time"`
	SmoothedBPM  float64 `protobuf:"fixed64,3,opt,name=smoothed_bpm,proto3" json:"smoothed_bpm"`
	HyperBPM     float64 `protobuf:"fixed64,4,opt,name=hyper_bpm,proto3" json:"hyper_bpm"`
	TempoChange  bool    `protobuf:"varint,5,opt,name=tempo_change,proto3" json:"tempo_change"`
	PhraseIndex  int32   `protobuf:"varint,6,opt,name=phrase_index,proto3" json:"phrase_index"`
	PhraseStart  float64 `protobuf:"fixed64,7,opt,name=phrase_start,proto3" json:"phrase_start"`
	BeatDuration float64 `protobuf:"fixed64,8,opt,name=beat_duration,proto3" json:"beat_duration"`
	Cues         []*Cue  `protobuf:"bytes,9,rep,name=cues,proto3" json:"cues"`
}

func (m *CueFrame) Reset()         { *m = CueFrame{} }
func (m *CueFrame) String() string { return proto.CompactTextString(m) }
func (*CueFrame) ProtoMessage()    {}

// FrameFromSnapshot builds a frame with the cues still ahead of now. Missing
// tempo or phrase data leaves the matching fields zero.
func FrameFromSnapshot(snap *pulse.Snapshot, now float64) *CueFrame {
	if snap == nil {
		return nil
	}
	frame := &CueFrame{
		SessionID:   snap.SessionID,
		Time:        now,
		TempoChange: snap.IsTempoChangeDetected(),
	}
	frame.SmoothedBPM, _ = snap.SmoothedBPM()
	frame.HyperBPM, _ = snap.HyperSmoothedBPM()
	if snap.Phrase != nil {
		frame.PhraseIndex = int32(snap.Phrase.Index)
		frame.PhraseStart = snap.Phrase.Start
		frame.BeatDuration = snap.Phrase.BeatDuration
	}
	for _, c := range snap.Cues(now) {
		frame.Cues = append(frame.Cues, &Cue{
			Slot:     int32(c.Slot),
			Time:     c.Time,
			Duration: c.Duration,
			OnGrid:   c.OnGrid,
		})
	}
	return frame
}

// Writer emits varint length-prefixed frames
type Writer struct {
	w       io.Writer
	scratch [binary.MaxVarintLen64]byte
}

// NewWriter wraps w
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes one frame
func (fw *Writer) Write(frame *CueFrame) error {
	data, err := proto.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	n := binary.PutUvarint(fw.scratch[:], uint64(len(data)))
	if _, err := fw.w.Write(fw.scratch[:n]); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := fw.w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Reader decodes frames written by Writer
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read returns the next frame, or io.EOF after the last one
func (fr *Reader) Read() (*CueFrame, error) {
	size, err := binary.ReadUvarint(fr.r)
	if err != nil {
		return nil, err
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(fr.r, data); err != nil {
		return nil, fmt.Errorf("truncated frame: %w", err)
	}

	frame := &CueFrame{}
	if err := proto.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	return frame, nil
}
