package pulse

import (
	"github.com/RyanBlaney/sonido-pulse/algorithms/temporal"
)

// EventKind tags the payload carried by an Event
type EventKind int

const (
	EventBeat EventKind = iota
	EventDiagnostic
	EventHint
)

func (k EventKind) String() string {
	switch k {
	case EventBeat:
		return "beat"
	case EventDiagnostic:
		return "diagnostic"
	case EventHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Event is the immutable value passed from the audio context to the control
// loop. Only the field matching Kind is meaningful.
type Event struct {
	Kind       EventKind
	Beat       temporal.BeatEvent
	Diagnostic temporal.DiagnosticSample
	Hint       temporal.BPMHint
}

// Time returns the audio-clock time of the event
func (e Event) Time() float64 {
	switch e.Kind {
	case EventBeat:
		return e.Beat.Time
	case EventDiagnostic:
		return e.Diagnostic.Time
	default:
		return e.Hint.ReceivedAt
	}
}

// BeatEventOf wraps a beat
func BeatEventOf(b temporal.BeatEvent) Event {
	return Event{Kind: EventBeat, Beat: b}
}

// DiagnosticEventOf wraps a diagnostic sample
func DiagnosticEventOf(d temporal.DiagnosticSample) Event {
	return Event{Kind: EventDiagnostic, Diagnostic: d}
}

// HintEventOf wraps an external tempo hint
func HintEventOf(bpm, arrivalTime float64) Event {
	return Event{Kind: EventHint, Hint: temporal.BPMHint{Value: bpm, ReceivedAt: arrivalTime}}
}

// channelSink is the OnsetSink used on the audio side. A full channel drops
// the event and counts it; it never blocks.
type channelSink struct {
	s *Session
}

func (cs channelSink) Beat(b temporal.BeatEvent) {
	cs.s.offer(BeatEventOf(b))
}

func (cs channelSink) Diagnostic(d temporal.DiagnosticSample) {
	cs.s.offer(DiagnosticEventOf(d))
}
