package pulse

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/RyanBlaney/sonido-pulse/algorithms/rhythm"
	"github.com/RyanBlaney/sonido-pulse/algorithms/temporal"
	"github.com/RyanBlaney/sonido-pulse/logging"
	"github.com/RyanBlaney/sonido-pulse/pulse/config"
)

// SessionStats counts events seen by a session
type SessionStats struct {
	Beats       uint64 `json:"beats"`
	Diagnostics uint64 `json:"diagnostics"`
	Hints       uint64 `json:"hints"`
	Sustains    uint64 `json:"sustains"`
	Dropped     uint64 `json:"dropped"`
	Failures    uint64 `json:"failures"`
}

// Session owns one onset -> tempo -> sustain -> phrase pipeline.
//
// The audio side calls ProcessBlock from a single goroutine. Detected events
// cross to the control side over a buffered channel that Run drains; the
// control side publishes an immutable Snapshot after every event. Dispatch
// runs the same reducer synchronously for offline use and must not be mixed
// with a running Run loop.
type Session struct {
	id     uuid.UUID
	config config.Config
	logger logging.Logger

	onset     *temporal.OnsetDetector
	tempo     *temporal.TempoEstimator
	sustain   *temporal.SustainDetector
	silence   *temporal.SilenceDetector
	predictor *rhythm.PhrasePredictor

	handlers map[EventKind]func(Event)

	sink   channelSink
	events chan Event
	hints  chan Event
	closed atomic.Bool

	dropped  atomic.Uint64
	stats    SessionStats
	lastTime float64
	snapshot atomic.Pointer[Snapshot]
}

// NewSession validates cfg and builds a session with fresh components
func NewSession(cfg config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Onset.SampleRate = cfg.SampleRate

	id := uuid.New()
	s := &Session{
		id:        id,
		config:    cfg,
		logger:    logging.WithFields(logging.Fields{"component": "session", "session_id": id.String()}),
		onset:     temporal.NewOnsetDetector(cfg.Onset),
		tempo:     temporal.NewTempoEstimator(cfg.Tempo),
		sustain:   temporal.NewSustainDetector(cfg.Sustain),
		silence:   temporal.NewSilenceDetector(cfg.Silence),
		predictor: rhythm.NewPhrasePredictor(cfg.Predictor),
		events:    make(chan Event, cfg.EventBuffer),
		hints:     make(chan Event, 4),
	}
	s.sink = channelSink{s: s}
	s.handlers = map[EventKind]func(Event){
		EventBeat:       s.handleBeat,
		EventDiagnostic: s.handleDiagnostic,
		EventHint:       s.handleHint,
	}
	s.publish()
	return s, nil
}

// ID returns the session identifier
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Config returns the effective configuration
func (s *Session) Config() config.Config {
	return s.config
}

// ProcessBlock runs onset detection on one audio block and queues whatever
// it produces. It never blocks and reports whether a beat fired.
func (s *Session) ProcessBlock(block []float32) bool {
	return s.onset.Process(block, s.sink)
}

// AudioTime returns the audio clock of the onset detector
func (s *Session) AudioTime() float64 {
	return s.onset.Now()
}

// Backlog returns the number of queued events not yet handled by Run
func (s *Session) Backlog() int {
	return len(s.events)
}

// CloseInput tells Run that no more blocks will arrive. It must be called
// from the goroutine that calls ProcessBlock, after its last block.
func (s *Session) CloseInput() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.events)
	}
}

func (s *Session) offer(ev Event) {
	if s.closed.Load() {
		s.dropped.Add(1)
		return
	}
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

// SetServerBPMHint forwards a tempo suggested by an external predictor. It
// is safe to call from any goroutine and reports whether the hint was queued.
func (s *Session) SetServerBPMHint(bpm, arrivalTime float64) bool {
	select {
	case s.hints <- HintEventOf(bpm, arrivalTime):
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Run drains queued events until the input is closed or ctx is cancelled.
// A closed input returns nil once every queued event has been handled.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("Session started", logging.Fields{
		"sample_rate": s.config.SampleRate,
		"block_size":  s.config.BlockSize,
	})

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session cancelled", logging.Fields{"beats": s.stats.Beats})
			return ctx.Err()
		case ev := <-s.hints:
			s.Dispatch(ev)
		case ev, ok := <-s.events:
			if !ok {
				s.drainHints()
				s.logger.Info("Session input closed", logging.Fields{
					"beats":    s.stats.Beats,
					"sustains": s.stats.Sustains,
					"dropped":  s.dropped.Load(),
				})
				return nil
			}
			s.Dispatch(ev)
		}
	}
}

func (s *Session) drainHints() {
	for {
		select {
		case ev := <-s.hints:
			s.Dispatch(ev)
		default:
			return
		}
	}
}

// Dispatch applies one event to the control-side components and publishes a
// new snapshot. A failure inside a component is logged and the event is
// skipped; later events are unaffected.
func (s *Session) Dispatch(ev Event) {
	if t := ev.Time(); t > s.lastTime {
		s.lastTime = t
	}

	if err := s.apply(ev); err != nil {
		s.stats.Failures++
		s.logger.Error(err, "Event processing failed", logging.Fields{
			"kind": ev.Kind.String(),
			"time": ev.Time(),
		})
	}
	s.publish()
}

func (s *Session) apply(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	handle, ok := s.handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
	handle(ev)
	return nil
}

func (s *Session) handleHint(ev Event) {
	s.stats.Hints++
	s.tempo.SetServerBPMHint(ev.Hint.Value, ev.Hint.ReceivedAt)
}

func (s *Session) handleBeat(ev Event) {
	b := ev.Beat
	s.stats.Beats++

	bpm, ok := s.tempo.ProcessBeat(b.Time)
	s.sustain.ProcessPulse(b.Time, b.Energy)
	if ok {
		s.predictor.ProcessBeat(b.Time, bpm)
	}
}

func (s *Session) handleDiagnostic(ev Event) {
	d := ev.Diagnostic
	s.stats.Diagnostics++

	if silent, changed := s.silence.Process(d.Time, d.Envelope); changed {
		if silent {
			s.logger.Info("Silence detected", logging.Fields{"time": d.Time})
		} else {
			s.logger.Info("Audio resumed", logging.Fields{"time": d.Time})
		}
	}

	bpm, _ := s.tempo.HyperSmoothedBPM()
	for _, se := range s.sustain.ProcessDiagnostic(d.Time, d.Envelope, bpm) {
		if se.Kind != temporal.SustainProgress {
			s.logger.Debug("Sustain "+se.Kind.String(), logging.Fields{
				"pulse_time":    se.PulseTime,
				"duration_32nd": se.Duration32nd,
			})
		}
		s.predictor.ProcessSustain(se)
	}
	s.stats.Sustains = uint64(s.sustain.Confirmed())
}

// Snapshot returns the latest published state. It is safe to call from any
// goroutine; the returned value must not be modified.
func (s *Session) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Stats returns the event counters. Other goroutines should read
// Snapshot().Stats instead.
func (s *Session) Stats() SessionStats {
	st := s.stats
	st.Dropped = s.dropped.Load()
	return st
}

// Tempo exposes the tempo estimator for diagnostics
func (s *Session) Tempo() *temporal.TempoEstimator {
	return s.tempo
}

// Silences returns the finished silent stretches. It is control-side state,
// like Stats.
func (s *Session) Silences() []temporal.SilenceSegment {
	return s.silence.Segments()
}

// Predictor exposes the phrase predictor for diagnostics
func (s *Session) Predictor() *rhythm.PhrasePredictor {
	return s.predictor
}

// Reset clears every component and counter, discards queued events and
// reopens the input, so the session behaves like a new one with the same ID.
// It must not run concurrently with ProcessBlock or Run.
func (s *Session) Reset() {
	s.events = make(chan Event, s.config.EventBuffer)
	s.hints = make(chan Event, cap(s.hints))
	s.closed.Store(false)

	s.onset.Reset()
	s.tempo.Reset()
	s.sustain.Reset()
	s.silence.Reset()
	s.predictor.Reset()
	s.stats = SessionStats{}
	s.dropped.Store(0)
	s.lastTime = 0
	s.publish()
}

func (s *Session) publish() {
	snap := &Snapshot{
		SessionID:   s.id.String(),
		Time:        s.lastTime,
		TempoChange: s.tempo.IsTempoChangeDetected(),
		Silent:      s.silence.Silent(),
		Accuracy:    s.predictor.PredictionAccuracy(),
		Stats:       s.Stats(),
	}
	if v, ok := s.tempo.SmoothedBPM(); ok {
		snap.Smoothed = &v
	}
	if v, ok := s.tempo.HyperSmoothedBPM(); ok {
		snap.Hyper = &v
	}
	if ph, ok := s.predictor.CurrentPhrase(); ok {
		snap.Phrase = &ph
	}
	if pred, ok := s.predictor.HyperPrediction(); ok {
		snap.Prediction = &pred
	}
	if c, ok := s.sustain.Active(); ok && c.Tracking {
		snap.Sustaining = true
	}
	s.snapshot.Store(snap)
}
