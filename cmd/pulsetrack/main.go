// Command pulsetrack runs the streaming beat, tempo and phrase pipeline over
// an audio file and writes a JSON report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/sonido-pulse/algorithms/reference"
	"github.com/RyanBlaney/sonido-pulse/algorithms/rhythm"
	"github.com/RyanBlaney/sonido-pulse/algorithms/temporal"
	"github.com/RyanBlaney/sonido-pulse/logging"
	"github.com/RyanBlaney/sonido-pulse/pulse"
	"github.com/RyanBlaney/sonido-pulse/pulse/config"
	"github.com/RyanBlaney/sonido-pulse/pulse/wire"
	"github.com/RyanBlaney/sonido-pulse/transcode"
)

type options struct {
	input      string
	output     string
	configPath string
	envFile    string
	framesPath string
	logLevel   string
	hintBPM    float64
	reference  bool
	synthBPM   float64
	synthSecs  float64
}

// Report is the JSON document written after a run
type Report struct {
	FileName      string                    `json:"file_name"`
	SessionID     string                    `json:"session_id"`
	SampleRate    int                       `json:"sample_rate"`
	Duration      float64                   `json:"duration"` // seconds of audio
	Elapsed       string                    `json:"elapsed"`  // wall time
	SmoothedBPM   *float64                  `json:"smoothed_bpm,omitempty"`
	HyperBPM      *float64                  `json:"hyper_smoothed_bpm,omitempty"`
	ReferenceBPM  *float64                  `json:"reference_bpm,omitempty"`
	Beats         []float64                 `json:"beats"`
	Tempo         temporal.TempoStats       `json:"tempo"`
	Phrases       []PhraseRecord            `json:"phrases"`
	Prediction    *rhythm.Prediction        `json:"prediction,omitempty"`
	Active        *rhythm.Prediction        `json:"active_prediction,omitempty"` // scored against the open phrase
	Accuracy      []rhythm.AccuracyRecord   `json:"accuracy"`
	SlotPriors    []rhythm.SlotPrior        `json:"slot_priors,omitempty"`
	Silences      []temporal.SilenceSegment `json:"silences,omitempty"`
	Stats         pulse.SessionStats        `json:"stats"`
	MeanPrecision float64                   `json:"mean_precision"`
	MeanRecall    float64                   `json:"mean_recall"`
}

// PhraseRecord is one closed phrase in readable form
type PhraseRecord struct {
	Index   int     `json:"index"`
	Start   float64 `json:"start"`
	Pattern string  `json:"pattern"`
}

func main() {
	opts := parseFlags()

	if err := run(opts); err != nil {
		logging.Error(err, "pulsetrack failed")
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.output, "o", "", "output JSON file (default <input>.pulse.json, - for stdout)")
	flag.StringVar(&opts.configPath, "config", "", "JSON config file")
	flag.StringVar(&opts.envFile, "env", ".env", "environment file loaded before PULSE_* overrides")
	flag.StringVar(&opts.framesPath, "frames", "", "write protobuf cue frames, one per phrase, to this file")
	flag.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flag.Float64Var(&opts.hintBPM, "hint", 0, "external tempo hint in BPM, delivered at the start")
	flag.BoolVar(&opts.reference, "reference", false, "cross-check the tempo with the offline DWT tracker")
	flag.Float64Var(&opts.synthBPM, "synth", 0, "write a click track at this BPM to the input path before analyzing it")
	flag.Float64Var(&opts.synthSecs, "synth-duration", 30, "length of the synthesized click track in seconds")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "use: pulsetrack [flags] <audio file>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	opts.input = flag.Arg(0)
	if opts.output == "" {
		opts.output = fromInFileName(opts.input)
	}
	return opts
}

func fromInFileName(in string) string {
	ext := filepath.Ext(in)
	return strings.TrimSuffix(in, ext) + ".pulse.json"
}

func loadConfig(opts options) (config.Config, error) {
	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, fmt.Errorf("failed to load %s: %w", opts.envFile, err)
	}

	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, fmt.Errorf("invalid environment: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, cfg.Validate()
}

func run(opts options) error {
	start := time.Now()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logging.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if opts.synthBPM > 0 {
		if err := writeClickTrack(opts.input, opts.synthBPM, opts.synthSecs, cfg.SampleRate); err != nil {
			return err
		}
	}

	decoderCfg := transcode.DefaultDecoderConfig()
	decoderCfg.TargetSampleRate = cfg.SampleRate
	audio, err := transcode.NewDecoder(decoderCfg).DecodeFile(ctx, opts.input)
	if err != nil {
		return err
	}
	cfg.SampleRate = audio.SampleRate

	session, err := pulse.NewSession(cfg)
	if err != nil {
		return err
	}
	logger := logging.WithFields(logging.Fields{
		"session_id": session.ID().String(),
		"file":       opts.input,
	})
	logger.Info("Analyzing audio", logging.Fields{
		"sample_rate": audio.SampleRate,
		"duration":    audio.Duration.Seconds(),
		"decoder":     audio.Decoder,
	})

	var frames *wire.Writer
	if opts.framesPath != "" {
		f, err := os.Create(opts.framesPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", opts.framesPath, err)
		}
		defer f.Close()
		frames = wire.NewWriter(f)
	}

	if opts.hintBPM > 0 {
		session.SetServerBPMHint(opts.hintBPM, 0)
	}

	var beats []float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(gctx)
	})
	g.Go(func() error {
		defer session.CloseInput()
		lastPhrase := -1
		for _, block := range transcode.Blocks(audio.PCM, cfg.BlockSize) {
			if err := gctx.Err(); err != nil {
				return err
			}
			at := session.AudioTime()
			if session.ProcessBlock(block) {
				beats = append(beats, at)
			}
			// offline input arrives faster than real time; keep the queue shallow
			for session.Backlog() > cfg.EventBuffer/2 {
				if err := gctx.Err(); err != nil {
					return err
				}
				time.Sleep(100 * time.Microsecond)
			}

			snap := session.Snapshot()
			if frames == nil || snap.Phrase == nil || snap.Phrase.Index == lastPhrase {
				continue
			}
			lastPhrase = snap.Phrase.Index
			if err := frames.Write(wire.FrameFromSnapshot(snap, session.AudioTime())); err != nil {
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	report := buildReport(opts, session, audio, beats)
	if opts.reference {
		res, err := reference.DWTTempo(audio.PCM, audio.SampleRate, reference.DefaultDWTConfig())
		if err != nil {
			logger.Warn("Reference tempo unavailable", logging.Fields{"error": err.Error()})
		} else {
			report.ReferenceBPM = &res.BPM
		}
	}
	report.Elapsed = time.Since(start).String()

	if err := writeOutput(opts.output, report); err != nil {
		return err
	}
	logger.Info("Analysis complete", logging.Fields{
		"beats":   len(beats),
		"phrases": len(report.Phrases),
		"output":  opts.output,
	})
	return nil
}

func buildReport(opts options, session *pulse.Session, audio *transcode.AudioData, beats []float64) *Report {
	snap := session.Snapshot()
	pp := session.Predictor()

	report := &Report{
		FileName:    opts.input,
		SessionID:   session.ID().String(),
		SampleRate:  audio.SampleRate,
		Duration:    audio.Duration.Seconds(),
		SmoothedBPM: snap.Smoothed,
		HyperBPM:    snap.Hyper,
		Beats:       beats,
		Tempo:       session.Tempo().Stats(),
		Prediction:  snap.Prediction,
		Accuracy:    snap.Accuracy,
		SlotPriors:  pp.SlotPriors(),
		Silences:    session.Silences(),
		Stats:       snap.Stats,
	}
	if pred, ok := pp.ActivePrediction(); ok {
		report.Active = &pred
	}
	for _, ph := range pp.History() {
		report.Phrases = append(report.Phrases, PhraseRecord{
			Index:   ph.Index,
			Start:   ph.Start,
			Pattern: ph.Slots.String(),
		})
	}
	if n := len(snap.Accuracy); n > 0 {
		for _, rec := range snap.Accuracy {
			report.MeanPrecision += rec.Precision()
			report.MeanRecall += rec.Recall()
		}
		report.MeanPrecision /= float64(n)
		report.MeanRecall /= float64(n)
	}
	return report
}

func writeClickTrack(path string, bpm, duration float64, sampleRate int) error {
	trackCfg := transcode.DefaultClickTrackConfig()
	trackCfg.SampleRate = sampleRate
	trackCfg.Duration = duration
	pcm := transcode.ClickTrack(trackCfg, transcode.BeatClicks(bpm, 0.5, duration))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := transcode.WriteWAV(f, pcm, sampleRate); err != nil {
		return fmt.Errorf("failed to write click track: %w", err)
	}
	return f.Close()
}

// writeOutput writes the report as indented JSON; "-" means stdout
func writeOutput(path string, report *Report) error {
	buf, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	buf = append(buf, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(buf)
		return err
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
