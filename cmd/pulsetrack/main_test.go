package main

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/RyanBlaney/sonido-pulse/algorithms/rhythm"
	"github.com/RyanBlaney/sonido-pulse/pulse/wire"
	"github.com/RyanBlaney/sonido-pulse/transcode"
)

func TestFromInFileName(t *testing.T) {
	if got := fromInFileName("dir/song.mp3"); got != "dir/song.pulse.json" {
		t.Errorf("got %q", got)
	}
}

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "pulse.json")
	if err := os.WriteFile(cfgPath, []byte(`{"block_size": 256}`), 0o644); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("PULSE_EVENT_BUFFER=512\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("PULSE_EVENT_BUFFER") })

	cfg, err := loadConfig(options{configPath: cfgPath, envFile: envPath, logLevel: "warn"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.BlockSize != 256 || cfg.EventBuffer != 512 || cfg.LogLevel != "warn" {
		t.Errorf("cfg = %+v", cfg)
	}

	if _, err := loadConfig(options{envFile: filepath.Join(dir, "missing.env"), logLevel: "nope"}); err == nil {
		t.Error("expected error for bad log level")
	}
}

func TestRunWritesReport(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "clicks.wav")

	trackCfg := transcode.DefaultClickTrackConfig()
	trackCfg.Duration = 16
	clicks := transcode.BeatClicks(120, 0.5, trackCfg.Duration)
	pcm := transcode.ClickTrack(trackCfg, clicks)

	f, err := os.Create(in)
	if err != nil {
		t.Fatal(err)
	}
	if err := transcode.WriteWAV(f, pcm, trackCfg.SampleRate); err != nil {
		t.Fatal(err)
	}
	f.Close()

	opts := options{
		input:      in,
		output:     filepath.Join(dir, "report.json"),
		envFile:    filepath.Join(dir, "missing.env"),
		framesPath: filepath.Join(dir, "frames.pb"),
		logLevel:   "error",
	}
	if err := run(opts); err != nil {
		t.Fatalf("run: %v", err)
	}

	data, err := os.ReadFile(opts.output)
	if err != nil {
		t.Fatal(err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if len(report.Beats) != len(clicks) {
		t.Errorf("beats = %d, want %d", len(report.Beats), len(clicks))
	}
	if report.HyperBPM == nil || math.Abs(*report.HyperBPM-120) > 2.4 {
		t.Errorf("hyper bpm = %v", report.HyperBPM)
	}
	if len(report.Phrases) == 0 || report.MeanRecall != 1 {
		t.Errorf("phrases = %d, recall = %v", len(report.Phrases), report.MeanRecall)
	}
	if report.Active == nil || report.Active.Slots != rhythm.PatternOf(0, 8, 16, 24) {
		t.Errorf("active prediction = %+v", report.Active)
	}

	ff, err := os.Open(opts.framesPath)
	if err != nil {
		t.Fatal(err)
	}
	defer ff.Close()
	r := wire.NewReader(ff)
	n := 0
	for {
		frame, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("frame %d: %v", n, err)
		}
		if frame.SessionID != report.SessionID {
			t.Errorf("frame session = %q", frame.SessionID)
		}
		n++
	}
	if n < len(report.Phrases) {
		t.Errorf("frames = %d, phrases = %d", n, len(report.Phrases))
	}
}

func TestRunSynthesizedTrack(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		input:     filepath.Join(dir, "synth.wav"),
		output:    filepath.Join(dir, "synth.pulse.json"),
		envFile:   filepath.Join(dir, "missing.env"),
		logLevel:  "error",
		synthBPM:  100,
		synthSecs: 12,
	}
	if err := run(opts); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(opts.input); err != nil {
		t.Fatalf("click track not written: %v", err)
	}

	data, err := os.ReadFile(opts.output)
	if err != nil {
		t.Fatal(err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatal(err)
	}
	if report.SmoothedBPM == nil || math.Abs(*report.SmoothedBPM-100) > 3 {
		t.Errorf("smoothed bpm = %v", report.SmoothedBPM)
	}
	if report.Stats.Dropped != 0 {
		t.Errorf("dropped = %d", report.Stats.Dropped)
	}
}
