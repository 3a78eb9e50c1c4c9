package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/RyanBlaney/sonido-pulse/algorithms/rhythm"
	"github.com/RyanBlaney/sonido-pulse/algorithms/temporal"
	"github.com/RyanBlaney/sonido-pulse/logging"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix prefixes every environment override
const EnvPrefix = "PULSE_"

// Config aggregates the settings of one analysis session. SampleRate
// governs the whole session; Onset.SampleRate is overwritten with it.
type Config struct {
	SampleRate  int    `json:"sample_rate"`
	BlockSize   int    `json:"block_size"`   // samples per audio block
	EventBuffer int    `json:"event_buffer"` // capacity of the audio to control channel
	LogLevel    string `json:"log_level"`

	Onset     temporal.OnsetConfig   `json:"onset"`
	Tempo     temporal.TempoConfig   `json:"tempo"`
	Sustain   temporal.SustainConfig `json:"sustain"`
	Silence   temporal.SilenceConfig `json:"silence"`
	Predictor rhythm.PredictorConfig `json:"predictor"`
}

// Default returns a config with every component at its defaults
func Default() Config {
	return Config{
		SampleRate:  44100,
		BlockSize:   128,
		EventBuffer: 256,
		LogLevel:    "info",
		Onset:       temporal.DefaultOnsetConfig(),
		Tempo:       temporal.DefaultTempoConfig(),
		Sustain:     temporal.DefaultSustainConfig(),
		Silence:     temporal.DefaultSilenceConfig(),
		Predictor:   rhythm.DefaultPredictorConfig(),
	}
}

// LoadFile reads a JSON config from path on top of the defaults
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides session options from PULSE_* environment variables.
// Unset variables leave the field alone; malformed ones are reported.
func (c *Config) ApplyEnv() error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"SAMPLE_RATE", &c.SampleRate},
		{"BLOCK_SIZE", &c.BlockSize},
		{"EVENT_BUFFER", &c.EventBuffer},
	}
	for _, v := range ints {
		raw, ok := os.LookupEnv(EnvPrefix + v.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, v.name, err)
		}
		*v.dst = n
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"ONSET_MULTIPLIER", &c.Onset.Multiplier},
		{"ONSET_MIN_INTERVAL", &c.Onset.MinInterval},
		{"MAX_BPM", &c.Tempo.MaxBPM},
		{"SUSTAIN_MIN_VELOCITY", &c.Sustain.MinVelocity},
		{"SILENCE_THRESHOLD", &c.Silence.Threshold},
	}
	for _, v := range floats {
		raw, ok := os.LookupEnv(EnvPrefix + v.name)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, v.name, err)
		}
		*v.dst = f
	}

	if raw, ok := os.LookupEnv(EnvPrefix + "LOG_LEVEL"); ok {
		c.LogLevel = strings.TrimSpace(raw)
	}
	return nil
}

// Validate checks the session options and the component settings that
// cannot be silently replaced by defaults
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive: %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.BlockSize <= 0 || c.BlockSize > c.SampleRate {
		return fmt.Errorf("%w: block size must be between 1 and the sample rate: %d", ErrInvalidConfig, c.BlockSize)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("%w: event buffer must be positive: %d", ErrInvalidConfig, c.EventBuffer)
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: unknown log level: %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.Onset.Multiplier < 0 || (c.Onset.Multiplier > 0 && c.Onset.Multiplier <= 1) {
		return fmt.Errorf("%w: onset multiplier must be above 1: %f", ErrInvalidConfig, c.Onset.Multiplier)
	}
	if c.Tempo.MaxBPM < 0 {
		return fmt.Errorf("%w: max bpm must be positive: %f", ErrInvalidConfig, c.Tempo.MaxBPM)
	}
	if c.Tempo.HintWeight < 0 || c.Tempo.HintWeight > 1 {
		return fmt.Errorf("%w: hint weight must be between 0 and 1: %f", ErrInvalidConfig, c.Tempo.HintWeight)
	}
	for name, v := range map[string]float64{
		"cycle similarity":   c.Predictor.CycleSimilarity,
		"on-grid threshold":  c.Predictor.OnGridThreshold,
		"off-grid threshold": c.Predictor.OffGridThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be between 0 and 1: %f", ErrInvalidConfig, name, v)
		}
	}
	if c.Predictor.MinCycle > 0 && c.Predictor.MaxCycle > 0 && c.Predictor.MaxCycle < c.Predictor.MinCycle {
		return fmt.Errorf("%w: max cycle %d is below min cycle %d",
			ErrInvalidConfig, c.Predictor.MaxCycle, c.Predictor.MinCycle)
	}
	return nil
}

// Level returns the parsed log level, falling back to info
func (c *Config) Level() logging.Level {
	if l, ok := logging.ParseLevel(c.LogLevel); ok {
		return l
	}
	return logging.InfoLevel
}
