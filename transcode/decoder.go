package transcode

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mjibson/go-dsp/wav"

	"github.com/RyanBlaney/sonido-pulse/logging"
)

// AudioData is decoded mono PCM
type AudioData struct {
	PCM        []float32     `json:"-"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"` // channels in the source before downmix
	Duration   time.Duration `json:"duration"`
	Source     string        `json:"source,omitempty"`
	Decoder    string        `json:"decoder"` // "wav" or "ffmpeg"
}

// DecoderConfig holds decoder configuration
type DecoderConfig struct {
	TargetSampleRate int           `json:"target_sample_rate"` // used when ffmpeg decodes
	MaxDuration      time.Duration `json:"max_duration"`
	FFmpegPath       string        `json:"ffmpeg_path"`
	Timeout          time.Duration `json:"timeout"`    // timeout for ffmpeg operations
	NativeWAV        bool          `json:"native_wav"` // decode .wav files in process
}

// DefaultDecoderConfig returns default decoder configuration
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		TargetSampleRate: 44100,
		MaxDuration:      0, // No limit
		FFmpegPath:       "ffmpeg",
		Timeout:          60 * time.Second,
		NativeWAV:        true,
	}
}

// Decoder turns audio files into mono float PCM. WAV files are read in
// process; anything else goes through ffmpeg.
type Decoder struct {
	config *DecoderConfig
	logger logging.Logger
}

// NewDecoder creates a new audio decoder
func NewDecoder(config *DecoderConfig) *Decoder {
	if config == nil {
		config = DefaultDecoderConfig()
	}
	return &Decoder{
		config: config,
		logger: logging.WithFields(logging.Fields{"component": "audio_decoder"}),
	}
}

// DecodeFile decodes an audio file to mono PCM
func (d *Decoder) DecodeFile(ctx context.Context, filename string) (*AudioData, error) {
	logger := d.logger.WithFields(logging.Fields{
		"function": "DecodeFile",
		"filename": filename,
	})

	if d.config.NativeWAV && strings.EqualFold(filepath.Ext(filename), ".wav") {
		f, err := os.Open(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", filename, err)
		}
		defer f.Close()

		audio, err := d.DecodeWAV(f)
		if err != nil {
			logger.Error(err, "Failed to decode wav file")
			return nil, err
		}
		audio.Source = filename
		return audio, nil
	}

	return d.decodeWithFFmpeg(ctx, filename, logger)
}

// DecodeWAV reads a PCM or float WAV stream and downmixes it to mono
func (d *Decoder) DecodeWAV(r io.Reader) (*AudioData, error) {
	w, err := wav.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read wav header: %w", err)
	}

	channels := int(w.NumChannels)
	sampleRate := int(w.SampleRate)
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid wav format: %d channels at %d Hz", channels, sampleRate)
	}

	limit := math.MaxInt
	if d.config.MaxDuration > 0 {
		limit = int(d.config.MaxDuration.Seconds()*float64(sampleRate)) * channels
	}
	declared := min(w.Samples, limit)

	// the header count can fall short of the data chunk; past it the stream
	// is read one frame at a time until it ends
	const chunk = 1 << 14
	pcm := make([]float32, 0, declared/channels)
	for read := 0; read < limit; {
		n := channels
		if left := declared - read; left >= channels {
			n = min(chunk-chunk%channels, left-left%channels)
		}
		frames, err := w.ReadFloats(n)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read wav samples: %w", err)
		}
		pcm = appendMono(pcm, frames, channels)
		read += n
	}

	if len(pcm) == 0 {
		return nil, fmt.Errorf("no audio samples decoded")
	}

	d.logger.Debug("WAV decode completed", logging.Fields{
		"sample_rate": sampleRate,
		"channels":    channels,
		"samples":     len(pcm),
	})

	return &AudioData{
		PCM:        pcm,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   durationOf(len(pcm), sampleRate),
		Decoder:    "wav",
	}, nil
}

func appendMono(dst, interleaved []float32, channels int) []float32 {
	if channels == 1 {
		return append(dst, interleaved...)
	}
	for i := 0; i+channels <= len(interleaved); i += channels {
		var sum float32
		for c := range channels {
			sum += interleaved[i+c]
		}
		dst = append(dst, sum/float32(channels))
	}
	return dst
}

func (d *Decoder) decodeWithFFmpeg(ctx context.Context, filename string, logger logging.Logger) (*AudioData, error) {
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	args := d.buildFFmpegArgs(filename)
	cmd := exec.CommandContext(ctx, d.config.FFmpegPath, args...)

	logger.Debug("Running ffmpeg command", logging.Fields{
		"args": strings.Join(args, " "),
	})

	output, err := cmd.Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			logger.Error(err, "Ffmpeg decode failed", logging.Fields{
				"stderr": string(exitError.Stderr),
			})
		}
		return nil, fmt.Errorf("ffmpeg decode failed: %w", err)
	}

	pcm := bytesToFloat32(output)
	if len(pcm) == 0 {
		return nil, fmt.Errorf("no audio samples decoded")
	}

	logger.Debug("FFmpeg decode completed successfully", logging.Fields{
		"output_samples":     len(pcm),
		"output_sample_rate": d.config.TargetSampleRate,
	})

	return &AudioData{
		PCM:        pcm,
		SampleRate: d.config.TargetSampleRate,
		Channels:   1,
		Duration:   durationOf(len(pcm), d.config.TargetSampleRate),
		Source:     filename,
		Decoder:    "ffmpeg",
	}, nil
}

// buildFFmpegArgs builds arguments producing mono f32le on stdout
func (d *Decoder) buildFFmpegArgs(filename string) []string {
	args := []string{
		"-i", filename,
		"-f", "f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(d.config.TargetSampleRate),
	}
	if d.config.MaxDuration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.2f", d.config.MaxDuration.Seconds()))
	}
	return append(args, "-v", "error", "pipe:1")
}

// bytesToFloat32 converts raw little-endian float32 bytes
func bytesToFloat32(data []byte) []float32 {
	data = data[:len(data)-len(data)%4]
	if len(data) == 0 {
		return nil
	}

	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}

func durationOf(samples, sampleRate int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// ValidateConfig validates the decoder configuration
func (d *Decoder) ValidateConfig() error {
	if d.config.TargetSampleRate <= 0 {
		return fmt.Errorf("target sample rate must be positive: %d", d.config.TargetSampleRate)
	}
	if d.config.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %v", d.config.Timeout)
	}
	if d.config.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg path must be set")
	}
	return nil
}

// CheckFFmpeg reports whether the configured ffmpeg binary runs
func (d *Decoder) CheckFFmpeg(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, d.config.FFmpegPath, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg not found at %s: %w", d.config.FFmpegPath, err)
	}
	return nil
}
