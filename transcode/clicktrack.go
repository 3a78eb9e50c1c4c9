package transcode

import (
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Click is one synthesized hit. Hold extends the click with a swelling tone
// for the given number of seconds, which reads as a sustained note.
type Click struct {
	Time float64 `json:"time"`
	Hold float64 `json:"hold,omitempty"`
}

// ClickTrackConfig shapes a synthetic test signal
type ClickTrackConfig struct {
	SampleRate int     `json:"sample_rate"`
	Duration   float64 `json:"duration"`    // seconds
	Frequency  float64 `json:"frequency"`   // click tone in Hz
	Decay      float64 `json:"decay"`       // click envelope time constant in seconds
	Amplitude  float64 `json:"amplitude"`   // click peak
	NoiseFloor float64 `json:"noise_floor"` // uniform noise amplitude
	Seed       int64   `json:"seed"`
}

// DefaultClickTrackConfig returns a 44.1 kHz track with a quiet noise floor
func DefaultClickTrackConfig() ClickTrackConfig {
	return ClickTrackConfig{
		SampleRate: 44100,
		Duration:   10,
		Frequency:  880,
		Decay:      0.01,
		Amplitude:  0.8,
		NoiseFloor: 0.01,
		Seed:       1,
	}
}

// BeatClicks returns one click per beat at bpm, starting at offset, for as
// long as fits in duration seconds.
func BeatClicks(bpm, offset, duration float64) []Click {
	if bpm <= 0 {
		return nil
	}
	interval := 60 / bpm
	var clicks []Click
	for t := offset; t < duration; t += interval {
		clicks = append(clicks, Click{Time: t})
	}
	return clicks
}

// PhraseClicks lays the given 32-slot patterns end to end at bpm, repeating
// the sequence until duration seconds are filled.
func PhraseClicks(bpm, duration float64, patterns ...[]int) []Click {
	if bpm <= 0 || len(patterns) == 0 {
		return nil
	}
	phraseDur := 4 * 60 / bpm
	slotDur := phraseDur / 32

	var clicks []Click
	for i := 0; ; i++ {
		start := float64(i) * phraseDur
		if start >= duration {
			return clicks
		}
		for _, slot := range patterns[i%len(patterns)] {
			if t := start + float64(slot)*slotDur; t < duration {
				clicks = append(clicks, Click{Time: t})
			}
		}
	}
}

// ClickTrack renders clicks over a noise floor
func ClickTrack(config ClickTrackConfig, clicks []Click) []float32 {
	def := DefaultClickTrackConfig()
	if config.SampleRate <= 0 {
		config.SampleRate = def.SampleRate
	}
	if config.Decay <= 0 {
		config.Decay = def.Decay
	}
	if config.Frequency <= 0 {
		config.Frequency = def.Frequency
	}

	sr := float64(config.SampleRate)
	pcm := make([]float32, int(config.Duration*sr))

	rng := rand.New(rand.NewSource(config.Seed))
	for i := range pcm {
		pcm[i] = float32(config.NoiseFloor * (2*rng.Float64() - 1))
	}

	for _, c := range clicks {
		start := int(math.Round(c.Time * sr))
		if start < 0 || start >= len(pcm) {
			continue
		}
		length := int(6 * config.Decay * sr)
		for i := 0; i < length && start+i < len(pcm); i++ {
			t := float64(i) / sr
			env := config.Amplitude * math.Exp(-t/config.Decay)
			pcm[start+i] += float32(env * math.Sin(2*math.Pi*config.Frequency*t))
		}
		if c.Hold > 0 {
			renderHold(pcm[start:], sr, c.Hold, config)
		}
	}
	return pcm
}

// renderHold adds a tone that swells for the hold time and then cuts off
func renderHold(pcm []float32, sr, hold float64, config ClickTrackConfig) {
	n := min(int(hold*sr), len(pcm))
	peak := 0.5 * config.Amplitude
	for i := range n {
		t := float64(i) / sr
		env := peak * t / hold
		pcm[i] += float32(env * math.Sin(2*math.Pi*config.Frequency/2*t))
	}
}

// WriteWAV encodes mono PCM as a 16-bit WAV file
func WriteWAV(w io.WriteSeeker, pcm []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive: %d", sampleRate)
	}

	ints := make([]int, len(pcm))
	for i, s := range pcm {
		v := math.Max(-1, math.Min(1, float64(s)))
		ints[i] = int(math.Round(v * math.MaxInt16))
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav: %w", err)
	}
	return nil
}
