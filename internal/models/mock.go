package models

import (
	"context"
	"errors"
	"math"
	"unicode/utf8"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/synth"
)

const framesPerChar = 4

// MockAcoustic produces a deterministic tone per segment, framesPerChar
// frames of audio per character of input. Its pitch follows the speaker id so that
// different speakers are audibly distinct.
type MockAcoustic struct {
	sampleRate int
	hop        int
	channels   int
}

func NewMockAcoustic(sampleRate, hop, channels int) *MockAcoustic {
	return &MockAcoustic{sampleRate: sampleRate, hop: hop, channels: channels}
}

func (m *MockAcoustic) Infer(ctx context.Context, req synth.AcousticRequest) (synth.AcousticOutput, error) {
	if err := ctx.Err(); err != nil {
		return synth.AcousticOutput{}, err
	}
	frames := max(1, utf8.RuneCountInString(req.Text)*framesPerChar)
	return m.output(frames, pitch(req.Speaker), req.UseGriffinLim), nil
}

func (m *MockAcoustic) Convert(ctx context.Context, in synth.ConversionInput) (synth.AcousticOutput, error) {
	if err := ctx.Err(); err != nil {
		return synth.AcousticOutput{}, err
	}
	frames := 50
	if in.Features != nil {
		frames = in.Features.Frames
	}
	return m.output(frames, pitch(in.Target), in.UseGriffinLim), nil
}

func (m *MockAcoustic) output(frames int, freq float64, griffinLim bool) synth.AcousticOutput {
	if griffinLim {
		return synth.AcousticOutput{Waveform: sineWave(frames*m.hop, freq, m.sampleRate, 0.5)}
	}
	f := audio.NewFeatures(m.channels, frames)
	for c := 0; c < m.channels; c++ {
		ch := f.Channel(c)
		for t := range ch {
			ch[t] = float32(2 * math.Sin(float64(c+t)/8))
		}
	}
	return synth.AcousticOutput{Features: &f}
}

func pitch(s synth.SpeakerIdentity) float64 {
	switch s.Kind {
	case synth.SpeakerByID:
		return 180 + 20*float64(s.ID%10)
	case synth.SpeakerByEmbedding:
		var sum float64
		for _, v := range s.Embedding {
			sum += math.Abs(float64(v))
		}
		return 150 + math.Mod(sum*50, 150)
	}
	return 220
}

func sineWave(n int, freq float64, sampleRate int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

// MockVocoder emits hop samples per frame, with the loudness of each frame
// following its mean feature value.
type MockVocoder struct {
	sampleRate int
	hop        int
}

func NewMockVocoder(sampleRate, hop int) *MockVocoder {
	return &MockVocoder{sampleRate: sampleRate, hop: hop}
}

func (m *MockVocoder) Infer(ctx context.Context, in synth.VocoderInput) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in.Batch) == 0 {
		return nil, errors.New("empty vocoder batch")
	}
	var out []float32
	for _, f := range in.Batch {
		base := sineWave(f.Frames*m.hop, 220, m.sampleRate, 1)
		for t := 0; t < f.Frames; t++ {
			var mean float64
			for c := 0; c < f.Channels; c++ {
				mean += float64(f.At(c, t))
			}
			mean /= float64(f.Channels)
			amp := 0.2 + 0.1*math.Tanh(mean)
			for i := t * m.hop; i < (t+1)*m.hop; i++ {
				base[i] *= float32(amp)
			}
		}
		out = append(out, base...)
	}
	return out, nil
}

// MockEncoder embeds a clip as the unit-normalized RMS energy of dim
// equal slices.
type MockEncoder struct {
	dim        int
	sampleRate int
}

func NewMockEncoder(dim, sampleRate int) *MockEncoder {
	return &MockEncoder{dim: dim, sampleRate: sampleRate}
}

func (m *MockEncoder) SampleRate() int { return m.sampleRate }

func (m *MockEncoder) Embed(ctx context.Context, samples []float32, device synth.Device) ([]float32, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples to embed")
	}
	out := make([]float32, m.dim)
	var norm float64
	for d := 0; d < m.dim; d++ {
		lo := d * len(samples) / m.dim
		hi := (d + 1) * len(samples) / m.dim
		var sum float64
		for _, v := range samples[lo:hi] {
			sum += float64(v) * float64(v)
		}
		if hi > lo {
			sum = math.Sqrt(sum / float64(hi-lo))
		}
		out[d] = float32(sum)
		norm += sum * sum
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range out {
			out[i] *= scale
		}
	}
	return out, nil
}
