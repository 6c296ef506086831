package audio

import (
	"context"
	"fmt"
)

// Provider bundles the transforms the synthesis engine needs. Clip feature
// extraction runs at the acoustic model's sample rate and STFT settings.
type Provider struct {
	sampleRate int
	stft       STFTParams
	stats      Stats
}

// NewProvider returns a Provider for an acoustic model running at
// sampleRate. stats normalizes extracted clip spectrograms; per-channel
// mean/std statistics describe mel channels and are not applied to them.
func NewProvider(sampleRate int, stft STFTParams, stats Stats) *Provider {
	stats.Mean, stats.Std = nil, nil
	return &Provider{sampleRate: sampleRate, stft: stft, stats: stats}
}

func (p *Provider) Denormalize(f Features, s Stats) (Features, error) { return Denormalize(f, s) }

func (p *Provider) Normalize(f Features, s Stats) (Features, error) { return Normalize(f, s) }

func (p *Provider) TrimSilence(wav []float32, policy TrimPolicy) []float32 {
	return TrimSilence(wav, policy)
}

func (p *Provider) ResampleFeatures(f Features, ratio float64) (Features, error) {
	return ResampleTime(f, ratio)
}

// ExtractFeatures loads a reference clip, peak-normalizes it and returns its
// normalized linear spectrogram.
func (p *Provider) ExtractFeatures(ctx context.Context, clip string) (Features, error) {
	if err := ctx.Err(); err != nil {
		return Features{}, err
	}
	wav, _, err := LoadWAV(clip, p.sampleRate)
	if err != nil {
		return Features{}, fmt.Errorf("load reference clip %s: %w", clip, err)
	}
	spec, err := Spectrogram(SoundNorm(wav), p.stft)
	if err != nil {
		return Features{}, fmt.Errorf("reference clip %s: %w", clip, err)
	}
	return Normalize(spec, p.stats)
}
