package synth

import (
	"context"

	"github.com/loqalabs/loqa-tts/internal/audio"
)

// Segmenter splits text into sentences without dropping or reordering
// content.
type Segmenter interface {
	Segment(text string) []string
}

// AcousticRequest is one acoustic model call in text mode.
type AcousticRequest struct {
	Text     string
	Speaker  SpeakerIdentity
	Language LanguageIdentity
	StyleRef string
	// UseGriffinLim asks for a waveform instead of features. It is set
	// exactly when no vocoder is attached.
	UseGriffinLim bool
	EnableEOSBOS  bool
	Device        Device
}

// ConversionInput is the acoustic model's voice conversion call.
type ConversionInput struct {
	Source SpeakerIdentity
	Target SpeakerIdentity
	// Features is the reference clip representation, nil without a clip.
	Features      *audio.Features
	StyleRef      string
	UseGriffinLim bool
	Device        Device
}

// AcousticOutput holds exactly one of Waveform or Features.
type AcousticOutput struct {
	Waveform []float32
	Features *audio.Features
}

// AcousticModel maps text or conversion inputs to audio.
type AcousticModel interface {
	Infer(ctx context.Context, req AcousticRequest) (AcousticOutput, error)
	Convert(ctx context.Context, in ConversionInput) (AcousticOutput, error)
}

// VocoderInput is a batch of feature matrices at the vocoder's frame rate.
// The engine always sends a batch of one.
type VocoderInput struct {
	Batch  []audio.Features
	Device Device
}

// Vocoder turns features into a waveform.
type Vocoder interface {
	Infer(ctx context.Context, in VocoderInput) ([]float32, error)
}

// SpeakerStore resolves speaker names and reference clips. Lookups return
// an error wrapping ErrNotFound for unknown names.
type SpeakerStore interface {
	IDForName(name string) (int, error)
	EmbeddingForName(name string) ([]float32, error)
	EmbeddingFromClip(ctx context.Context, clips []string, device Device) ([]float32, error)
}

// LanguageStore resolves language names.
type LanguageStore interface {
	IDForName(name string) (int, error)
}

// Transformer is the audio transform provider. Its calls run on the CPU
// and take no Device; only model and encoder calls are placed on one.
type Transformer interface {
	Denormalize(f audio.Features, s audio.Stats) (audio.Features, error)
	Normalize(f audio.Features, s audio.Stats) (audio.Features, error)
	TrimSilence(wav []float32, p audio.TrimPolicy) []float32
	ResampleFeatures(f audio.Features, ratio float64) (audio.Features, error)
	ExtractFeatures(ctx context.Context, clip string) (audio.Features, error)
}
