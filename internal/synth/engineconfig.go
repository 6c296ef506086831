// Package synth orchestrates text-to-speech synthesis and voice conversion:
// it resolves speaker and language identity, drives the acoustic model and
// vocoder segment by segment, reconciles their sample rates and assembles
// the final waveform.
package synth

import (
	"fmt"

	"github.com/loqalabs/loqa-tts/internal/audio"
)

// SpeakerMode is how a loaded acoustic model expects to be told who speaks.
type SpeakerMode int

const (
	// SingleSpeaker models take no speaker input.
	SingleSpeaker SpeakerMode = iota
	// SpeakerIDs models take a discrete id from the speaker table.
	SpeakerIDs
	// SpeakerDVectors models take a stored embedding looked up by name.
	SpeakerDVectors
	// SpeakerEncoderOnly models take an embedding computed from a reference
	// clip and have no table of named speakers.
	SpeakerEncoderOnly
)

func (m SpeakerMode) String() string {
	switch m {
	case SingleSpeaker:
		return "single"
	case SpeakerIDs:
		return "ids"
	case SpeakerDVectors:
		return "d-vectors"
	case SpeakerEncoderOnly:
		return "encoder"
	default:
		return fmt.Sprintf("SpeakerMode(%d)", int(m))
	}
}

// MultiSpeaker reports whether requests must resolve a speaker identity.
func (m SpeakerMode) MultiSpeaker() bool { return m != SingleSpeaker }

// LanguageMode is how a loaded acoustic model expects its language input.
type LanguageMode int

const (
	SingleLanguage LanguageMode = iota
	LanguageIDs
)

func (m LanguageMode) String() string {
	switch m {
	case SingleLanguage:
		return "single"
	case LanguageIDs:
		return "ids"
	default:
		return fmt.Sprintf("LanguageMode(%d)", int(m))
	}
}

// ModelFlags are the raw switches a model configuration carries.
type ModelFlags struct {
	UseSpeakerEmbedding  bool
	UseDVectorFile       bool
	UseLanguageEmbedding bool
	HasSpeakerEncoder    bool
}

// Modes resolves the flag combination into one speaker mode and one
// language mode. A d-vector file wins over speaker ids; a model with
// neither but an attached speaker encoder is encoder-only.
func (f ModelFlags) Modes() (SpeakerMode, LanguageMode) {
	speakers := SingleSpeaker
	switch {
	case f.UseDVectorFile:
		speakers = SpeakerDVectors
	case f.UseSpeakerEmbedding:
		speakers = SpeakerIDs
	case f.HasSpeakerEncoder:
		speakers = SpeakerEncoderOnly
	}
	languages := SingleLanguage
	if f.UseLanguageEmbedding {
		languages = LanguageIDs
	}
	return speakers, languages
}

// Device is where the models were placed at load time. It is passed to
// every model call.
type Device struct {
	Kind  string // "cpu" or "cuda"
	Index int
}

// CPU is the default placement.
func CPU() Device { return Device{Kind: "cpu"} }

func (d Device) String() string {
	if d.Kind == "" || d.Kind == "cpu" {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}

// AudioParams describes one side of the audio pipeline.
type AudioParams struct {
	SampleRate int
	Stats      audio.Stats
	Trim       audio.TrimPolicy
}

// EngineConfig is resolved once when the engine is built and never changes.
type EngineConfig struct {
	Speakers  SpeakerMode
	Languages LanguageMode
	Acoustic  AudioParams
	// Vocoder is nil when no vocoder is attached; the acoustic model then
	// reconstructs waveforms itself (Griffin-Lim).
	Vocoder        *AudioParams
	HasEncoder     bool
	EnableEOSBOS   bool
	PaddingSamples int
	Device         Device
}

// HasVocoder reports whether a vocoder stage runs after the acoustic model.
func (c EngineConfig) HasVocoder() bool { return c.Vocoder != nil }

// OutputSampleRate is the rate of the assembled waveform.
func (c EngineConfig) OutputSampleRate() int {
	if c.Vocoder != nil {
		return c.Vocoder.SampleRate
	}
	return c.Acoustic.SampleRate
}

// Validate checks the configuration for internal consistency.
func (c EngineConfig) Validate() error {
	if c.Acoustic.SampleRate <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("acoustic sample rate must be positive, got %d", c.Acoustic.SampleRate)}
	}
	if c.Vocoder != nil && c.Vocoder.SampleRate <= 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("vocoder sample rate must be positive, got %d", c.Vocoder.SampleRate)}
	}
	if c.PaddingSamples < 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("padding must not be negative, got %d", c.PaddingSamples)}
	}
	if c.Speakers == SpeakerEncoderOnly && !c.HasEncoder {
		return &ConfigurationError{Reason: "encoder speaker mode requires a speaker encoder"}
	}
	return nil
}
