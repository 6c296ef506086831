// Package engine builds a synthesis engine from configuration. All model
// loading and device placement happens here, once.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/models"
	"github.com/loqalabs/loqa-tts/internal/models/sherpa"
	"github.com/loqalabs/loqa-tts/internal/segment"
	"github.com/loqalabs/loqa-tts/internal/synth"
	"github.com/loqalabs/loqa-tts/internal/voicebank"
)

const mockEmbeddingDim = 64

// Bundle is a built engine plus the tables it resolves names against.
type Bundle struct {
	Engine    *synth.Engine
	Speakers  *voicebank.Speakers
	Languages *voicebank.Languages
	closers   []func()
}

// Info describes what a built engine accepts.
type Info struct {
	SpeakerMode  string   `json:"speaker_mode"`
	LanguageMode string   `json:"language_mode"`
	Speakers     []string `json:"speakers,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	SampleRate   int      `json:"sample_rate"`
	Vocoder      bool     `json:"vocoder"`
	Encoder      bool     `json:"speaker_encoder"`
	Device       string   `json:"device"`
}

func (b *Bundle) Info() Info {
	cfg := b.Engine.Config()
	info := Info{
		SpeakerMode:  cfg.Speakers.String(),
		LanguageMode: cfg.Languages.String(),
		SampleRate:   cfg.OutputSampleRate(),
		Vocoder:      cfg.HasVocoder(),
		Encoder:      cfg.HasEncoder,
		Device:       cfg.Device.String(),
	}
	if b.Speakers != nil {
		info.Speakers = b.Speakers.Names()
	}
	if b.Languages != nil {
		info.Languages = b.Languages.Names()
	}
	return info
}

// Close releases native model resources.
func (b *Bundle) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Build loads every component named by cfg and assembles the engine.
func Build(cfg config.EngineConfig, log *slog.Logger) (_ *Bundle, err error) {
	kind, index, err := config.ParseDevice(cfg.Device)
	if err != nil {
		return nil, err
	}
	device := synth.Device{Kind: kind, Index: index}
	b := &Bundle{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	acousticParams, err := audioParams(cfg.Acoustic.Audio)
	if err != nil {
		return nil, fmt.Errorf("acoustic audio: %w", err)
	}

	encoder, err := buildEncoder(cfg.SpeakerEncoder, device, log, b)
	if err != nil {
		return nil, err
	}
	flags := synth.ModelFlags{
		UseSpeakerEmbedding:  cfg.Acoustic.UseSpeakerEmbedding,
		UseDVectorFile:       cfg.Acoustic.UseDVectorFile,
		UseLanguageEmbedding: cfg.Acoustic.UseLanguageEmbedding,
		HasSpeakerEncoder:    encoder != nil,
	}
	speakerMode, languageMode := flags.Modes()

	components := synth.Components{}
	if speakerMode.MultiSpeaker() {
		speakersFile, dvectorFile := cfg.Acoustic.SpeakersFile, ""
		if cfg.Acoustic.UseDVectorFile {
			dvectorFile = cfg.Acoustic.DVectorFile
			if dvectorFile == "" {
				// the speakers file doubles as the d-vector file
				speakersFile, dvectorFile = "", cfg.Acoustic.SpeakersFile
			}
		}
		speakers, err := voicebank.LoadSpeakers(speakersFile, dvectorFile, encoder)
		if err != nil {
			return nil, err
		}
		b.Speakers = speakers
		components.Speakers = speakers
	}
	if languageMode == synth.LanguageIDs {
		languages, err := voicebank.LoadLanguages(cfg.Acoustic.LanguageIDsFile)
		if err != nil {
			return nil, err
		}
		b.Languages = languages
		components.Languages = languages
	}

	if components.Segmenter, err = segment.ForLanguage(cfg.SegmenterLanguage); err != nil {
		return nil, err
	}
	if components.Acoustic, err = buildAcoustic(cfg.Acoustic); err != nil {
		return nil, err
	}

	engineCfg := synth.EngineConfig{
		Speakers:       speakerMode,
		Languages:      languageMode,
		Acoustic:       acousticParams,
		HasEncoder:     encoder != nil,
		EnableEOSBOS:   cfg.Acoustic.EnableEOSBOSChars,
		PaddingSamples: cfg.PaddingSamples,
		Device:         device,
	}
	if cfg.Vocoder.Enabled {
		vocoderParams, err := audioParams(cfg.Vocoder.Audio)
		if err != nil {
			return nil, fmt.Errorf("vocoder audio: %w", err)
		}
		engineCfg.Vocoder = &vocoderParams
		if components.Vocoder, err = buildVocoder(cfg.Vocoder); err != nil {
			return nil, err
		}
	}

	a := cfg.Acoustic.Audio
	components.Audio = audio.NewProvider(a.SampleRate,
		audio.STFTParams{FFTSize: a.FFTSize, HopLength: a.HopLength, WinLength: a.WinLength},
		acousticParams.Stats)

	b.Engine, err = synth.NewEngine(engineCfg, components, log)
	if err != nil {
		return nil, err
	}
	log.Info("synthesis engine ready",
		slog.String("speaker_mode", speakerMode.String()),
		slog.String("language_mode", languageMode.String()),
		slog.Bool("vocoder", engineCfg.HasVocoder()),
		slog.Int("sample_rate", engineCfg.OutputSampleRate()),
		slog.String("device", device.String()),
	)
	return b, nil
}

func audioParams(a config.AudioConfig) (synth.AudioParams, error) {
	stats := audio.Stats{
		SignalNorm: a.SignalNorm,
		Symmetric:  a.SymmetricNorm,
		MaxNorm:    a.MaxNorm,
		ClipNorm:   a.ClipNorm,
		MinLevelDB: a.MinLevelDB,
		RefLevelDB: a.RefLevelDB,
	}
	if a.StatsPath != "" {
		mean, std, err := audio.LoadMeanStd(a.StatsPath)
		if err != nil {
			return synth.AudioParams{}, err
		}
		if a.NumMels > 0 && len(mean) != a.NumMels {
			return synth.AudioParams{}, fmt.Errorf("stats cover %d channels, num_mels is %d", len(mean), a.NumMels)
		}
		stats.Mean, stats.Std = mean, std
	}
	return synth.AudioParams{
		SampleRate: a.SampleRate,
		Stats:      stats,
		Trim: audio.TrimPolicy{
			Enabled:     a.DoTrimSilence,
			TopDB:       a.TrimDB,
			FrameLength: a.WinLength,
			HopLength:   a.HopLength,
		},
	}, nil
}

func buildAcoustic(cfg config.AcousticConfig) (synth.AcousticModel, error) {
	switch cfg.Mode {
	case "exec":
		return models.NewExecAcoustic(cfg.Command)
	default:
		return models.NewMockAcoustic(cfg.Audio.SampleRate, cfg.Audio.HopLength, cfg.Audio.NumMels), nil
	}
}

func buildVocoder(cfg config.VocoderConfig) (synth.Vocoder, error) {
	switch cfg.Mode {
	case "exec":
		return models.NewExecVocoder(cfg.Command)
	default:
		return models.NewMockVocoder(cfg.Audio.SampleRate, cfg.Audio.HopLength), nil
	}
}

func buildEncoder(cfg config.SpeakerEncoderConfig, device synth.Device, log *slog.Logger, b *Bundle) (voicebank.Encoder, error) {
	switch cfg.Mode {
	case "mock":
		return models.NewMockEncoder(mockEmbeddingDim, cfg.SampleRate), nil
	case "exec":
		return models.NewExecEncoder(cfg.Command, cfg.SampleRate)
	case "sherpa":
		enc, err := sherpa.NewEncoder(cfg.ModelPath, cfg.NumThreads, cfg.SampleRate, device, log)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, enc.Close)
		return enc, nil
	default:
		return nil, nil
	}
}
