package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	TTS         TTSConfig        `yaml:"tts"`
	Engine      EngineConfig     `yaml:"engine"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// TTSConfig controls the bus-facing synthesis service.
type TTSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DefaultSpeaker  string `yaml:"default_speaker"`
	DefaultLanguage string `yaml:"default_language"`
	ChunkDurationMS int    `yaml:"chunk_duration_ms"`
	TimeoutMS       int    `yaml:"timeout_ms"`
}

// EngineConfig describes the loaded models and how they are combined.
type EngineConfig struct {
	Device            string               `yaml:"device"`
	PaddingSamples    int                  `yaml:"padding_samples"`
	SegmenterLanguage string               `yaml:"segmenter_language"`
	Acoustic          AcousticConfig       `yaml:"acoustic"`
	Vocoder           VocoderConfig        `yaml:"vocoder"`
	SpeakerEncoder    SpeakerEncoderConfig `yaml:"speaker_encoder"`
}

type AcousticConfig struct {
	Mode                 string      `yaml:"mode"` // mock, exec
	Command              string      `yaml:"command"`
	UseSpeakerEmbedding  bool        `yaml:"use_speaker_embedding"`
	UseDVectorFile       bool        `yaml:"use_d_vector_file"`
	UseLanguageEmbedding bool        `yaml:"use_language_embedding"`
	EnableEOSBOSChars    bool        `yaml:"enable_eos_bos_chars"`
	SpeakersFile         string      `yaml:"speakers_file"`
	DVectorFile          string      `yaml:"d_vector_file"`
	LanguageIDsFile      string      `yaml:"language_ids_file"`
	Audio                AudioConfig `yaml:"audio"`
}

type VocoderConfig struct {
	Enabled bool        `yaml:"enabled"`
	Mode    string      `yaml:"mode"` // mock, exec
	Command string      `yaml:"command"`
	Audio   AudioConfig `yaml:"audio"`
}

type SpeakerEncoderConfig struct {
	Mode       string `yaml:"mode"` // none, mock, exec, sherpa
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	NumThreads int    `yaml:"num_threads"`
	SampleRate int    `yaml:"sample_rate"`
}

// AudioConfig mirrors the audio block of a model config.
type AudioConfig struct {
	SampleRate    int     `yaml:"sample_rate"`
	FFTSize       int     `yaml:"fft_size"`
	HopLength     int     `yaml:"hop_length"`
	WinLength     int     `yaml:"win_length"`
	NumMels       int     `yaml:"num_mels"`
	SignalNorm    bool    `yaml:"signal_norm"`
	SymmetricNorm bool    `yaml:"symmetric_norm"`
	MaxNorm       float64 `yaml:"max_norm"`
	ClipNorm      bool    `yaml:"clip_norm"`
	MinLevelDB    float64 `yaml:"min_level_db"`
	RefLevelDB    float64 `yaml:"ref_level_db"`
	StatsPath     string  `yaml:"stats_path"`
	DoTrimSilence bool    `yaml:"do_trim_silence"`
	TrimDB        float64 `yaml:"trim_db"`
}

func defaultAudio(sampleRate int) AudioConfig {
	return AudioConfig{
		SampleRate:    sampleRate,
		FFTSize:       1024,
		HopLength:     256,
		WinLength:     1024,
		NumMels:       80,
		SignalNorm:    true,
		SymmetricNorm: true,
		MaxNorm:       4.0,
		ClipNorm:      true,
		MinLevelDB:    -100,
		RefLevelDB:    20,
		DoTrimSilence: true,
		TrimDB:        45,
	}
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-tts",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 5002,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-tts-1",
			Role:              "tts",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-tts-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		TTS: TTSConfig{
			Enabled:         true,
			ChunkDurationMS: 400,
			TimeoutMS:       45000,
		},
		Engine: EngineConfig{
			Device:            "cpu",
			PaddingSamples:    10000,
			SegmenterLanguage: "en",
			Acoustic: AcousticConfig{
				Mode:  "mock",
				Audio: defaultAudio(22050),
			},
			Vocoder: VocoderConfig{
				Enabled: false,
				Mode:    "mock",
				Audio:   defaultAudio(22050),
			},
			SpeakerEncoder: SpeakerEncoderConfig{
				Mode:       "none",
				NumThreads: 1,
				SampleRate: 16000,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.TTS.Enabled, "LOQA_TTS_ENABLED")
	overrideString(&cfg.TTS.DefaultSpeaker, "LOQA_TTS_DEFAULT_SPEAKER")
	overrideString(&cfg.TTS.DefaultLanguage, "LOQA_TTS_DEFAULT_LANGUAGE")
	overrideInt(&cfg.TTS.ChunkDurationMS, "LOQA_TTS_CHUNK_DURATION_MS")
	overrideInt(&cfg.TTS.TimeoutMS, "LOQA_TTS_TIMEOUT_MS")
	overrideString(&cfg.Engine.Device, "LOQA_ENGINE_DEVICE")
	overrideInt(&cfg.Engine.PaddingSamples, "LOQA_ENGINE_PADDING_SAMPLES")
	overrideString(&cfg.Engine.SegmenterLanguage, "LOQA_ENGINE_SEGMENTER_LANGUAGE")
	overrideString(&cfg.Engine.Acoustic.Mode, "LOQA_ACOUSTIC_MODE")
	overrideString(&cfg.Engine.Acoustic.Command, "LOQA_ACOUSTIC_COMMAND")
	overrideBool(&cfg.Engine.Acoustic.UseSpeakerEmbedding, "LOQA_ACOUSTIC_USE_SPEAKER_EMBEDDING")
	overrideBool(&cfg.Engine.Acoustic.UseDVectorFile, "LOQA_ACOUSTIC_USE_D_VECTOR_FILE")
	overrideBool(&cfg.Engine.Acoustic.UseLanguageEmbedding, "LOQA_ACOUSTIC_USE_LANGUAGE_EMBEDDING")
	overrideString(&cfg.Engine.Acoustic.SpeakersFile, "LOQA_ACOUSTIC_SPEAKERS_FILE")
	overrideString(&cfg.Engine.Acoustic.DVectorFile, "LOQA_ACOUSTIC_D_VECTOR_FILE")
	overrideString(&cfg.Engine.Acoustic.LanguageIDsFile, "LOQA_ACOUSTIC_LANGUAGE_IDS_FILE")
	overrideInt(&cfg.Engine.Acoustic.Audio.SampleRate, "LOQA_ACOUSTIC_SAMPLE_RATE")
	overrideBool(&cfg.Engine.Vocoder.Enabled, "LOQA_VOCODER_ENABLED")
	overrideString(&cfg.Engine.Vocoder.Mode, "LOQA_VOCODER_MODE")
	overrideString(&cfg.Engine.Vocoder.Command, "LOQA_VOCODER_COMMAND")
	overrideInt(&cfg.Engine.Vocoder.Audio.SampleRate, "LOQA_VOCODER_SAMPLE_RATE")
	overrideString(&cfg.Engine.SpeakerEncoder.Mode, "LOQA_SPEAKER_ENCODER_MODE")
	overrideString(&cfg.Engine.SpeakerEncoder.Command, "LOQA_SPEAKER_ENCODER_COMMAND")
	overrideString(&cfg.Engine.SpeakerEncoder.ModelPath, "LOQA_SPEAKER_ENCODER_MODEL_PATH")
	overrideInt(&cfg.Engine.SpeakerEncoder.NumThreads, "LOQA_SPEAKER_ENCODER_NUM_THREADS")
	overrideFloat(&cfg.Engine.Acoustic.Audio.TrimDB, "LOQA_ACOUSTIC_TRIM_DB")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	if cfg.TTS.Enabled && !cfg.Bus.Enabled {
		return errors.New("tts.enabled requires bus.enabled")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.TTS.ChunkDurationMS <= 0 {
		return errors.New("tts.chunk_duration_ms must be positive")
	}
	return validateEngine(cfg.Engine)
}

func validateEngine(cfg EngineConfig) error {
	if _, _, err := ParseDevice(cfg.Device); err != nil {
		return err
	}
	if cfg.PaddingSamples < 0 {
		return errors.New("engine.padding_samples must be >= 0")
	}

	ac := cfg.Acoustic
	switch ac.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.acoustic.mode must be one of mock|exec")
	}
	if ac.Mode == "exec" && ac.Command == "" {
		return errors.New("engine.acoustic.command must be set when mode=exec")
	}
	if err := validateAudio("engine.acoustic.audio", ac.Audio); err != nil {
		return err
	}
	if ac.UseDVectorFile && ac.DVectorFile == "" && ac.SpeakersFile == "" {
		return errors.New("engine.acoustic.d_vector_file must be set when use_d_vector_file is enabled")
	}
	if ac.UseSpeakerEmbedding && !ac.UseDVectorFile && ac.SpeakersFile == "" {
		return errors.New("engine.acoustic.speakers_file must be set when use_speaker_embedding is enabled")
	}
	if ac.UseLanguageEmbedding && ac.LanguageIDsFile == "" {
		return errors.New("engine.acoustic.language_ids_file must be set when use_language_embedding is enabled")
	}

	if cfg.Vocoder.Enabled {
		switch cfg.Vocoder.Mode {
		case "mock", "exec":
		default:
			return errors.New("engine.vocoder.mode must be one of mock|exec")
		}
		if cfg.Vocoder.Mode == "exec" && cfg.Vocoder.Command == "" {
			return errors.New("engine.vocoder.command must be set when mode=exec")
		}
		if err := validateAudio("engine.vocoder.audio", cfg.Vocoder.Audio); err != nil {
			return err
		}
	}

	enc := cfg.SpeakerEncoder
	switch enc.Mode {
	case "", "none", "mock":
	case "exec":
		if enc.Command == "" {
			return errors.New("engine.speaker_encoder.command must be set when mode=exec")
		}
	case "sherpa":
		if enc.ModelPath == "" {
			return errors.New("engine.speaker_encoder.model_path must be set when mode=sherpa")
		}
	default:
		return errors.New("engine.speaker_encoder.mode must be one of none|mock|exec|sherpa")
	}
	if enc.Mode != "" && enc.Mode != "none" && enc.SampleRate <= 0 {
		return errors.New("engine.speaker_encoder.sample_rate must be positive")
	}
	return nil
}

func validateAudio(prefix string, a AudioConfig) error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("%s.sample_rate must be positive", prefix)
	}
	if a.FFTSize <= 0 || a.HopLength <= 0 || a.WinLength <= 0 {
		return fmt.Errorf("%s.fft_size, hop_length and win_length must be positive", prefix)
	}
	if a.WinLength > a.FFTSize {
		return fmt.Errorf("%s.win_length must not exceed fft_size", prefix)
	}
	if a.SignalNorm {
		if a.MaxNorm <= 0 {
			return fmt.Errorf("%s.max_norm must be positive when signal_norm is enabled", prefix)
		}
		if a.MinLevelDB >= 0 {
			return fmt.Errorf("%s.min_level_db must be negative when signal_norm is enabled", prefix)
		}
	}
	if a.DoTrimSilence && a.TrimDB <= 0 {
		return fmt.Errorf("%s.trim_db must be positive when do_trim_silence is enabled", prefix)
	}
	return nil
}

// ParseDevice splits a device string such as "cpu", "cuda" or "cuda:1".
func ParseDevice(device string) (string, int, error) {
	device = strings.TrimSpace(strings.ToLower(device))
	if device == "" || device == "cpu" {
		return "cpu", 0, nil
	}
	kind, index, found := strings.Cut(device, ":")
	if kind != "cuda" {
		return "", 0, fmt.Errorf("engine.device %q must be cpu, cuda or cuda:N", device)
	}
	if !found {
		return "cuda", 0, nil
	}
	n, err := strconv.Atoi(index)
	if err != nil || n < 0 {
		return "", 0, fmt.Errorf("engine.device %q has an invalid index", device)
	}
	return "cuda", n, nil
}
