package protocol

import "time"

// TTSRequest asks the synthesis service to speak text.
type TTSRequest struct {
	SessionID      string   `json:"session_id"`
	Target         string   `json:"target,omitempty"`
	Text           string   `json:"text"`
	Speaker        string   `json:"speaker,omitempty"`
	Language       string   `json:"language,omitempty"`
	ReferenceClips []string `json:"reference_clips,omitempty"`
	StyleWav       string   `json:"style_wav,omitempty"`
}

// ConvertRequest asks the synthesis service to convert a voice.
type ConvertRequest struct {
	SessionID      string   `json:"session_id"`
	Target         string   `json:"target,omitempty"`
	SourceSpeaker  string   `json:"source_speaker,omitempty"`
	TargetSpeaker  string   `json:"target_speaker,omitempty"`
	ReferenceClips []string `json:"reference_clips,omitempty"`
	StyleWav       string   `json:"style_wav,omitempty"`
}

// AudioChunk carries little-endian 16-bit mono PCM.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Sequence   int    `json:"sequence"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TTSStatus closes a session. ErrorKind is set when Completed is false.
type TTSStatus struct {
	SessionID      string    `json:"session_id"`
	Target         string    `json:"target,omitempty"`
	Completed      bool      `json:"completed"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	Error          string    `json:"error,omitempty"`
	Segments       int       `json:"segments,omitempty"`
	DurationMS     int64     `json:"duration_ms,omitempty"`
	RealTimeFactor float64   `json:"real_time_factor,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

const (
	SubjectTTSRequest = "tts.request"
	SubjectTTSConvert = "tts.convert"
	SubjectTTSAudio   = "tts.audio"
	SubjectTTSDone    = "tts.done"
)
