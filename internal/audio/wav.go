package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"
)

// LoadWAV decodes a WAV file into mono float32 samples in [-1, 1]. When
// sampleRate is positive and differs from the file's rate the samples are
// resampled to it. The returned rate is the rate of the returned samples.
func LoadWAV(path string, sampleRate int) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()
	return DecodeWAV(f, sampleRate)
}

// DecodeWAV is LoadWAV over an already opened stream.
func DecodeWAV(r io.ReadSeeker, sampleRate int) ([]float32, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("not a valid wav stream")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, 0, errors.New("wav stream has no format")
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	depth := int(dec.BitDepth)
	if depth <= 0 {
		depth = 16
	}
	scale := math.Pow(2, float64(depth-1))

	frames := len(buf.Data) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c]) / scale
		}
		mono[i] = sum / float64(channels)
	}

	rate := buf.Format.SampleRate
	if sampleRate > 0 && sampleRate != rate {
		mono, err = resample(mono, rate, sampleRate)
		if err != nil {
			return nil, 0, err
		}
		rate = sampleRate
	}

	out := make([]float32, len(mono))
	for i, v := range mono {
		out[i] = float32(v)
	}
	return out, rate, nil
}

func resample(samples []float64, from, to int) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	out, err := r.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample %d -> %d: %w", from, to, err)
	}
	return out, nil
}

// PCM16 converts a waveform to 16-bit samples scaled so that its peak maps
// to full scale. Peaks below 0.01 are treated as 0.01 so that near-silence
// is not amplified into noise.
func PCM16(samples []float32) []int {
	peak := 0.01
	for _, v := range samples {
		peak = math.Max(peak, math.Abs(float64(v)))
	}
	scale := 32767 / peak
	out := make([]int, len(samples))
	for i, v := range samples {
		out[i] = int(clamp(float64(v)*scale, -32768, 32767))
	}
	return out
}

// PCM16Bytes is PCM16 encoded little-endian, the layout the bus carries.
func PCM16Bytes(samples []float32) []byte {
	ints := PCM16(samples)
	out := make([]byte, len(ints)*2)
	for i, s := range ints {
		out[2*i] = byte(int16(s))
		out[2*i+1] = byte(int16(s) >> 8)
	}
	return out
}

// EncodeWAV writes samples as mono 16-bit PCM WAV.
func EncodeWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           PCM16(samples),
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// SaveWAV writes samples to path as mono 16-bit PCM WAV.
func SaveWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	if err := EncodeWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// MemoryFile is an in-memory io.WriteSeeker for encoding WAV payloads
// that are sent over the network.
type MemoryFile struct {
	buf []byte
	pos int
}

func (m *MemoryFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *MemoryFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(next)
	return next, nil
}

func (m *MemoryFile) Bytes() []byte { return m.buf }

// EncodeWAVBytes returns samples encoded as a WAV file.
func EncodeWAVBytes(samples []float32, sampleRate int) ([]byte, error) {
	var mf MemoryFile
	if err := EncodeWAV(&mf, samples, sampleRate); err != nil {
		return nil, err
	}
	return mf.Bytes(), nil
}
