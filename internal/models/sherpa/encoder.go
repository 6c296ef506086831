// Package sherpa embeds speakers with a sherpa-onnx speaker embedding
// model.
package sherpa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
	"github.com/loqalabs/loqa-tts/internal/synth"
)

// Encoder wraps a SpeakerEmbeddingExtractor. The extractor is not safe for
// concurrent streams, so calls are serialized.
type Encoder struct {
	impl       *sherpa.SpeakerEmbeddingExtractor
	sampleRate int
	device     synth.Device
	mu         sync.Mutex
}

// NewEncoder loads the model onto device. Placement is fixed for the
// lifetime of the encoder.
func NewEncoder(modelPath string, numThreads, sampleRate int, device synth.Device, log *slog.Logger) (*Encoder, error) {
	if modelPath == "" {
		return nil, errors.New("speaker encoder model path is empty")
	}
	provider := "cpu"
	if device.Kind == "cuda" {
		provider = "cuda"
	}
	impl := sherpa.NewSpeakerEmbeddingExtractor(&sherpa.SpeakerEmbeddingExtractorConfig{
		Model:      modelPath,
		NumThreads: numThreads,
		Provider:   provider,
	})
	if impl == nil {
		return nil, fmt.Errorf("create speaker embedding extractor from %s", modelPath)
	}
	log.Info("speaker encoder loaded",
		slog.String("model", modelPath),
		slog.Int("dim", impl.Dim()),
		slog.String("device", device.String()),
	)
	return &Encoder{impl: impl, sampleRate: sampleRate, device: device}, nil
}

func (e *Encoder) SampleRate() int { return e.sampleRate }

func (e *Encoder) Dim() int { return e.impl.Dim() }

// Embed computes the embedding of a clip sampled at SampleRate. The device
// must match the one the model was loaded onto.
func (e *Encoder) Embed(ctx context.Context, samples []float32, device synth.Device) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if device.String() != e.device.String() {
		return nil, fmt.Errorf("speaker encoder placed on %s, asked to run on %s", e.device, device)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.impl == nil {
		return nil, errors.New("speaker encoder closed")
	}

	stream := e.impl.CreateStream()
	if stream == nil {
		return nil, errors.New("create speaker embedding stream")
	}
	defer sherpa.DeleteOnlineStream(stream)

	stream.AcceptWaveform(e.sampleRate, samples)
	stream.InputFinished()
	if !e.impl.IsReady(stream) {
		return nil, fmt.Errorf("clip too short for a speaker embedding (%d samples)", len(samples))
	}
	return e.impl.Compute(stream), nil
}

func (e *Encoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.impl != nil {
		sherpa.DeleteSpeakerEmbeddingExtractor(e.impl)
		e.impl = nil
	}
}
