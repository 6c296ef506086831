package models

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-tts/internal/synth"
)

type encoderRequest struct {
	Samples    []float32 `json:"samples"`
	SampleRate int       `json:"sample_rate"`
	Device     string    `json:"device"`
}

type encoderResponse struct {
	Embedding []float32 `json:"embedding"`
}

// ExecEncoder computes speaker embeddings with an external command.
type ExecEncoder struct {
	r          *runner
	sampleRate int
}

func NewExecEncoder(command string, sampleRate int) (*ExecEncoder, error) {
	r, err := newRunner("speaker encoder", command)
	if err != nil {
		return nil, err
	}
	return &ExecEncoder{r: r, sampleRate: sampleRate}, nil
}

func (e *ExecEncoder) SampleRate() int { return e.sampleRate }

func (e *ExecEncoder) Embed(ctx context.Context, samples []float32, device synth.Device) ([]float32, error) {
	var resp encoderResponse
	err := e.r.call(ctx, encoderRequest{Samples: samples, SampleRate: e.sampleRate, Device: device.String()}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("speaker encoder returned an empty embedding")
	}
	return resp.Embedding, nil
}
