package models

import (
	"context"

	"github.com/loqalabs/loqa-tts/internal/synth"
)

type vocoderRequest struct {
	Features [][][]float32 `json:"features"`
	Device   string        `json:"device"`
}

type vocoderResponse struct {
	Waveform []float32 `json:"waveform"`
}

// ExecVocoder runs a vocoder behind a command. Features are sent as a
// batch of frame-major matrices.
type ExecVocoder struct {
	r *runner
}

func NewExecVocoder(command string) (*ExecVocoder, error) {
	r, err := newRunner("vocoder", command)
	if err != nil {
		return nil, err
	}
	return &ExecVocoder{r: r}, nil
}

func (v *ExecVocoder) Infer(ctx context.Context, in synth.VocoderInput) ([]float32, error) {
	payload := vocoderRequest{Device: in.Device.String()}
	for _, f := range in.Batch {
		payload.Features = append(payload.Features, f.Rows())
	}
	var resp vocoderResponse
	if err := v.r.call(ctx, payload, &resp); err != nil {
		return nil, err
	}
	return resp.Waveform, nil
}
