package models

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/synth"
)

type speakerFields struct {
	SpeakerID        *int      `json:"speaker_id,omitempty"`
	SpeakerEmbedding []float32 `json:"speaker_embedding,omitempty"`
}

func toSpeakerFields(s synth.SpeakerIdentity) speakerFields {
	switch s.Kind {
	case synth.SpeakerByID:
		id := s.ID
		return speakerFields{SpeakerID: &id}
	case synth.SpeakerByEmbedding:
		return speakerFields{SpeakerEmbedding: s.Embedding}
	}
	return speakerFields{}
}

type acousticRequest struct {
	Op string `json:"op"`
	speakerFields
	Text          string `json:"text"`
	LanguageID    *int   `json:"language_id,omitempty"`
	StyleWav      string `json:"style_wav,omitempty"`
	UseGriffinLim bool   `json:"use_griffin_lim"`
	EnableEOSBOS  bool   `json:"enable_eos_bos_chars,omitempty"`
	Device        string `json:"device"`
}

type conversionRequest struct {
	Op            string        `json:"op"`
	Source        speakerFields `json:"source"`
	Target        speakerFields `json:"target"`
	Features      [][]float32   `json:"features,omitempty"`
	StyleWav      string        `json:"style_wav,omitempty"`
	UseGriffinLim bool          `json:"use_griffin_lim"`
	Device        string        `json:"device"`
}

// acousticResponse carries features frame-major ([T][C]).
type acousticResponse struct {
	Waveform []float32   `json:"waveform,omitempty"`
	Features [][]float32 `json:"features,omitempty"`
}

// ExecAcoustic runs an acoustic model behind a command.
type ExecAcoustic struct {
	r *runner
}

func NewExecAcoustic(command string) (*ExecAcoustic, error) {
	r, err := newRunner("acoustic", command)
	if err != nil {
		return nil, err
	}
	return &ExecAcoustic{r: r}, nil
}

func (a *ExecAcoustic) Infer(ctx context.Context, req synth.AcousticRequest) (synth.AcousticOutput, error) {
	payload := acousticRequest{
		Op:            "infer",
		speakerFields: toSpeakerFields(req.Speaker),
		Text:          req.Text,
		StyleWav:      req.StyleRef,
		UseGriffinLim: req.UseGriffinLim,
		EnableEOSBOS:  req.EnableEOSBOS,
		Device:        req.Device.String(),
	}
	if req.Language.Set {
		id := req.Language.ID
		payload.LanguageID = &id
	}
	var resp acousticResponse
	if err := a.r.call(ctx, payload, &resp); err != nil {
		return synth.AcousticOutput{}, err
	}
	return resp.output()
}

func (a *ExecAcoustic) Convert(ctx context.Context, in synth.ConversionInput) (synth.AcousticOutput, error) {
	payload := conversionRequest{
		Op:            "convert",
		Source:        toSpeakerFields(in.Source),
		Target:        toSpeakerFields(in.Target),
		StyleWav:      in.StyleRef,
		UseGriffinLim: in.UseGriffinLim,
		Device:        in.Device.String(),
	}
	if in.Features != nil {
		payload.Features = in.Features.Rows()
	}
	var resp acousticResponse
	if err := a.r.call(ctx, payload, &resp); err != nil {
		return synth.AcousticOutput{}, err
	}
	return resp.output()
}

func (r acousticResponse) output() (synth.AcousticOutput, error) {
	out := synth.AcousticOutput{Waveform: r.Waveform}
	if len(r.Features) > 0 {
		f, err := audio.FromFrames(r.Features)
		if err != nil {
			return synth.AcousticOutput{}, fmt.Errorf("acoustic features: %w", err)
		}
		out.Features = &f
	}
	return out, nil
}
