package synth

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// checkOutput enforces that the acoustic model returned exactly the form
// that was asked for.
func checkOutput(out AcousticOutput, wantWaveform bool) error {
	hasWave := len(out.Waveform) > 0
	hasFeatures := out.Features != nil
	switch {
	case hasWave && hasFeatures:
		return errors.New("model returned both a waveform and features")
	case wantWaveform && !hasWave:
		return errors.New("model returned no waveform in griffin-lim mode")
	case !wantWaveform && !hasFeatures:
		return errors.New("model returned no features for the vocoder")
	case hasFeatures:
		if err := out.Features.Validate(); err != nil {
			return fmt.Errorf("model features: %w", err)
		}
	}
	return nil
}

// finish turns one acoustic output into a trimmed segment waveform,
// running the vocoder stage when one is attached.
func (e *Engine) finish(ctx context.Context, out AcousticOutput, segment int) ([]float32, error) {
	wav := out.Waveform
	if e.vocoder != nil {
		var err error
		wav, err = e.vocoder.run(ctx, *out.Features, segment)
		if err != nil {
			return nil, err
		}
	}
	return e.tf.TrimSilence(wav, e.cfg.Acoustic.Trim), nil
}

// synthesizeSegments runs the per-sentence loop. Segments are processed in
// order and the first failure aborts the request.
func (e *Engine) synthesizeSegments(ctx context.Context, sentences []string, speaker SpeakerIdentity, language LanguageIdentity, styleRef string) ([][]float32, error) {
	griffinLim := !e.cfg.HasVocoder()
	segments := make([][]float32, 0, len(sentences))
	for i, sentence := range sentences {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wav, err := e.synthesizeSegment(ctx, i, AcousticRequest{
			Text:          sentence,
			Speaker:       speaker,
			Language:      language,
			StyleRef:      styleRef,
			UseGriffinLim: griffinLim,
			EnableEOSBOS:  e.cfg.EnableEOSBOS,
			Device:        e.cfg.Device,
		})
		if err != nil {
			return nil, err
		}
		segments = append(segments, wav)
	}
	return segments, nil
}

func (e *Engine) synthesizeSegment(ctx context.Context, index int, req AcousticRequest) ([]float32, error) {
	ctx, span := e.tracer.Start(ctx, "synth.segment")
	span.SetAttributes(attribute.Int("segment", index), attribute.Int("chars", len(req.Text)))
	defer span.End()

	out, err := e.acoustic.Infer(ctx, req)
	if err != nil {
		err = &InferenceError{Stage: StageAcoustic, Segment: index, Err: err}
	} else if cerr := checkOutput(out, req.UseGriffinLim); cerr != nil {
		err = &InferenceError{Stage: StageAcoustic, Segment: index, Err: cerr}
	}
	var wav []float32
	if err == nil {
		wav, err = e.finish(ctx, out, index)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("samples", len(wav)))
	return wav, nil
}

// convertOnce is the conversion path: one acoustic call, then the same
// vocode and trim steps as a text segment.
func (e *Engine) convertOnce(ctx context.Context, in ConversionInput) ([]float32, error) {
	out, err := e.acoustic.Convert(ctx, in)
	if err != nil {
		return nil, &InferenceError{Stage: StageAcoustic, Segment: -1, Err: err}
	}
	if err := checkOutput(out, in.UseGriffinLim); err != nil {
		return nil, &InferenceError{Stage: StageAcoustic, Segment: -1, Err: err}
	}
	return e.finish(ctx, out, -1)
}
