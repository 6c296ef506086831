package synth

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/loqalabs/loqa-tts/internal/audio"
)

// Reconciler carries acoustic features to the vocoder's frame rate. The
// ratio is fixed when the reconciler is built.
type Reconciler struct {
	sourceRate int
	targetRate int
	ratio      float64
	tf         Transformer
}

// NewReconciler prepares reconciliation from sourceRate to targetRate.
func NewReconciler(sourceRate, targetRate int, tf Transformer) (*Reconciler, error) {
	if sourceRate <= 0 || targetRate <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid sample rates %d -> %d", sourceRate, targetRate)}
	}
	return &Reconciler{
		sourceRate: sourceRate,
		targetRate: targetRate,
		ratio:      float64(targetRate) / float64(sourceRate),
		tf:         tf,
	}, nil
}

// PassThrough reports whether the two rates already match.
func (r *Reconciler) PassThrough() bool { return r.sourceRate == r.targetRate }

func (r *Reconciler) Ratio() float64 { return r.ratio }

// Reconcile resamples the time axis of f when the rates differ and wraps
// the result in a batch of one. Channel count is preserved.
func (r *Reconciler) Reconcile(f audio.Features, device Device) (VocoderInput, error) {
	if err := f.Validate(); err != nil {
		return VocoderInput{}, err
	}
	if r.PassThrough() {
		return VocoderInput{Batch: []audio.Features{f}, Device: device}, nil
	}
	out, err := r.tf.ResampleFeatures(f, r.ratio)
	if err != nil {
		return VocoderInput{}, fmt.Errorf("resample %d -> %d Hz: %w", r.sourceRate, r.targetRate, err)
	}
	if out.Channels != f.Channels {
		return VocoderInput{}, fmt.Errorf("%w: resampling changed channels %d -> %d", audio.ErrShape, f.Channels, out.Channels)
	}
	if want := int(math.Floor(float64(f.Frames) * r.ratio)); out.Frames != want {
		return VocoderInput{}, fmt.Errorf("%w: resampled to %d frames, want %d", audio.ErrShape, out.Frames, want)
	}
	if err := out.Validate(); err != nil {
		return VocoderInput{}, err
	}
	return VocoderInput{Batch: []audio.Features{out}, Device: device}, nil
}

// vocoderStage is the denormalize, renormalize, reconcile and vocode
// sequence shared by synthesis and conversion.
type vocoderStage struct {
	acoustic   audio.Stats
	vocoder    audio.Stats
	tf         Transformer
	reconciler *Reconciler
	model      Vocoder
	device     Device
}

func (s *vocoderStage) run(ctx context.Context, f audio.Features, segment int) ([]float32, error) {
	db, err := s.tf.Denormalize(f, s.acoustic)
	if err != nil {
		return nil, &ReconciliationError{Segment: segment, Err: fmt.Errorf("denormalize: %w", err)}
	}
	norm, err := s.tf.Normalize(db, s.vocoder)
	if err != nil {
		return nil, &ReconciliationError{Segment: segment, Err: fmt.Errorf("normalize: %w", err)}
	}
	in, err := s.reconciler.Reconcile(norm, s.device)
	if err != nil {
		return nil, &ReconciliationError{Segment: segment, Err: err}
	}
	wav, err := s.model.Infer(ctx, in)
	if err != nil {
		return nil, &InferenceError{Stage: StageVocoder, Segment: segment, Err: err}
	}
	if len(wav) == 0 {
		return nil, &InferenceError{Stage: StageVocoder, Segment: segment, Err: errors.New("vocoder returned no samples")}
	}
	return wav, nil
}
