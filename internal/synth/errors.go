package synth

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by speaker and language stores for unknown names.
var ErrNotFound = errors.New("not found")

// ConfigurationError reports a request that does not fit the loaded model,
// such as a speaker selector for a single-speaker model.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Reason }

// UnknownIdentityError reports a speaker or language name missing from its
// table.
type UnknownIdentityError struct {
	Kind string // "speaker" or "language"
	Name string
}

func (e *UnknownIdentityError) Error() string {
	return fmt.Sprintf("unknown %s name %q", e.Kind, e.Name)
}

func (e *UnknownIdentityError) Is(target error) bool { return target == ErrNotFound }

// Inference stages.
const (
	StageAcoustic       = "acoustic"
	StageVocoder        = "vocoder"
	StageSpeakerEncoder = "speaker_encoder"
	StageFeatures       = "features"
)

// InferenceError reports a failed model call, or a model output that does
// not match what was requested. Segment is -1 outside the per-sentence loop.
type InferenceError struct {
	Stage   string
	Segment int
	Err     error
}

func (e *InferenceError) Error() string {
	if e.Segment < 0 {
		return fmt.Sprintf("%s inference failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s inference failed at segment %d: %v", e.Stage, e.Segment, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ReconciliationError reports features that could not be carried from the
// acoustic model's audio pipeline to the vocoder's.
type ReconciliationError struct {
	Segment int
	Err     error
}

func (e *ReconciliationError) Error() string {
	if e.Segment < 0 {
		return fmt.Sprintf("reconcile features: %v", e.Err)
	}
	return fmt.Sprintf("reconcile features at segment %d: %v", e.Segment, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// Kind names the error class for wire formats and logs.
func Kind(err error) string {
	var (
		cfgErr   *ConfigurationError
		idErr    *UnknownIdentityError
		infErr   *InferenceError
		reconErr *ReconciliationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &idErr):
		return "unknown_identity"
	case errors.As(err, &infErr):
		return "inference"
	case errors.As(err, &reconErr):
		return "reconciliation"
	default:
		return "internal"
	}
}

// IsClientError reports whether err was caused by the request rather than
// by the models.
func IsClientError(err error) bool {
	switch Kind(err) {
	case "configuration", "unknown_identity":
		return true
	}
	return false
}
