package synth

import (
	"context"
	"errors"
	"fmt"
)

// SpeakerKind tags the populated form of a SpeakerIdentity.
type SpeakerKind int

const (
	NoSpeaker SpeakerKind = iota
	SpeakerByID
	SpeakerByEmbedding
)

// SpeakerIdentity is the speaker input in the form the model expects. At
// most one of ID and Embedding is meaningful, as selected by Kind.
type SpeakerIdentity struct {
	Kind      SpeakerKind
	ID        int
	Embedding []float32
}

func SpeakerIDIdentity(id int) SpeakerIdentity {
	return SpeakerIdentity{Kind: SpeakerByID, ID: id}
}

func SpeakerEmbeddingIdentity(v []float32) SpeakerIdentity {
	return SpeakerIdentity{Kind: SpeakerByEmbedding, Embedding: v}
}

func (s SpeakerIdentity) String() string {
	switch s.Kind {
	case SpeakerByID:
		return fmt.Sprintf("speaker id %d", s.ID)
	case SpeakerByEmbedding:
		return fmt.Sprintf("speaker embedding [%d]", len(s.Embedding))
	default:
		return "no speaker"
	}
}

// LanguageIdentity is either unset or a discrete language id.
type LanguageIdentity struct {
	Set bool
	ID  int
}

func LanguageIDIdentity(id int) LanguageIdentity { return LanguageIdentity{Set: true, ID: id} }

// ConversionIdentity is the resolved input of a voice conversion request.
type ConversionIdentity struct {
	Source SpeakerIdentity
	Target SpeakerIdentity
}

// Resolver turns selectors into identities for the loaded model. It only
// reads its stores.
type Resolver struct {
	cfg       EngineConfig
	speakers  SpeakerStore
	languages LanguageStore
}

// NewResolver checks that the stores required by cfg are present.
func NewResolver(cfg EngineConfig, speakers SpeakerStore, languages LanguageStore) (*Resolver, error) {
	switch cfg.Speakers {
	case SpeakerIDs, SpeakerDVectors, SpeakerEncoderOnly:
		if speakers == nil {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("speaker mode %s requires a speaker store", cfg.Speakers)}
		}
	}
	if cfg.HasEncoder && speakers == nil {
		return nil, &ConfigurationError{Reason: "a speaker encoder requires a speaker store"}
	}
	if cfg.Languages == LanguageIDs && languages == nil {
		return nil, &ConfigurationError{Reason: "language mode ids requires a language store"}
	}
	return &Resolver{cfg: cfg, speakers: speakers, languages: languages}, nil
}

// ResolveSpeaker validates the selector against the speaker table, then
// lets reference clips override it. A single-speaker model refuses both
// selectors and reference clips with a ConfigurationError.
func (r *Resolver) ResolveSpeaker(ctx context.Context, selector string, clips []string) (SpeakerIdentity, error) {
	if !r.cfg.Speakers.MultiSpeaker() {
		if selector != "" {
			return SpeakerIdentity{}, &ConfigurationError{Reason: "speaker selector supplied but model is single-speaker"}
		}
		if len(clips) > 0 {
			return SpeakerIdentity{}, &ConfigurationError{Reason: "reference clip supplied but model is single-speaker"}
		}
		return SpeakerIdentity{}, nil
	}

	var identity SpeakerIdentity
	if selector != "" {
		var err error
		identity, err = r.lookupSpeaker(selector)
		if err != nil {
			return SpeakerIdentity{}, err
		}
	}
	if len(clips) > 0 {
		return r.clipEmbedding(ctx, clips)
	}
	if selector == "" {
		return SpeakerIdentity{}, &ConfigurationError{Reason: "missing speaker selector"}
	}
	return identity, nil
}

// ResolveLanguage maps a language selector to the form the model expects.
func (r *Resolver) ResolveLanguage(selector string) (LanguageIdentity, error) {
	if r.cfg.Languages == SingleLanguage {
		if selector != "" {
			return LanguageIdentity{}, &ConfigurationError{Reason: "language selector supplied but model is single-language"}
		}
		return LanguageIdentity{}, nil
	}
	if selector == "" {
		return LanguageIdentity{}, &ConfigurationError{Reason: "missing language selector"}
	}
	id, err := r.languages.IDForName(selector)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LanguageIdentity{}, &UnknownIdentityError{Kind: "language", Name: selector}
		}
		return LanguageIdentity{}, fmt.Errorf("lookup language %q: %w", selector, err)
	}
	return LanguageIDIdentity(id), nil
}

// ResolveConversion resolves the source and target speakers of a voice
// conversion. A target selector or a reference clip is required, and a
// source selector is required when there is no clip. With an encoder, the
// clip embedding replaces the source identity and stands in for a missing
// target.
func (r *Resolver) ResolveConversion(ctx context.Context, source, target string, clips []string) (ConversionIdentity, error) {
	switch r.cfg.Speakers {
	case SingleSpeaker:
		return ConversionIdentity{}, &ConfigurationError{Reason: "voice conversion requires a multi-speaker model"}
	case SpeakerEncoderOnly:
		return ConversionIdentity{}, &ConfigurationError{Reason: "voice conversion requires a speaker table"}
	}
	if target == "" && len(clips) == 0 {
		return ConversionIdentity{}, &ConfigurationError{Reason: "missing speaker selector"}
	}
	if source == "" && len(clips) == 0 {
		return ConversionIdentity{}, &ConfigurationError{Reason: "missing source speaker selector"}
	}

	var out ConversionIdentity
	var err error
	if source != "" {
		if out.Source, err = r.lookupSpeaker(source); err != nil {
			return ConversionIdentity{}, err
		}
	}
	if target != "" {
		if out.Target, err = r.lookupSpeaker(target); err != nil {
			return ConversionIdentity{}, err
		}
	}
	if len(clips) == 0 {
		return out, nil
	}
	if !r.cfg.HasEncoder {
		if target == "" {
			return ConversionIdentity{}, &ConfigurationError{Reason: "missing speaker selector"}
		}
		return out, nil
	}
	emb, err := r.clipEmbedding(ctx, clips)
	if err != nil {
		return ConversionIdentity{}, err
	}
	out.Source = emb
	if target == "" {
		out.Target = emb
	}
	return out, nil
}

func (r *Resolver) lookupSpeaker(name string) (SpeakerIdentity, error) {
	switch r.cfg.Speakers {
	case SpeakerIDs:
		id, err := r.speakers.IDForName(name)
		if err != nil {
			return SpeakerIdentity{}, speakerLookupError(name, err)
		}
		return SpeakerIDIdentity(id), nil
	case SpeakerDVectors:
		v, err := r.speakers.EmbeddingForName(name)
		if err != nil {
			return SpeakerIdentity{}, speakerLookupError(name, err)
		}
		return SpeakerEmbeddingIdentity(v), nil
	default:
		// encoder-only models have no table of names
		return SpeakerIdentity{}, &UnknownIdentityError{Kind: "speaker", Name: name}
	}
}

func speakerLookupError(name string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return &UnknownIdentityError{Kind: "speaker", Name: name}
	}
	return fmt.Errorf("lookup speaker %q: %w", name, err)
}

func (r *Resolver) clipEmbedding(ctx context.Context, clips []string) (SpeakerIdentity, error) {
	if !r.cfg.HasEncoder {
		return SpeakerIdentity{}, &ConfigurationError{Reason: "reference clip supplied but no speaker encoder is attached"}
	}
	v, err := r.speakers.EmbeddingFromClip(ctx, clips, r.cfg.Device)
	if err != nil {
		return SpeakerIdentity{}, &InferenceError{Stage: StageSpeakerEncoder, Segment: -1, Err: err}
	}
	if len(v) == 0 {
		return SpeakerIdentity{}, &InferenceError{Stage: StageSpeakerEncoder, Segment: -1, Err: errors.New("empty embedding")}
	}
	return SpeakerEmbeddingIdentity(v), nil
}
