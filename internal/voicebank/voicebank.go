// Package voicebank holds the speaker and language tables a multi-speaker
// model was trained with, and computes speaker embeddings from reference
// clips.
package voicebank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/synth"
)

// Encoder computes a speaker embedding from mono samples.
type Encoder interface {
	SampleRate() int
	Embed(ctx context.Context, samples []float32, device synth.Device) ([]float32, error)
}

// Speakers implements synth.SpeakerStore.
type Speakers struct {
	ids      map[string]int
	dvectors map[string][]float32
	encoder  Encoder
}

func NewSpeakers(ids map[string]int, dvectors map[string][]float32, encoder Encoder) *Speakers {
	if ids == nil {
		ids = map[string]int{}
	}
	if dvectors == nil {
		dvectors = map[string][]float32{}
	}
	return &Speakers{ids: ids, dvectors: dvectors, encoder: encoder}
}

// LoadSpeakers reads the speaker id table and the d-vector file. Either
// path may be empty.
func LoadSpeakers(speakersFile, dvectorFile string, encoder Encoder) (*Speakers, error) {
	var ids map[string]int
	if speakersFile != "" {
		var err error
		if ids, err = LoadIDTable(speakersFile); err != nil {
			return nil, fmt.Errorf("speakers file: %w", err)
		}
	}
	var dvectors map[string][]float32
	if dvectorFile != "" {
		var err error
		if dvectors, err = LoadDVectors(dvectorFile); err != nil {
			return nil, fmt.Errorf("d-vector file: %w", err)
		}
	}
	return NewSpeakers(ids, dvectors, encoder), nil
}

func (s *Speakers) IDForName(name string) (int, error) {
	id, ok := s.ids[name]
	if !ok {
		return 0, fmt.Errorf("speaker %q: %w", name, synth.ErrNotFound)
	}
	return id, nil
}

func (s *Speakers) EmbeddingForName(name string) ([]float32, error) {
	v, ok := s.dvectors[name]
	if !ok {
		return nil, fmt.Errorf("speaker %q: %w", name, synth.ErrNotFound)
	}
	return append([]float32(nil), v...), nil
}

// EmbeddingFromClip embeds every clip and returns the mean embedding.
func (s *Speakers) EmbeddingFromClip(ctx context.Context, clips []string, device synth.Device) ([]float32, error) {
	if s.encoder == nil {
		return nil, errors.New("no speaker encoder attached")
	}
	if len(clips) == 0 {
		return nil, errors.New("no reference clips")
	}
	var sum []float32
	for _, clip := range clips {
		samples, _, err := audio.LoadWAV(clip, s.encoder.SampleRate())
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", clip, err)
		}
		emb, err := s.encoder.Embed(ctx, samples, device)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", clip, err)
		}
		if sum == nil {
			sum = make([]float32, len(emb))
		}
		if len(emb) != len(sum) {
			return nil, fmt.Errorf("embed %s: dimension %d, want %d", clip, len(emb), len(sum))
		}
		for i, v := range emb {
			sum[i] += v
		}
	}
	n := float32(len(clips))
	for i := range sum {
		sum[i] /= n
	}
	return sum, nil
}

// Names lists every named speaker, sorted.
func (s *Speakers) Names() []string {
	seen := make(map[string]struct{}, len(s.ids)+len(s.dvectors))
	for name := range s.ids {
		seen[name] = struct{}{}
	}
	for name := range s.dvectors {
		seen[name] = struct{}{}
	}
	return sortedKeys(seen)
}

func (s *Speakers) HasEncoder() bool { return s.encoder != nil }

// Languages implements synth.LanguageStore.
type Languages struct {
	ids map[string]int
}

func NewLanguages(ids map[string]int) *Languages {
	if ids == nil {
		ids = map[string]int{}
	}
	return &Languages{ids: ids}
}

func LoadLanguages(path string) (*Languages, error) {
	ids, err := LoadIDTable(path)
	if err != nil {
		return nil, fmt.Errorf("language ids file: %w", err)
	}
	return NewLanguages(ids), nil
}

func (l *Languages) IDForName(name string) (int, error) {
	id, ok := l.ids[name]
	if !ok {
		return 0, fmt.Errorf("language %q: %w", name, synth.ErrNotFound)
	}
	return id, nil
}

func (l *Languages) Names() []string {
	seen := make(map[string]struct{}, len(l.ids))
	for name := range l.ids {
		seen[name] = struct{}{}
	}
	return sortedKeys(seen)
}

// LoadIDTable reads a {"name": id} JSON object.
func LoadIDTable(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ids map[string]int
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return ids, nil
}

type dvectorEntry struct {
	Name      string    `json:"name"`
	Embedding []float32 `json:"embedding"`
}

// LoadDVectors reads a {"clip": {"name": speaker, "embedding": [...]}}
// file. Clips are visited in key order and the first embedding of each
// speaker wins.
func LoadDVectors(path string) (map[string][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var clips map[string]dvectorEntry
	if err := json.Unmarshal(data, &clips); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	keys := make([]string, 0, len(clips))
	for k := range clips {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string][]float32)
	dim := -1
	for _, k := range keys {
		entry := clips[k]
		if entry.Name == "" || len(entry.Embedding) == 0 {
			return nil, fmt.Errorf("clip %q: missing name or embedding", k)
		}
		if dim < 0 {
			dim = len(entry.Embedding)
		} else if len(entry.Embedding) != dim {
			return nil, fmt.Errorf("clip %q: embedding dimension %d, want %d", k, len(entry.Embedding), dim)
		}
		if _, ok := out[entry.Name]; !ok {
			out[entry.Name] = entry.Embedding
		}
	}
	return out, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
