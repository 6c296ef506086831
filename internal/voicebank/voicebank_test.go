package voicebank

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/synth"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadSpeakers(t *testing.T) {
	dir := t.TempDir()
	speakers := writeFile(t, dir, "speakers.json", `{"alice": 0, "bob": 1}`)
	dvectors := writeFile(t, dir, "speakers_dvec.json", `{
		"b_clip2.wav": {"name": "bob", "embedding": [9, 9]},
		"a_clip.wav": {"name": "alice", "embedding": [1, 2]},
		"b_clip1.wav": {"name": "bob", "embedding": [3, 4]}
	}`)

	s, err := LoadSpeakers(speakers, dvectors, nil)
	if err != nil {
		t.Fatalf("LoadSpeakers: %v", err)
	}
	id, err := s.IDForName("bob")
	if err != nil || id != 1 {
		t.Fatalf("IDForName(bob) = %d, %v", id, err)
	}
	if _, err := s.IDForName("carol"); !errors.Is(err, synth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	emb, err := s.EmbeddingForName("bob")
	if err != nil {
		t.Fatalf("EmbeddingForName: %v", err)
	}
	if !reflect.DeepEqual(emb, []float32{3, 4}) {
		t.Fatalf("expected first clip in key order, got %v", emb)
	}
	if _, err := s.EmbeddingForName("carol"); !errors.Is(err, synth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := s.Names(); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Fatalf("Names = %v", got)
	}
}

func TestLoadDVectorsRejectsMixedDimensions(t *testing.T) {
	path := writeFile(t, t.TempDir(), "d.json", `{"a": {"name": "x", "embedding": [1]}, "b": {"name": "y", "embedding": [1, 2]}}`)
	if _, err := LoadDVectors(path); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestLanguages(t *testing.T) {
	path := writeFile(t, t.TempDir(), "language_ids.json", `{"en": 0, "fr-fr": 1}`)
	l, err := LoadLanguages(path)
	if err != nil {
		t.Fatalf("LoadLanguages: %v", err)
	}
	if id, err := l.IDForName("fr-fr"); err != nil || id != 1 {
		t.Fatalf("IDForName(fr-fr) = %d, %v", id, err)
	}
	if _, err := l.IDForName("de"); !errors.Is(err, synth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := l.Names(); !reflect.DeepEqual(got, []string{"en", "fr-fr"}) {
		t.Fatalf("Names = %v", got)
	}
}

type lengthEncoder struct{ calls int }

func (e *lengthEncoder) SampleRate() int { return 16000 }

func (e *lengthEncoder) Embed(ctx context.Context, samples []float32, device synth.Device) ([]float32, error) {
	e.calls++
	return []float32{float32(len(samples)), 1}, nil
}

func TestEmbeddingFromClipAverages(t *testing.T) {
	dir := t.TempDir()
	short := filepath.Join(dir, "short.wav")
	long := filepath.Join(dir, "long.wav")
	if err := audio.SaveWAV(short, make([]float32, 100), 16000); err != nil {
		t.Fatal(err)
	}
	if err := audio.SaveWAV(long, make([]float32, 300), 16000); err != nil {
		t.Fatal(err)
	}
	enc := &lengthEncoder{}
	s := NewSpeakers(nil, nil, enc)
	emb, err := s.EmbeddingFromClip(context.Background(), []string{short, long}, synth.CPU())
	if err != nil {
		t.Fatalf("EmbeddingFromClip: %v", err)
	}
	if !reflect.DeepEqual(emb, []float32{200, 1}) {
		t.Fatalf("expected mean embedding [200 1], got %v", emb)
	}
	if enc.calls != 2 {
		t.Fatalf("expected two encoder calls, got %d", enc.calls)
	}
}

func TestEmbeddingFromClipWithoutEncoder(t *testing.T) {
	s := NewSpeakers(nil, nil, nil)
	if _, err := s.EmbeddingFromClip(context.Background(), []string{"x.wav"}, synth.CPU()); err == nil {
		t.Fatal("expected error without encoder")
	}
}
