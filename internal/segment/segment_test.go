package segment

import (
	"reflect"
	"testing"
)

func TestPunctuationSegment(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"Hello world.", []string{"Hello world."}},
		{"One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"no terminator", []string{"no terminator"}},
		{"Wait... what", []string{"Wait...", "what"}},
		{"你好。今天天气不错！", []string{"你好。", "今天天气不错！"}},
		{"line one\nline two", []string{"line one", "line two"}},
		{"... hello there.", []string{"... hello there."}},
		{"!Hola. Adiós.", []string{"!Hola.", "Adiós."}},
		{"...", []string{"..."}},
	}
	for _, tc := range cases {
		got := Punctuation{}.Segment(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Segment(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPunktSegment(t *testing.T) {
	p, err := NewPunkt()
	if err != nil {
		t.Fatalf("NewPunkt: %v", err)
	}
	got := p.Segment("Hello world. How are you today? I am fine.")
	want := []string{"Hello world.", "How are you today?", "I am fine."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Segment = %q, want %q", got, want)
	}
	if got := p.Segment("Hello world."); len(got) != 1 {
		t.Fatalf("expected one sentence, got %q", got)
	}
	if got := p.Segment("  "); len(got) != 0 {
		t.Fatalf("expected no sentences, got %q", got)
	}
}

func TestForLanguage(t *testing.T) {
	seg, err := ForLanguage("en")
	if err != nil {
		t.Fatalf("ForLanguage(en): %v", err)
	}
	if _, ok := seg.(*Punkt); !ok {
		t.Fatalf("expected punkt for english, got %T", seg)
	}
	seg, err = ForLanguage("zh")
	if err != nil {
		t.Fatalf("ForLanguage(zh): %v", err)
	}
	if _, ok := seg.(Punctuation); !ok {
		t.Fatalf("expected punctuation splitter, got %T", seg)
	}
}
