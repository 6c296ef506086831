// Package segment splits input text into sentences for per-sentence
// synthesis.
package segment

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

// Punkt segments English text with the punkt sentence tokenizer, which
// knows about abbreviations and initials.
type Punkt struct {
	tokenizer *sentences.DefaultSentenceTokenizer
}

func NewPunkt() (*Punkt, error) {
	tokenizer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("load punkt model: %w", err)
	}
	return &Punkt{tokenizer: tokenizer}, nil
}

func (p *Punkt) Segment(text string) []string {
	var out []string
	for _, s := range p.tokenizer.Tokenize(text) {
		if trimmed := strings.TrimSpace(s.Text); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Punctuation splits after sentence-ending punctuation, including the CJK
// full-width forms and newlines. Text after the last terminator becomes a
// final sentence, and terminators before the first sentence open it.
type Punctuation struct{}

var sentenceEnders = []rune{'。', '！', '？', '；', '.', '!', '?', '\n'}

func (Punctuation) Segment(text string) []string {
	var out []string
	var lead string // terminators seen before the first sentence
	remaining := text
	for {
		sentence, rest, found := extractSentence(remaining)
		if !found {
			if r := strings.TrimSpace(lead + remaining); r != "" {
				out = append(out, r)
			}
			return out
		}
		switch s := strings.TrimSpace(sentence); {
		case s == "":
			if lead != "" {
				lead += sentence
			}
		case !onlyPunctuation(s):
			out = append(out, strings.TrimSpace(lead+sentence))
			lead = ""
		case len(out) > 0:
			// stray terminators like "..." stay attached to the previous sentence
			out[len(out)-1] += s
		default:
			lead += sentence
		}
		remaining = rest
	}
}

func extractSentence(text string) (string, string, bool) {
	for i, r := range text {
		for _, ender := range sentenceEnders {
			if r == ender {
				splitAt := i + utf8.RuneLen(r)
				return text[:splitAt], text[splitAt:], true
			}
		}
	}
	return "", text, false
}

func onlyPunctuation(s string) bool {
	for _, r := range s {
		isEnder := false
		for _, ender := range sentenceEnders {
			if r == ender {
				isEnder = true
				break
			}
		}
		if !isEnder {
			return false
		}
	}
	return true
}

// Segmenter is what the synthesis engine consumes.
type Segmenter interface {
	Segment(text string) []string
}

// ForLanguage picks punkt for English and the punctuation splitter for
// everything else.
func ForLanguage(lang string) (Segmenter, error) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "en", "en-us", "en-gb", "english":
		return NewPunkt()
	default:
		return Punctuation{}, nil
	}
}
