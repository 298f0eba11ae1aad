package store

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer turns text into case-folded terms for BM25.
//
// Text is split on every rune that is not a letter, mark or digit. Runs of
// Hangul, Han, Hiragana or Katakana inside a word are emitted as overlapping
// bigrams, so "복식호흡의" yields ["복식", "식호", "호흡", "흡의"] and a query
// for "호흡" matches without a morphological analyzer. Everything else is
// emitted as whole lowercased words.
type Tokenizer struct {
	stopWords map[string]struct{}
	minLen    int
}

// NewTokenizer creates a tokenizer from BM25 settings.
func NewTokenizer(cfg BM25Config) *Tokenizer {
	minLen := cfg.MinTokenLength
	if minLen < 1 {
		minLen = 1
	}
	return &Tokenizer{
		stopWords: BuildStopWordMap(cfg.StopWords),
		minLen:    minLen,
	}
}

var defaultTokenizer = NewTokenizer(DefaultBM25Config())

// Tokenize splits text with the default settings (no stop words, no minimum length).
func Tokenize(text string) []string {
	return defaultTokenizer.Tokenize(text)
}

// Tokenize splits text into terms in document order. Duplicates are kept;
// term frequency matters to BM25.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	emit := func(tok string) {
		if utf8.RuneCountInString(tok) < t.minLen {
			return
		}
		if _, stop := t.stopWords[tok]; stop {
			return
		}
		tokens = append(tokens, tok)
	}

	var run []rune
	runCJK := false
	flush := func() {
		if len(run) == 0 {
			return
		}
		if runCJK {
			for _, tok := range bigrams(run) {
				emit(tok)
			}
		} else {
			emit(string(run))
		}
		run = run[:0]
	}

	for _, r := range text {
		if !isWordRune(r) {
			flush()
			continue
		}
		cjk := isCJK(r)
		if len(run) > 0 && cjk != runCJK {
			flush()
		}
		runCJK = cjk
		run = append(run, unicode.ToLower(r))
	}
	flush()

	return tokens
}

func bigrams(run []rune) []string {
	if len(run) == 1 {
		return []string{string(run)}
	}
	out := make([]string, 0, len(run)-1)
	for i := 0; i+1 < len(run); i++ {
		out = append(out, string(run[i:i+2]))
	}
	return out
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Hangul, unicode.Han, unicode.Hiragana, unicode.Katakana)
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
