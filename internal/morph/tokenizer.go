// Package morph normalizes Russian text for lexical indexing and querying.
// The same pipeline serves both paths: BM25 scores are only meaningful when
// documents and queries are tokenized identically.
package morph

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/snowballstem"
	"github.com/blevesearch/snowballstem/russian"
)

// Special tokens preserved verbatim through the pipeline.
const (
	TokenDate   = "DATE"
	TokenNumber = "NUMBER"
)

var (
	isoDateRe    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	ruDateRe     = regexp.MustCompile(`\b\d{2}\.\d{2}\.\d{4}\b`)
	numberRe     = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	yearRe       = regexp.MustCompile(`^(19|20)\d{2}$`)
	wordRe       = regexp.MustCompile(`[\p{L}\p{N}_-]+`)
	fourDigitsRe = regexp.MustCompile(`^\d{4}$`)
)

// Tokenizer lemmatizes and stop-word-filters Russian text, preserving
// dates, numerics, and 4-digit years as stable special tokens.
type Tokenizer struct {
	stopWords map[string]struct{}
}

// NewTokenizer creates a tokenizer with the default Russian stop-word set.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{stopWords: defaultStopWords()}
}

// Tokenize normalizes text into an ordered token list:
// lowercase, date and number folding, word split (hyphens kept), short-token
// and stop-word filtering, lemmatization.
func (t *Tokenizer) Tokenize(text string) []string {
	lowered := strings.ToLower(text)

	lowered = isoDateRe.ReplaceAllString(lowered, TokenDate)
	lowered = ruDateRe.ReplaceAllString(lowered, TokenDate)
	lowered = numberRe.ReplaceAllStringFunc(lowered, func(m string) string {
		// 4-digit years stay literal so "приказ 2024 года" remains searchable.
		if fourDigitsRe.MatchString(m) && yearRe.MatchString(m) {
			return m
		}
		return TokenNumber
	})

	words := wordRe.FindAllString(lowered, -1)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		runes := []rune(word)
		if len(runes) < 2 {
			continue
		}

		// Case-insensitive so special tokens survive a re-tokenize of
		// already tokenized text.
		if upper := strings.ToUpper(word); upper == TokenDate || upper == TokenNumber {
			tokens = append(tokens, upper)
			continue
		}
		if yearRe.MatchString(word) {
			tokens = append(tokens, word)
			continue
		}

		if strings.Contains(word, "-") && len(runes) > 3 {
			for _, part := range strings.Split(word, "-") {
				if len([]rune(part)) < 2 {
					continue
				}
				if lemma, ok := t.normalize(part); ok {
					tokens = append(tokens, lemma)
				}
			}
			continue
		}

		if lemma, ok := t.normalize(word); ok {
			tokens = append(tokens, lemma)
		}
	}

	return tokens
}

// normalize lemmatizes a single word and applies the stop-word and
// pure-digit filters. The surface form is checked against the stop set
// before stemming because the set holds inflected surface forms.
func (t *Tokenizer) normalize(word string) (string, bool) {
	if _, stop := t.stopWords[word]; stop {
		return "", false
	}
	lemma := Lemmatize(word)
	if _, stop := t.stopWords[lemma]; stop {
		return "", false
	}
	if isAllDigits(lemma) {
		return "", false
	}
	return lemma, true
}

// Lemmatize reduces a word to its normal form via the Snowball Russian
// stemmer. Non-Cyrillic words pass through unchanged apart from casing
// already applied by the caller.
func Lemmatize(word string) string {
	env := snowballstem.NewEnv(word)
	russian.Stem(env)
	return env.Current()
}

// IsPreserved reports whether a token passes the pipeline verbatim.
func IsPreserved(token string) bool {
	return token == TokenDate || token == TokenNumber || yearRe.MatchString(token)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
