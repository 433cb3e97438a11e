// Package tokenizer is the reference tokenizer feeding the ruler. It splits on
// whitespace and punctuation, records byte offsets into the text, and fills
// the lemma, stop-word and punctuation fields of each token.
package tokenizer

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball"
	"golang.org/x/text/unicode/norm"

	"github.com/turtacn/nerruler/pkg/errors"
	"github.com/turtacn/nerruler/pkg/types/annotation"
)

// DefaultLanguage is the snowball stemmer and stop-word language.
const DefaultLanguage = "french"

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithLanguage selects the stemmer and stop-word list.
func WithLanguage(lang string) Option {
	return func(t *Tokenizer) {
		if lang != "" {
			t.language = strings.ToLower(lang)
		}
	}
}

// WithoutLemma leaves Lemma as the lowercased surface text.
func WithoutLemma() Option {
	return func(t *Tokenizer) { t.lemma = false }
}

// WithoutNFC skips Unicode NFC normalization in Document.
func WithoutNFC() Option {
	return func(t *Tokenizer) { t.nfc = false }
}

// Tokenizer is safe for concurrent use.
type Tokenizer struct {
	language  string
	lemma     bool
	nfc       bool
	stopwords map[string]struct{}

	mu    sync.RWMutex
	stems map[string]string
}

// New builds a tokenizer. An unsupported language is a validation error.
func New(opts ...Option) (*Tokenizer, error) {
	t := &Tokenizer{
		language: DefaultLanguage,
		lemma:    true,
		nfc:      true,
		stems:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	if _, err := snowball.Stem("test", t.language, true); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "unsupported tokenizer language").
			WithDetail("language=" + t.language)
	}
	t.stopwords = stopwordsFor(t.language)
	return t, nil
}

// MustNew is New for package-level defaults; it panics on error.
func MustNew(opts ...Option) *Tokenizer {
	t, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Language returns the configured language.
func (t *Tokenizer) Language() string { return t.language }

// Normalize applies the text normalization used by Document.
func (t *Tokenizer) Normalize(text string) string {
	if !t.nfc {
		return text
	}
	return norm.NFC.String(text)
}

// Document normalizes text and tokenizes it. Offsets refer to the returned
// Document.Text.
func (t *Tokenizer) Document(text string) *annotation.Document {
	text = t.Normalize(text)
	return &annotation.Document{Text: text, Tokens: t.Tokenize(text)}
}

// Tokenize splits text as is. Token offsets are byte offsets into text.
func (t *Tokenizer) Tokenize(text string) []annotation.Token {
	tokens := make([]annotation.Token, 0, len(text)/5+1)
	emit := func(start, end int) {
		tokens = append(tokens, t.token(len(tokens), text, start, end))
	}

	pos := 0
	for pos < len(text) {
		r, size := utf8.DecodeRuneInString(text[pos:])
		if unicode.IsSpace(r) {
			pos += size
			continue
		}
		if isBreak(r) || isJoiner(r) || isApostrophe(r) {
			emit(pos, pos+size)
			pos += size
			continue
		}

		start := pos
		for pos < len(text) {
			r, size = utf8.DecodeRuneInString(text[pos:])
			if unicode.IsSpace(r) {
				break
			}
			if isApostrophe(r) {
				// Elision: "J'utilise" -> "J'", "utilise".
				pos += size
				break
			}
			if isBreak(r) && !numericSeparator(text, start, pos, r, size) {
				break
			}
			pos += size
		}
		emit(start, pos)
	}
	return tokens
}

// Surface tokenizes a pattern surface form into the token texts a phrase
// pattern must match.
func (t *Tokenizer) Surface(form string) []string {
	toks := t.Tokenize(t.Normalize(form))
	out := make([]string, len(toks))
	for i, tok := range toks {
		out[i] = tok.Text
	}
	return out
}

// Preprocess returns the lemmas of the tokens that are neither stop words
// nor punctuation, joined by single spaces.
func (t *Tokenizer) Preprocess(text string) string {
	doc := t.Document(text)
	lemmas := make([]string, 0, len(doc.Tokens))
	for _, tok := range doc.Tokens {
		if tok.IsStop || tok.IsPunct {
			continue
		}
		lemmas = append(lemmas, tok.Lemma)
	}
	return strings.Join(lemmas, " ")
}

func (t *Tokenizer) token(index int, text string, start, end int) annotation.Token {
	surface := text[start:end]
	lower := strings.ToLower(surface)
	tok := annotation.Token{
		Index:     index,
		Text:      surface,
		StartChar: start,
		EndChar:   end,
		IsPunct:   allPunct(surface),
	}
	_, tok.IsStop = t.stopwords[strings.ReplaceAll(lower, "’", "'")]
	switch {
	case tok.IsPunct || !t.lemma:
		tok.Lemma = lower
	default:
		tok.Lemma = t.stem(lower)
	}
	return tok
}

func (t *Tokenizer) stem(word string) string {
	t.mu.RLock()
	cached, ok := t.stems[word]
	t.mu.RUnlock()
	if ok {
		return cached
	}

	stemmed, err := snowball.Stem(word, t.language, true)
	if err != nil || stemmed == "" {
		stemmed = word
	}

	t.mu.Lock()
	t.stems[word] = stemmed
	t.mu.Unlock()
	return stemmed
}

// ---------------------------------------------------------------------------
// Character classes
// ---------------------------------------------------------------------------

func isApostrophe(r rune) bool { return r == '\'' || r == '’' }

// isJoiner reports characters kept inside a word but split when they start
// one, e.g. "Scikit-learn" and "12/05/2023" versus a leading "-".
func isJoiner(r rune) bool {
	switch r {
	case '-', '/', '_', '&', '@', '#':
		return true
	}
	return false
}

// isBreak reports punctuation that always ends a word.
func isBreak(r rune) bool {
	if isJoiner(r) || isApostrophe(r) {
		return false
	}
	return unicode.IsPunct(r)
}

// numericSeparator keeps "3.14" and "1,5" whole: a '.' or ',' between digits.
func numericSeparator(text string, start, pos int, r rune, size int) bool {
	if r != '.' && r != ',' {
		return false
	}
	if pos == start || pos+size >= len(text) {
		return false
	}
	prev, _ := utf8.DecodeLastRuneInString(text[start:pos])
	next, _ := utf8.DecodeRuneInString(text[pos+size:])
	return unicode.IsDigit(prev) && unicode.IsDigit(next)
}

func allPunct(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}
