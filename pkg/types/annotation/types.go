// Package annotation defines the value types exchanged between the tokenizer,
// the matchers, the resolver and the evaluator.
//
// Character offsets are byte offsets into Document.Text, half-open
// [StartChar, EndChar). Span boundaries are token indices, half-open
// [Start, End).
package annotation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Source identifies which matcher produced a span.
type Source int

const (
	SourcePhrase Source = iota
	SourceRegex
)

func (s Source) String() string {
	switch s {
	case SourcePhrase:
		return "PHRASE"
	case SourceRegex:
		return "REGEX"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// ParseSource is the inverse of String. Matching is case-insensitive.
func ParseSource(s string) (Source, error) {
	switch strings.ToUpper(s) {
	case "PHRASE":
		return SourcePhrase, nil
	case "REGEX":
		return SourceRegex, nil
	default:
		return 0, fmt.Errorf("unknown span source %q", s)
	}
}

// MarshalJSON encodes the source by name.
func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a source name.
func (s *Source) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseSource(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Token is one unit of the external tokenizer's output.
type Token struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Lemma     string `json:"lemma,omitempty"`
	IsStop    bool   `json:"is_stop,omitempty"`
	IsPunct   bool   `json:"is_punct,omitempty"`
}

// Span is a labelled half-open token range.
type Span struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Label  string `json:"label"`
	Source Source `json:"source"`
}

// Len returns the number of tokens covered.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether the two spans share at least one token.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Check verifies End > Start and that the span lies inside a document of
// nTokens tokens. A negative nTokens skips the upper bound check.
func (s Span) Check(nTokens int) error {
	if s.Start < 0 {
		return fmt.Errorf("span %v: negative start", s)
	}
	if s.End <= s.Start {
		return fmt.Errorf("span %v: end must be greater than start", s)
	}
	if nTokens >= 0 && s.End > nTokens {
		return fmt.Errorf("span %v: end exceeds token count %d", s, nTokens)
	}
	return nil
}

func (s Span) String() string {
	return fmt.Sprintf("(%d,%d,%s)", s.Start, s.End, s.Label)
}

// Document is the read-only input to matching.
type Document struct {
	Text   string  `json:"text"`
	Tokens []Token `json:"tokens"`
}

// IsEmpty reports whether there is nothing to match against.
func (d *Document) IsEmpty() bool {
	return d == nil || d.Text == "" || len(d.Tokens) == 0
}

// Validate checks the tokenizer contract: indices equal positions, offsets
// lie inside Text, and tokens are ordered and non-overlapping.
func (d *Document) Validate() error {
	prevEnd := 0
	for i, tok := range d.Tokens {
		if tok.Index != i {
			return fmt.Errorf("token %d has index %d", i, tok.Index)
		}
		if tok.StartChar < 0 || tok.EndChar < tok.StartChar || tok.EndChar > len(d.Text) {
			return fmt.Errorf("token %d offsets [%d,%d) outside text of length %d",
				i, tok.StartChar, tok.EndChar, len(d.Text))
		}
		if tok.StartChar < prevEnd {
			return fmt.Errorf("token %d overlaps previous token", i)
		}
		prevEnd = tok.EndChar
	}
	return nil
}

// SpanText projects a span back onto the original text:
// Text[Tokens[Start].StartChar : Tokens[End-1].EndChar].
func (d *Document) SpanText(s Span) (string, error) {
	if err := s.Check(len(d.Tokens)); err != nil {
		return "", err
	}
	from, to := d.Tokens[s.Start].StartChar, d.Tokens[s.End-1].EndChar
	if from < 0 || to > len(d.Text) || from > to {
		return "", fmt.Errorf("span %v: char range [%d,%d) outside text", s, from, to)
	}
	return d.Text[from:to], nil
}

// Entity is the consumer-facing view of a resolved span.
type Entity struct {
	Text      string `json:"text"`
	Label     string `json:"label"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Source    Source `json:"source"`
}

// Entities renders every span with its covered text. Spans that cannot be
// projected are skipped.
func (d *Document) Entities(spans []Span) []Entity {
	out := make([]Entity, 0, len(spans))
	for _, s := range spans {
		text, err := d.SpanText(s)
		if err != nil {
			continue
		}
		out = append(out, Entity{
			Text:      text,
			Label:     s.Label,
			Start:     s.Start,
			End:       s.End,
			StartChar: d.Tokens[s.Start].StartChar,
			EndChar:   d.Tokens[s.End-1].EndChar,
			Source:    s.Source,
		})
	}
	return out
}

// IsResolved reports whether spans are sorted by Start and pairwise
// non-overlapping.
func IsResolved(spans []Span) bool {
	for i := 1; i < len(spans); i++ {
		if spans[i-1].End > spans[i].Start {
			return false
		}
	}
	return true
}
