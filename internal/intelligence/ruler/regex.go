package ruler

import (
	"sort"

	"github.com/turtacn/nerruler/pkg/types/annotation"
)

// AlignmentWarning records a regex match that could not be mapped onto token
// boundaries. The match is dropped; matching continues.
type AlignmentWarning struct {
	Label     string `json:"label"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Text      string `json:"text"`
}

// RegexResult is the output of RegexMatcher.Match.
type RegexResult struct {
	Spans    []annotation.Span
	Warnings []AlignmentWarning
}

// RegexMatcher finds regex matches in raw text and converts them to token
// spans.
type RegexMatcher struct {
	store *Store
}

// NewRegexMatcher binds a matcher to a store.
func NewRegexMatcher(store *Store) *RegexMatcher {
	return &RegexMatcher{store: store}
}

// Match runs every regex pattern over doc.Text with leftmost, non-overlapping
// semantics per pattern. Spans are ordered by pattern, then by position.
// Zero-width matches are ignored.
func (m *RegexMatcher) Match(doc *annotation.Document) RegexResult {
	res := RegexResult{Spans: []annotation.Span{}}
	if m.store == nil || doc.IsEmpty() {
		return res
	}

	for _, p := range m.store.regexes {
		for _, loc := range p.Expr.FindAllStringIndex(doc.Text, -1) {
			cs, ce := loc[0], loc[1]
			if cs == ce {
				continue
			}
			start, end, ok := alignCharSpan(doc.Tokens, cs, ce)
			if !ok {
				res.Warnings = append(res.Warnings, AlignmentWarning{
					Label:     p.Label,
					StartChar: cs,
					EndChar:   ce,
					Text:      doc.Text[cs:ce],
				})
				continue
			}
			res.Spans = append(res.Spans, annotation.Span{
				Start:  start,
				End:    end,
				Label:  p.Label,
				Source: annotation.SourceRegex,
			})
		}
	}
	return res
}

// FindAll returns the raw substrings of text matched by the regex patterns
// carrying label, in pattern order.
func (m *RegexMatcher) FindAll(label, text string) []string {
	out := []string{}
	if m.store == nil {
		return out
	}
	for _, p := range m.store.regexes {
		if p.Label == label {
			out = append(out, p.Expr.FindAllString(text, -1)...)
		}
	}
	return out
}

// alignCharSpan maps the character range [cs, ce) to the smallest token range
// covering it. The start token must contain cs and the end token must
// contain ce-1; a match that begins or ends inside a token is widened to the
// whole token. Tokens must be ordered and non-overlapping.
func alignCharSpan(tokens []annotation.Token, cs, ce int) (start, end int, ok bool) {
	if cs >= ce || len(tokens) == 0 {
		return 0, 0, false
	}

	// first token with StartChar <= cs < EndChar
	i := sort.Search(len(tokens), func(k int) bool { return tokens[k].EndChar > cs })
	if i == len(tokens) || tokens[i].StartChar > cs {
		return 0, 0, false
	}

	// last token with StartChar < ce <= EndChar
	j := sort.Search(len(tokens), func(k int) bool { return tokens[k].EndChar >= ce })
	if j == len(tokens) || tokens[j].StartChar >= ce {
		return 0, 0, false
	}

	if j < i {
		return 0, 0, false
	}
	return i, j + 1, true
}
