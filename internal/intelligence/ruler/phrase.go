package ruler

import (
	"github.com/turtacn/nerruler/pkg/types/annotation"
)

// PhraseMatcher emits every phrase-pattern occurrence in a document. It does
// no resolution: nested and overlapping matches are all returned.
type PhraseMatcher struct {
	store *Store
}

// NewPhraseMatcher binds a matcher to a store.
func NewPhraseMatcher(store *Store) *PhraseMatcher {
	return &PhraseMatcher{store: store}
}

// Match returns phrase spans ordered by start position, then by pattern
// insertion order. Work is proportional to the number of tokens times the
// number of patterns sharing each token's first-token key.
func (m *PhraseMatcher) Match(doc *annotation.Document) []annotation.Span {
	if m.store == nil || doc.IsEmpty() || len(m.store.phrases) == 0 {
		return []annotation.Span{}
	}

	fold := newFolder(m.store.caseInsensitive)
	keys := make([]string, len(doc.Tokens))
	for i, tok := range doc.Tokens {
		keys[i] = fold(tok.Text)
	}

	spans := make([]annotation.Span, 0)
	for i := range keys {
		for _, p := range m.store.candidates(keys[i]) {
			pattern := m.store.keys[p]
			end := i + len(pattern)
			if end > len(keys) || !equalTokens(keys[i:end], pattern) {
				continue
			}
			spans = append(spans, annotation.Span{
				Start:  i,
				End:    end,
				Label:  m.store.phrases[p].Label,
				Source: annotation.SourcePhrase,
			})
		}
	}
	return spans
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
