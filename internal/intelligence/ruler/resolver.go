package ruler

import (
	"sort"

	"github.com/turtacn/nerruler/pkg/types/annotation"
)

// Resolve merges phrase and regex candidates into a list sorted by start
// and pairwise non-overlapping.
//
// Candidates are ordered by start ascending, then length descending, then
// phrase before regex, then discovery order (phrase list first, each list in
// the order given). A left-to-right sweep then keeps every candidate that
// starts at or after the end of the last kept span. Identical duplicates
// collapse because the second copy always overlaps the first.
func Resolve(phrase, regex []annotation.Span) []annotation.Span {
	all := make([]annotation.Span, 0, len(phrase)+len(regex))
	all = append(all, phrase...)
	all = append(all, regex...)
	if len(all) == 0 {
		return []annotation.Span{}
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		return sourcePriority(a.Source) < sourcePriority(b.Source)
	})

	out := make([]annotation.Span, 0, len(all))
	for _, cand := range all {
		if cand.End <= cand.Start {
			continue
		}
		if len(out) > 0 && cand.Start < out[len(out)-1].End {
			continue
		}
		out = append(out, cand)
	}
	return out
}

// sourcePriority ranks curated phrases above generic regex shapes.
func sourcePriority(s annotation.Source) int {
	switch s {
	case annotation.SourcePhrase:
		return 0
	case annotation.SourceRegex:
		return 1
	default:
		return 2
	}
}
