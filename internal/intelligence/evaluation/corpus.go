package evaluation

// Combine pools per-document results into one corpus result. Counts and
// support are summed per label before scores are recomputed, so a span in
// one document never matches a span in another. Nil results are skipped.
func Combine(results ...*Result) *Result {
	perLabel := make(map[string]*LabelScore)
	support := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		support += r.Micro.Support
		for _, ls := range r.Labels {
			acc, ok := perLabel[ls.Label]
			if !ok {
				acc = &LabelScore{Label: ls.Label}
				perLabel[ls.Label] = acc
			}
			acc.Counts = acc.Counts.add(ls.Counts)
			acc.Support += ls.Support
		}
	}
	return finalize(perLabel, support)
}
