// Package evaluation scores predicted entity spans against a gold standard.
//
// Spans are compared as a set of (start, end, label) triples: duplicates in
// either list count once. A prediction is a true positive only on an exact
// boundary and label match.
package evaluation

import (
	"fmt"
	"sort"

	"github.com/turtacn/nerruler/pkg/errors"
	"github.com/turtacn/nerruler/pkg/types/annotation"
)

// Counts is the confusion tally for one label or for the micro aggregate.
type Counts struct {
	TruePositives  int `json:"tp"`
	FalsePositives int `json:"fp"`
	FalseNegatives int `json:"fn"`
}

// Precision = TP / (TP + FP), 0 when undefined.
func (c Counts) Precision() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalsePositives)
}

// Recall = TP / (TP + FN), 0 when undefined.
func (c Counts) Recall() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall, 0 when both are 0.
func (c Counts) F1() float64 {
	return harmonic(c.Precision(), c.Recall())
}

func (c Counts) add(o Counts) Counts {
	return Counts{
		TruePositives:  c.TruePositives + o.TruePositives,
		FalsePositives: c.FalsePositives + o.FalsePositives,
		FalseNegatives: c.FalseNegatives + o.FalseNegatives,
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func harmonic(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// LabelScore holds the scores of one label. Support is the number of
// distinct gold spans carrying the label.
type LabelScore struct {
	Label     string  `json:"label"`
	Counts    Counts  `json:"counts"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Average is an aggregate row.
type Average struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Result is the output of Evaluate. Labels are sorted by name and cover every
// label seen in gold or predicted.
type Result struct {
	Labels []LabelScore `json:"labels"`
	Counts Counts       `json:"counts"`
	Micro  Average      `json:"micro_avg"`
	Macro  Average      `json:"macro_avg"`
}

// Label returns the score of one label.
func (r *Result) Label(name string) (LabelScore, bool) {
	for _, ls := range r.Labels {
		if ls.Label == name {
			return ls, true
		}
	}
	return LabelScore{}, false
}

// F1ByLabel maps every label to its F1.
func (r *Result) F1ByLabel() map[string]float64 {
	out := make(map[string]float64, len(r.Labels))
	for _, ls := range r.Labels {
		out[ls.Label] = ls.F1
	}
	return out
}

type triple struct {
	start, end int
	label      string
}

// Evaluate compares predicted against gold. nTokens bounds span indices; pass
// a negative value when the document length is unknown. Any span with
// end <= start, a negative start, an end past nTokens or an empty label
// fails the whole evaluation with a MalformedEvaluationInput error.
func Evaluate(predicted, gold []annotation.Span, nTokens int) (*Result, error) {
	predSet, err := toSet("predicted", predicted, nTokens)
	if err != nil {
		return nil, err
	}
	goldSet, err := toSet("gold", gold, nTokens)
	if err != nil {
		return nil, err
	}

	perLabel := make(map[string]*LabelScore)
	entry := func(label string) *LabelScore {
		ls, ok := perLabel[label]
		if !ok {
			ls = &LabelScore{Label: label}
			perLabel[label] = ls
		}
		return ls
	}

	for t := range predSet {
		ls := entry(t.label)
		if _, ok := goldSet[t]; ok {
			ls.Counts.TruePositives++
		} else {
			ls.Counts.FalsePositives++
		}
	}
	for t := range goldSet {
		ls := entry(t.label)
		ls.Support++
		if _, ok := predSet[t]; !ok {
			ls.Counts.FalseNegatives++
		}
	}

	return finalize(perLabel, len(goldSet)), nil
}

// finalize derives scores and aggregates from per-label counts.
func finalize(perLabel map[string]*LabelScore, support int) *Result {
	res := &Result{Labels: make([]LabelScore, 0, len(perLabel))}
	var sumP, sumR, sumF float64
	for _, ls := range perLabel {
		ls.Precision = ls.Counts.Precision()
		ls.Recall = ls.Counts.Recall()
		ls.F1 = ls.Counts.F1()
		res.Labels = append(res.Labels, *ls)

		res.Counts = res.Counts.add(ls.Counts)
		sumP += ls.Precision
		sumR += ls.Recall
		sumF += ls.F1
	}
	sort.Slice(res.Labels, func(i, j int) bool { return res.Labels[i].Label < res.Labels[j].Label })

	res.Micro = Average{
		Precision: res.Counts.Precision(),
		Recall:    res.Counts.Recall(),
		F1:        res.Counts.F1(),
		Support:   support,
	}
	if n := float64(len(res.Labels)); n > 0 {
		res.Macro = Average{
			Precision: sumP / n,
			Recall:    sumR / n,
			F1:        sumF / n,
			Support:   support,
		}
	}
	return res
}

func toSet(side string, spans []annotation.Span, nTokens int) (map[triple]struct{}, error) {
	set := make(map[triple]struct{}, len(spans))
	for i, s := range spans {
		if err := s.Check(nTokens); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeMalformedEvaluationInput,
				fmt.Sprintf("%s span %d is malformed", side, i))
		}
		if s.Label == "" {
			return nil, errors.Newf(errors.ErrCodeMalformedEvaluationInput,
				"%s span %d has an empty label", side, i)
		}
		set[triple{s.Start, s.End, s.Label}] = struct{}{}
	}
	return set, nil
}
