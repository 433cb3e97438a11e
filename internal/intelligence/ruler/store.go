// Package ruler implements the rule-based entity annotation engine: a pattern
// store, a multi-token phrase matcher, a regex matcher aligned to token
// boundaries, and a deterministic resolver that merges both candidate streams
// into one non-overlapping entity list.
//
// A Store is built once and then only read. Matchers never mutate it, so any
// number of goroutines may match against the same Store concurrently. Hot
// reload replaces the whole Store through a Registry.
package ruler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/turtacn/nerruler/pkg/errors"
)

// PhrasePattern is an exact token sequence mapped to a label.
type PhrasePattern struct {
	Label   string
	Surface []string
}

// RegexPattern is a compiled expression over raw text mapped to a label.
type RegexPattern struct {
	Label string
	Expr  *regexp.Regexp
}

// StoreOption configures a Store at construction time.
type StoreOption func(*Store)

// WithCaseInsensitive folds both pattern and token text before comparison.
// Stores are case-sensitive by default so that "AI" and "ai" stay distinct.
func WithCaseInsensitive(on bool) StoreOption {
	return func(s *Store) { s.caseInsensitive = on }
}

// WithLabels restricts the labels a pattern may carry. An empty set accepts
// any non-empty label.
func WithLabels(labels ...string) StoreOption {
	return func(s *Store) {
		for _, l := range labels {
			s.labels[l] = struct{}{}
		}
	}
}

// Store holds phrase and regex patterns.
//
// Phrase patterns are indexed by their (case-normalized) first token so the
// phrase matcher only inspects patterns that can start at a given position.
type Store struct {
	caseInsensitive bool
	labels          map[string]struct{}

	phrases []PhrasePattern
	// keys[i] is phrases[i].Surface after case normalization.
	keys  [][]string
	index map[string][]int

	regexes []RegexPattern

	sealed      bool
	fingerprint string
}

// NewStore returns an empty, case-sensitive store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		labels: make(map[string]struct{}),
		index:  make(map[string][]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CaseInsensitive reports the store-wide case policy.
func (s *Store) CaseInsensitive() bool { return s.caseInsensitive }

// Labels returns the configured label set, sorted. Empty when unrestricted.
func (s *Store) Labels() []string {
	out := make([]string, 0, len(s.labels))
	for l := range s.labels {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (s *Store) checkLabel(label string) error {
	if strings.TrimSpace(label) == "" {
		return errors.New(errors.ErrCodeUnknownLabel, "pattern label must not be empty")
	}
	if len(s.labels) == 0 {
		return nil
	}
	if _, ok := s.labels[label]; !ok {
		return errors.Newf(errors.ErrCodeUnknownLabel, "label %q is not in the configured label set", label).
			WithDetail("allowed=" + strings.Join(s.Labels(), ","))
	}
	return nil
}

func (s *Store) checkWritable() error {
	if s.sealed {
		return errors.New(errors.ErrCodeConflict, "pattern store is sealed")
	}
	return nil
}

// AddPhrasePattern registers a phrase. Duplicates are legal and produce
// duplicate candidates that the resolver collapses.
func (s *Store) AddPhrasePattern(label string, surface []string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.checkLabel(label); err != nil {
		return err
	}
	if len(surface) == 0 {
		return errors.Newf(errors.ErrCodeInvalidPattern, "phrase pattern for %s has no tokens", label)
	}
	fold := newFolder(s.caseInsensitive)
	key := make([]string, len(surface))
	for i, tok := range surface {
		if tok == "" {
			return errors.Newf(errors.ErrCodeInvalidPattern, "phrase pattern for %s has an empty token", label).
				WithDetail(fmt.Sprintf("surface=%q", surface))
		}
		key[i] = fold(tok)
	}

	idx := len(s.phrases)
	s.phrases = append(s.phrases, PhrasePattern{Label: label, Surface: append([]string(nil), surface...)})
	s.keys = append(s.keys, key)
	s.index[key[0]] = append(s.index[key[0]], idx)
	return nil
}

// AddRegexPattern compiles expr and registers it. A compile failure is an
// InvalidPattern error; callers building a store from a table must abandon
// the whole store in that case.
func (s *Store) AddRegexPattern(label, expr string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.checkLabel(label); err != nil {
		return err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidPattern, "invalid regex pattern").
			WithDetail(fmt.Sprintf("label=%s expr=%q", label, expr))
	}
	s.regexes = append(s.regexes, RegexPattern{Label: label, Expr: re})
	return nil
}

// PhrasePatterns returns the phrase patterns in insertion order.
func (s *Store) PhrasePatterns() []PhrasePattern {
	out := make([]PhrasePattern, len(s.phrases))
	copy(out, s.phrases)
	return out
}

// RegexPatterns returns the regex patterns in insertion order.
func (s *Store) RegexPatterns() []RegexPattern {
	out := make([]RegexPattern, len(s.regexes))
	copy(out, s.regexes)
	return out
}

// Len returns the phrase and regex pattern counts.
func (s *Store) Len() (phrase, regex int) {
	return len(s.phrases), len(s.regexes)
}

// candidates returns the indices of phrase patterns whose normalized first
// token equals key, in insertion order. The slice must not be modified.
func (s *Store) candidates(key string) []int {
	return s.index[key]
}

// Seal freezes the store. Further Add calls fail.
func (s *Store) Seal() *Store {
	if !s.sealed {
		s.fingerprint = s.computeFingerprint()
		s.sealed = true
	}
	return s
}

// Sealed reports whether Seal has been called.
func (s *Store) Sealed() bool { return s.sealed }

// Fingerprint identifies the store content and case policy. Two stores with
// the same patterns in the same order share a fingerprint.
func (s *Store) Fingerprint() string {
	if s.sealed {
		return s.fingerprint
	}
	return s.computeFingerprint()
}

func (s *Store) computeFingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "ci=%t\n", s.caseInsensitive)
	for _, p := range s.phrases {
		fmt.Fprintf(h, "P\x1f%s\x1f%s\n", p.Label, strings.Join(p.Surface, "\x1e"))
	}
	for _, r := range s.regexes {
		fmt.Fprintf(h, "R\x1f%s\x1f%s\n", r.Label, r.Expr.String())
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ─────────────────────────────────────────────────────────────────────────────
// Case normalization
// ─────────────────────────────────────────────────────────────────────────────

// casers pools Unicode case folders; a cases.Caser is stateful and must not
// be shared between goroutines.
var casers = sync.Pool{New: func() interface{} { c := cases.Fold(); return &c }}

// newFolder returns the normalization applied to both pattern and token text.
func newFolder(caseInsensitive bool) func(string) string {
	if !caseInsensitive {
		return func(s string) string { return s }
	}
	return func(s string) string {
		c := casers.Get().(*cases.Caser)
		out := c.String(s)
		casers.Put(c)
		return out
	}
}
