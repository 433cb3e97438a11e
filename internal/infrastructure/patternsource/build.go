package patternsource

import (
	"fmt"
	"strings"

	"github.com/turtacn/nerruler/internal/intelligence/ruler"
	"github.com/turtacn/nerruler/pkg/errors"
)

// SurfaceFunc splits a phrase surface form into tokens.
type SurfaceFunc func(form string) []string

// BuildOptions controls store construction.
type BuildOptions struct {
	CaseInsensitive bool
	// Labels closes the label set. When empty the table's own labels apply;
	// when both are empty any non-empty label is accepted.
	Labels []string
	// Surface tokenizes phrase patterns. Defaults to whitespace splitting.
	Surface SurfaceFunc
}

// BuildStore compiles a table into a store. Any bad entry fails the whole
// build: a partially loaded store would look correctly configured.
func BuildStore(t *Table, opts BuildOptions) (*ruler.Store, error) {
	if t == nil {
		return nil, errors.New(errors.ErrCodeInvalidPattern, "pattern table is nil")
	}
	labels := opts.Labels
	if len(labels) == 0 {
		labels = t.Labels
	}
	surface := opts.Surface
	if surface == nil {
		surface = strings.Fields
	}

	store := ruler.NewStore(ruler.WithCaseInsensitive(opts.CaseInsensitive), ruler.WithLabels(labels...))
	for i, e := range t.Patterns {
		var err error
		switch e.Kind {
		case KindPhrase:
			err = store.AddPhrasePattern(e.Label, surface(e.Pattern))
		case KindRegex:
			err = store.AddRegexPattern(e.Label, e.Pattern)
		default:
			err = errors.Newf(errors.ErrCodeInvalidPattern, "unknown pattern kind %q", e.Kind)
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeUnknown, fmt.Sprintf("pattern %d rejected", i)).
				WithDetail(fmt.Sprintf("kind=%s label=%s pattern=%q", e.Kind, e.Label, e.Pattern))
		}
	}
	return store.Seal(), nil
}
