package ruler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/nerruler/pkg/errors"
	"github.com/turtacn/nerruler/pkg/types/annotation"
)

// Annotation is the result of annotating one document.
type Annotation struct {
	Spans            []annotation.Span   `json:"spans"`
	Entities         []annotation.Entity `json:"entities"`
	PhraseCandidates int                 `json:"phrase_candidates"`
	RegexCandidates  int                 `json:"regex_candidates"`
	Warnings         []AlignmentWarning  `json:"alignment_warnings,omitempty"`
	StoreFingerprint string              `json:"store_fingerprint"`
}

// Annotator runs both matchers concurrently and resolves their output.
type Annotator struct {
	provider  StoreProvider
	logger    logging.Logger
	metrics   *prometheus.AppMetrics
	transport string
}

// AnnotatorOption configures an Annotator.
type AnnotatorOption func(*Annotator)

func WithLogger(l logging.Logger) AnnotatorOption {
	return func(a *Annotator) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithMetrics(m *prometheus.AppMetrics) AnnotatorOption {
	return func(a *Annotator) {
		if m != nil {
			a.metrics = m
		}
	}
}

// WithTransport sets the label used for latency metrics ("cli", "http", ...).
func WithTransport(name string) AnnotatorOption {
	return func(a *Annotator) { a.transport = name }
}

// NewAnnotator creates an annotator reading stores from provider.
func NewAnnotator(provider StoreProvider, opts ...AnnotatorOption) *Annotator {
	a := &Annotator{
		provider:  provider,
		logger:    logging.NewNopLogger(),
		metrics:   prometheus.NewNoopAppMetrics(),
		transport: "library",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Annotate matches doc against the current store. An empty document yields
// an empty annotation. The matchers cannot be interrupted; when ctx ends
// first Annotate returns a timeout error and the matchers finish in the
// background.
func (a *Annotator) Annotate(ctx context.Context, doc *annotation.Document) (ann *Annotation, err error) {
	start := time.Now()
	defer func() { a.metrics.RecordAnnotate(a.transport, time.Since(start), err) }()

	store := a.provider.Current()
	if store == nil {
		return nil, errors.New(errors.ErrCodeStoreNotReady, "no pattern store loaded")
	}
	if doc.IsEmpty() {
		return &Annotation{
			Spans:            []annotation.Span{},
			Entities:         []annotation.Entity{},
			StoreFingerprint: store.Fingerprint(),
		}, nil
	}
	if verr := doc.Validate(); verr != nil {
		return nil, errors.Wrap(verr, errors.ErrCodeInvalidDoc, "token sequence violates tokenizer contract")
	}

	if cerr := ctx.Err(); cerr != nil {
		return nil, errors.Wrap(cerr, errors.ErrCodeTimeout, "annotation cancelled")
	}

	type result struct {
		ann *Annotation
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, e := a.match(store, doc)
		done <- result{r, e}
	}()

	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "annotation cancelled")
	case r := <-done:
		return r.ann, r.err
	}
}

func (a *Annotator) match(store *Store, doc *annotation.Document) (*Annotation, error) {
	var (
		phrase []annotation.Span
		regex  RegexResult
		g      errgroup.Group
	)
	g.Go(func() error {
		phrase = NewPhraseMatcher(store).Match(doc)
		return nil
	})
	g.Go(func() error {
		regex = NewRegexMatcher(store).Match(doc)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, w := range regex.Warnings {
		a.logger.Warn("regex match not aligned to token boundaries, dropped",
			logging.String("code", errors.ErrCodeAlignment.String()),
			logging.String("label", w.Label),
			logging.Int("start_char", w.StartChar),
			logging.Int("end_char", w.EndChar),
			logging.String("text", w.Text))
	}
	a.metrics.RecordCandidates(len(phrase), len(regex.Spans), len(regex.Warnings))

	spans := Resolve(phrase, regex.Spans)
	for _, s := range spans {
		a.metrics.RecordSpan(s.Label, s.Source.String())
	}

	return &Annotation{
		Spans:            spans,
		Entities:         doc.Entities(spans),
		PhraseCandidates: len(phrase),
		RegexCandidates:  len(regex.Spans),
		Warnings:         regex.Warnings,
		StoreFingerprint: store.Fingerprint(),
	}, nil
}
