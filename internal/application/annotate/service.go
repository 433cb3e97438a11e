// Package annotate provides the application-level annotation service.
// This package sits between the CLI, HTTP, gRPC and queue surfaces and the
// ruler engine, adding caching, indexing and evaluation on top of it.
package annotate

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/nerruler/internal/infrastructure/search/opensearch"
	"github.com/turtacn/nerruler/internal/intelligence/evaluation"
	"github.com/turtacn/nerruler/internal/intelligence/ruler"
	"github.com/turtacn/nerruler/internal/intelligence/tokenizer"
	"github.com/turtacn/nerruler/pkg/errors"
	"github.com/turtacn/nerruler/pkg/types/annotation"
)

// CacheKeyPrefix prefixes every cached annotation.
const CacheKeyPrefix = "annotate:"

// Service defines the annotation operations exposed to every surface.
type Service interface {
	Annotate(ctx context.Context, input *AnnotateInput) (*AnnotateResult, error)
	Evaluate(ctx context.Context, input *EvaluateInput) (*evaluation.Result, error)
	EvaluateCorpus(ctx context.Context, examples []Example) (*evaluation.Result, error)
	Patterns(ctx context.Context) (*PatternsInfo, error)
	DetectByType(ctx context.Context, label, text string) ([]string, error)
	SearchDocuments(ctx context.Context, input *SearchInput) (*opensearch.SearchResult, error)
	LabelCounts(ctx context.Context) (map[string]int64, error)
}

// ResultCache is the cache-aside store for annotations.
type ResultCache interface {
	GetOrLoad(ctx context.Context, key string, dest interface{}, ttl time.Duration,
		load func(ctx context.Context) (interface{}, error)) (bool, error)
}

// DocumentIndexer receives annotated documents.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, doc opensearch.AnnotatedDocument) error
}

// DocumentSearcher queries annotated documents.
type DocumentSearcher interface {
	SearchEntities(ctx context.Context, q opensearch.EntityQuery) (*opensearch.SearchResult, error)
	LabelCounts(ctx context.Context) (map[string]int64, error)
}

// AnnotateInput is one document to annotate. When Tokens is empty Text is
// tokenized with the service tokenizer; otherwise Tokens must satisfy the
// tokenizer contract against Text.
type AnnotateInput struct {
	ID     string             `json:"id,omitempty"`
	Text   string             `json:"text"`
	Tokens []annotation.Token `json:"tokens,omitempty"`
	Index  bool               `json:"index,omitempty"`
}

// AnnotateResult is an annotation plus delivery metadata.
type AnnotateResult struct {
	ID string `json:"id"`
	*ruler.Annotation
	Tokens  []annotation.Token `json:"tokens,omitempty"`
	Cached  bool               `json:"cached"`
	Indexed bool               `json:"indexed"`
}

// EvaluateInput scores Predicted against Gold. When Predicted is nil (absent
// or null on the wire) the prediction is produced by annotating Text (and
// Tokens), and span indices are bounded by the document's token count.
// Otherwise, including an empty list, NTokens bounds them, with zero meaning
// unbounded.
type EvaluateInput struct {
	Text      string             `json:"text,omitempty"`
	Tokens    []annotation.Token `json:"tokens,omitempty"`
	Predicted []annotation.Span  `json:"predicted"`
	Gold      []annotation.Span  `json:"gold"`
	NTokens   int                `json:"n_tokens,omitempty"`
}

// Example is one gold-annotated document of an evaluation corpus.
type Example struct {
	Text   string             `json:"text"`
	Tokens []annotation.Token `json:"tokens,omitempty"`
	Gold   []annotation.Span  `json:"gold"`
}

// SearchInput filters indexed documents by entity.
type SearchInput struct {
	Label string `json:"label,omitempty"`
	Text  string `json:"text,omitempty"`
	Size  int    `json:"size,omitempty"`
}

// Deps collects the service collaborators. Store and Tokenizer are required.
type Deps struct {
	Store     ruler.StoreProvider
	Tokenizer *tokenizer.Tokenizer
	Cache     ResultCache
	CacheTTL  time.Duration
	Indexer   DocumentIndexer
	Searcher  DocumentSearcher
	Metrics   *prometheus.AppMetrics
	Logger    logging.Logger
	// Transport labels latency metrics, e.g. "http" or "worker".
	Transport string
	// Timeout bounds one Annotate call; zero disables it.
	Timeout time.Duration
}

// serviceImpl implements the Service interface.
type serviceImpl struct {
	store     ruler.StoreProvider
	tokenizer *tokenizer.Tokenizer
	cache     ResultCache
	cacheTTL  time.Duration
	indexer   DocumentIndexer
	searcher  DocumentSearcher
	metrics   *prometheus.AppMetrics
	logger    logging.Logger
	transport string
	timeout   time.Duration
}

// NewService creates a new annotation application service.
func NewService(deps Deps) (Service, error) {
	if deps.Store == nil {
		return nil, errors.InvalidParam("store provider is required")
	}
	if deps.Tokenizer == nil {
		return nil, errors.InvalidParam("tokenizer is required")
	}
	s := &serviceImpl{
		store:     deps.Store,
		tokenizer: deps.Tokenizer,
		cache:     deps.Cache,
		cacheTTL:  deps.CacheTTL,
		indexer:   deps.Indexer,
		searcher:  deps.Searcher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		transport: deps.Transport,
		timeout:   deps.Timeout,
	}
	if s.metrics == nil {
		s.metrics = prometheus.NewNoopAppMetrics()
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	if s.transport == "" {
		s.transport = "library"
	}
	return s, nil
}

func (s *serviceImpl) currentStore() (*ruler.Store, error) {
	store := s.store.Current()
	if store == nil {
		return nil, errors.New(errors.ErrCodeStoreNotReady, "no pattern store loaded")
	}
	return store, nil
}

func (s *serviceImpl) document(text string, tokens []annotation.Token) *annotation.Document {
	if len(tokens) == 0 {
		return s.tokenizer.Document(text)
	}
	return &annotation.Document{Text: text, Tokens: tokens}
}

// annotate pins one store for the whole call so the result and its cache key
// agree on the fingerprint.
func (s *serviceImpl) annotate(ctx context.Context, store *ruler.Store, doc *annotation.Document) (*ruler.Annotation, bool, error) {
	annotator := ruler.NewAnnotator(ruler.StaticStore{S: store},
		ruler.WithLogger(s.logger),
		ruler.WithMetrics(s.metrics),
		ruler.WithTransport(s.transport))

	if s.cache == nil || doc.IsEmpty() {
		ann, err := annotator.Annotate(ctx, doc)
		return ann, false, err
	}

	var ann ruler.Annotation
	hit, err := s.cache.GetOrLoad(ctx, cacheKey(store.Fingerprint(), doc), &ann, s.cacheTTL,
		func(ctx context.Context) (interface{}, error) {
			return annotator.Annotate(ctx, doc)
		})
	if err != nil {
		s.metrics.RecordCache("error")
		return nil, false, err
	}
	if hit {
		s.metrics.RecordCache("hit")
	} else {
		s.metrics.RecordCache("miss")
	}
	return &ann, hit, nil
}

func (s *serviceImpl) Annotate(ctx context.Context, input *AnnotateInput) (*AnnotateResult, error) {
	if input == nil {
		return nil, errors.InvalidParam("annotate input is required")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	store, err := s.currentStore()
	if err != nil {
		return nil, err
	}

	doc := s.document(input.Text, input.Tokens)
	ann, cached, err := s.annotate(ctx, store, doc)
	if err != nil {
		return nil, err
	}

	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	result := &AnnotateResult{ID: id, Annotation: ann, Tokens: doc.Tokens, Cached: cached}

	if input.Index && s.indexer != nil {
		err := s.indexer.IndexDocument(ctx, opensearch.AnnotatedDocument{
			ID:               id,
			Text:             doc.Text,
			Entities:         ann.Entities,
			Labels:           entityLabels(ann.Entities),
			StoreFingerprint: ann.StoreFingerprint,
			AnnotatedAt:      time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("failed to index annotated document", logging.String("id", id), logging.Err(err))
		} else {
			result.Indexed = true
		}
	}
	return result, nil
}

func (s *serviceImpl) Evaluate(ctx context.Context, input *EvaluateInput) (res *evaluation.Result, err error) {
	defer func() {
		var f1 map[string]float64
		if res != nil {
			f1 = res.F1ByLabel()
		}
		s.metrics.RecordEvaluation(f1, err)
	}()
	if input == nil {
		return nil, errors.InvalidParam("evaluate input is required")
	}

	if input.Predicted != nil {
		n := input.NTokens
		if n <= 0 {
			n = -1
		}
		return evaluation.Evaluate(input.Predicted, input.Gold, n)
	}

	store, err := s.currentStore()
	if err != nil {
		return nil, err
	}
	doc := s.document(input.Text, input.Tokens)
	ann, _, err := s.annotate(ctx, store, doc)
	if err != nil {
		return nil, err
	}
	return evaluation.Evaluate(ann.Spans, input.Gold, len(doc.Tokens))
}

// EvaluateCorpus annotates every example and pools the per-document scores.
// The first failing example aborts the run.
func (s *serviceImpl) EvaluateCorpus(ctx context.Context, examples []Example) (res *evaluation.Result, err error) {
	defer func() {
		var f1 map[string]float64
		if res != nil {
			f1 = res.F1ByLabel()
		}
		s.metrics.RecordEvaluation(f1, err)
	}()
	store, err := s.currentStore()
	if err != nil {
		return nil, err
	}

	results := make([]*evaluation.Result, len(examples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range examples {
		i := i
		g.Go(func() error {
			doc := s.document(examples[i].Text, examples[i].Tokens)
			ann, _, err := s.annotate(gctx, store, doc)
			if err != nil {
				return err
			}
			r, err := evaluation.Evaluate(ann.Spans, examples[i].Gold, len(doc.Tokens))
			if err != nil {
				return errors.Wrap(err, errors.CodeUnknown, "example rejected").WithDetail(fmt.Sprintf("example=%d", i))
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return evaluation.Combine(results...), nil
}

func (s *serviceImpl) DetectByType(_ context.Context, label, text string) ([]string, error) {
	store, err := s.currentStore()
	if err != nil {
		return nil, err
	}
	if label == "" {
		return nil, errors.InvalidParam("label is required")
	}
	if labels := store.Labels(); len(labels) > 0 && !contains(labels, label) {
		return nil, errors.Newf(errors.ErrCodeUnknownLabel, "label %q is not configured", label)
	}
	return ruler.NewRegexMatcher(store).FindAll(label, s.tokenizer.Normalize(text)), nil
}

func (s *serviceImpl) SearchDocuments(ctx context.Context, input *SearchInput) (*opensearch.SearchResult, error) {
	if s.searcher == nil {
		return nil, errors.New(errors.ErrCodeFeatureDisabled, "document search is not enabled")
	}
	if input == nil {
		input = &SearchInput{}
	}
	return s.searcher.SearchEntities(ctx, opensearch.EntityQuery{Label: input.Label, Text: input.Text, Size: input.Size})
}

func (s *serviceImpl) LabelCounts(ctx context.Context) (map[string]int64, error) {
	if s.searcher == nil {
		return nil, errors.New(errors.ErrCodeFeatureDisabled, "document search is not enabled")
	}
	return s.searcher.LabelCounts(ctx)
}

// cacheKey hashes the document together with the store fingerprint so a
// store swap never serves a stale annotation.
func cacheKey(fingerprint string, doc *annotation.Document) string {
	h := sha256.New()
	h.Write([]byte(doc.Text))
	var buf [8]byte
	for _, t := range doc.Tokens {
		binary.BigEndian.PutUint32(buf[:4], uint32(t.StartChar))
		binary.BigEndian.PutUint32(buf[4:], uint32(t.EndChar))
		h.Write(buf[:])
		h.Write([]byte(t.Text))
		h.Write([]byte{0})
	}
	return CacheKeyPrefix + fingerprint + ":" + hex.EncodeToString(h.Sum(nil))
}

func entityLabels(entities []annotation.Entity) []string {
	seen := make(map[string]struct{}, len(entities))
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		if _, ok := seen[e.Label]; !ok {
			seen[e.Label] = struct{}{}
			out = append(out, e.Label)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
