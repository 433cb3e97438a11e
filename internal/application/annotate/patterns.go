package annotate

import (
	"context"

	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/internal/infrastructure/patternsource"
	"github.com/turtacn/nerruler/pkg/errors"
)

// PhraseInfo describes one phrase pattern of the active store.
type PhraseInfo struct {
	Label   string   `json:"label"`
	Surface []string `json:"surface"`
}

// RegexInfo describes one regex pattern of the active store.
type RegexInfo struct {
	Label      string `json:"label"`
	Expression string `json:"expression"`
}

// PatternsInfo is a read-only view of the active store.
type PatternsInfo struct {
	Fingerprint     string       `json:"fingerprint"`
	CaseInsensitive bool         `json:"case_insensitive"`
	Labels          []string     `json:"labels"`
	Phrases         []PhraseInfo `json:"phrases"`
	Regexes         []RegexInfo  `json:"regexes"`
}

func (s *serviceImpl) Patterns(_ context.Context) (*PatternsInfo, error) {
	store, err := s.currentStore()
	if err != nil {
		return nil, err
	}
	phrases := store.PhrasePatterns()
	regexes := store.RegexPatterns()
	info := &PatternsInfo{
		Fingerprint:     store.Fingerprint(),
		CaseInsensitive: store.CaseInsensitive(),
		Labels:          store.Labels(),
		Phrases:         make([]PhraseInfo, len(phrases)),
		Regexes:         make([]RegexInfo, len(regexes)),
	}
	for i, p := range phrases {
		info.Phrases[i] = PhraseInfo{Label: p.Label, Surface: p.Surface}
	}
	for i, r := range regexes {
		info.Regexes[i] = RegexInfo{Label: r.Label, Expression: r.Expr.String()}
	}
	return info, nil
}

// Locker serializes pattern publication across processes.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// CacheInvalidator drops cached annotations after a publish.
type CacheInvalidator interface {
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// PublisherDeps configures a Publisher. At least one of Objects and Rows must
// be set.
type PublisherDeps struct {
	Build     patternsource.BuildOptions
	Objects   patternsource.ObjectPutter
	ObjectKey string
	Rows      patternsource.PatternReplacer
	Lock      Locker
	Cache     CacheInvalidator
	Logger    logging.Logger
}

// Publisher validates a pattern table and writes it to the configured
// pattern sources.
type Publisher struct {
	deps PublisherDeps
}

// NewPublisher creates a Publisher.
func NewPublisher(deps PublisherDeps) (*Publisher, error) {
	if deps.Objects == nil && deps.Rows == nil {
		return nil, errors.New(errors.ErrCodePatternSourceUnsupported, "no writable pattern source configured")
	}
	if deps.Objects != nil && deps.ObjectKey == "" {
		return nil, errors.InvalidParam("object key is required for object publication")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	return &Publisher{deps: deps}, nil
}

// Validate compiles t the way a loader would and reports the first failure.
func (p *Publisher) Validate(t *patternsource.Table) error {
	_, err := patternsource.BuildStore(t, p.deps.Build)
	return err
}

// Publish validates t, takes the publish lock and writes t to every
// configured destination. Readers pick the new table up on their next
// reload. Cached annotations are dropped best-effort.
func (p *Publisher) Publish(ctx context.Context, t *patternsource.Table) error {
	store, err := patternsource.BuildStore(t, p.deps.Build)
	if err != nil {
		return err
	}

	if p.deps.Lock != nil {
		if err := p.deps.Lock.Lock(ctx); err != nil {
			return err
		}
		defer func() {
			if err := p.deps.Lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				p.deps.Logger.Warn("failed to release publish lock", logging.Err(err))
			}
		}()
	}

	if p.deps.Objects != nil {
		if err := patternsource.PublishObject(ctx, p.deps.Objects, p.deps.ObjectKey, t); err != nil {
			return err
		}
	}
	if p.deps.Rows != nil {
		if err := patternsource.PublishDatabase(ctx, p.deps.Rows, t); err != nil {
			return err
		}
	}

	phrase, regex := t.Counts()
	p.deps.Logger.Info("pattern table published",
		logging.String("fingerprint", store.Fingerprint()),
		logging.Int("phrase_patterns", phrase),
		logging.Int("regex_patterns", regex))

	if p.deps.Cache != nil {
		n, err := p.deps.Cache.DeleteByPrefix(ctx, CacheKeyPrefix)
		if err != nil {
			p.deps.Logger.Warn("failed to drop cached annotations", logging.Err(err))
		} else {
			p.deps.Logger.Debug("cached annotations dropped", logging.Int64("keys", n))
		}
	}
	return nil
}
