package patternsource

import (
	"context"
	"os"
	"time"

	"github.com/turtacn/nerruler/internal/infrastructure/database/postgres"
	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/internal/intelligence/ruler"
	"github.com/turtacn/nerruler/pkg/errors"
)

// Source produces a pattern table.
type Source interface {
	Load(ctx context.Context) (*Table, error)
	// Describe names the source in logs.
	Describe() string
}

// EmbeddedSource serves DefaultTable.
type EmbeddedSource struct{}

func (EmbeddedSource) Load(context.Context) (*Table, error) { return DefaultTable(), nil }
func (EmbeddedSource) Describe() string                     { return "embedded" }

// FileSource reads a YAML, TOML or JSON file.
type FileSource struct {
	Path string
}

func (s FileSource) Load(context.Context) (*Table, error) {
	format, err := FormatFromPath(s.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePatternSourceUnavailable, "failed to read pattern file").
			WithDetail("path=" + s.Path)
	}
	return Parse(data, format)
}

func (s FileSource) Describe() string { return "file:" + s.Path }

// ObjectGetter downloads an object by key.
type ObjectGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// ObjectSource reads a table stored as an object; the key's extension picks
// the format.
type ObjectSource struct {
	Objects ObjectGetter
	Key     string
}

func (s ObjectSource) Load(ctx context.Context) (*Table, error) {
	format, err := FormatFromPath(s.Key)
	if err != nil {
		return nil, err
	}
	data, err := s.Objects.Get(ctx, s.Key)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePatternSourceUnavailable, "failed to fetch pattern object").
			WithDetail("key=" + s.Key)
	}
	return Parse(data, format)
}

func (s ObjectSource) Describe() string { return "object:" + s.Key }

// PatternLister lists pattern rows from a database.
type PatternLister interface {
	List(ctx context.Context) ([]postgres.PatternRow, error)
}

// DatabaseSource reads the entity_patterns table. The table carries no label
// set, so labels come from BuildOptions.
type DatabaseSource struct {
	Rows PatternLister
}

func (s DatabaseSource) Load(ctx context.Context) (*Table, error) {
	rows, err := s.Rows.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePatternSourceUnavailable, "failed to list patterns")
	}
	t := &Table{Patterns: make([]Entry, len(rows))}
	for i, r := range rows {
		t.Patterns[i] = Entry{Kind: Kind(r.Kind), Label: r.Label, Pattern: r.Pattern}
	}
	return t, nil
}

func (s DatabaseSource) Describe() string { return "postgres:entity_patterns" }

// NewLoader returns a ruler.LoaderFunc that loads src and builds a store.
func NewLoader(src Source, opts BuildOptions, log logging.Logger) ruler.LoaderFunc {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return func(ctx context.Context) (*ruler.Store, error) {
		start := time.Now()
		table, err := src.Load(ctx)
		if err != nil {
			return nil, err
		}
		store, err := BuildStore(table, opts)
		if err != nil {
			return nil, err
		}
		phrase, regex := store.Len()
		log.Info("pattern table loaded",
			logging.String("source", src.Describe()),
			logging.Int("phrase_patterns", phrase),
			logging.Int("regex_patterns", regex),
			logging.Duration("elapsed", time.Since(start)))
		return store, nil
	}
}
