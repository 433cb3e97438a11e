package ruler

import (
	"context"
	"sync/atomic"

	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/nerruler/pkg/errors"
)

// StoreProvider yields the store to match against. Annotator reads it once
// per call so both matchers see the same store.
type StoreProvider interface {
	Current() *Store
}

// StaticStore is a StoreProvider that never changes.
type StaticStore struct{ S *Store }

func (s StaticStore) Current() *Store { return s.S }

// LoaderFunc builds a fresh store, typically from a pattern source.
type LoaderFunc func(ctx context.Context) (*Store, error)

// Registry holds the active store and replaces it atomically on reload.
// Readers never observe a partially built store.
type Registry struct {
	current atomic.Pointer[Store]
	loader  LoaderFunc
	logger  logging.Logger
	metrics *prometheus.AppMetrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

func WithRegistryLogger(l logging.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithRegistryMetrics(m *prometheus.AppMetrics) RegistryOption {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRegistry creates an empty registry. Call Reload or Swap before use.
func NewRegistry(loader LoaderFunc, opts ...RegistryOption) *Registry {
	r := &Registry{
		loader:  loader,
		logger:  logging.NewNopLogger(),
		metrics: prometheus.NewNoopAppMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the active store, or nil before the first load.
func (r *Registry) Current() *Store { return r.current.Load() }

// Swap seals s, installs it and returns the previous store.
func (r *Registry) Swap(s *Store) *Store {
	if s == nil {
		return r.current.Load()
	}
	s.Seal()
	old := r.current.Swap(s)
	phrase, regex := s.Len()
	r.metrics.RecordStoreSize(phrase, regex)
	r.logger.Info("pattern store installed",
		logging.String("fingerprint", s.Fingerprint()),
		logging.Int("phrase_patterns", phrase),
		logging.Int("regex_patterns", regex))
	return old
}

// Reload builds a new store with the loader and swaps it in. On failure the
// active store is kept.
func (r *Registry) Reload(ctx context.Context) error {
	if r.loader == nil {
		return errors.New(errors.ErrCodeStoreNotReady, "registry has no loader")
	}
	s, err := r.loader(ctx)
	r.metrics.RecordReload(err)
	if err != nil {
		r.logger.Error("pattern store reload failed, keeping active store", logging.Err(err))
		return err
	}
	r.Swap(s)
	return nil
}
