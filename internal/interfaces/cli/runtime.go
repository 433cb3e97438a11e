package cli

import (
	"context"
	"time"

	"github.com/turtacn/nerruler/internal/application/annotate"
	"github.com/turtacn/nerruler/internal/config"
	rediscache "github.com/turtacn/nerruler/internal/infrastructure/database/redis"
	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/nerruler/internal/infrastructure/patternsource"
	"github.com/turtacn/nerruler/internal/infrastructure/search/opensearch"
	"github.com/turtacn/nerruler/internal/intelligence/ruler"
	"github.com/turtacn/nerruler/internal/intelligence/tokenizer"
	"github.com/turtacn/nerruler/internal/interfaces/http/handlers"
)

// publishLockName guards concurrent pattern publications.
const (
	publishLockName    = "patterns:publish"
	publishLockTTL     = 30 * time.Second
	publishLockRetries = 10
	publishLockDelay   = 200 * time.Millisecond
)

// Runtime holds every collaborator built from the configuration. Optional
// backends stay nil when their section is disabled.
type Runtime struct {
	Config    *config.Config
	Logger    logging.Logger
	Tokenizer *tokenizer.Tokenizer
	Registry  *ruler.Registry
	Service   annotate.Service

	Collector prometheus.MetricsCollector
	Metrics   *prometheus.AppMetrics

	Redis      *rediscache.Client
	Cache      *rediscache.Cache
	OpenSearch *opensearch.Client
	Indexer    *opensearch.Indexer
	Searcher   *opensearch.Searcher

	watcher *patternsource.Watcher
	closers []func()
}

// NewRuntime loads the pattern table and connects the enabled backends.
// transport labels annotate latency metrics.
func NewRuntime(ctx context.Context, cfg *config.Config, logger logging.Logger, transport string) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if err = rt.initMetrics(); err != nil {
		return nil, err
	}
	if err = rt.initEngine(ctx); err != nil {
		return nil, err
	}
	if err = rt.initRedis(); err != nil {
		return nil, err
	}
	if err = rt.initOpenSearch(ctx); err != nil {
		return nil, err
	}

	deps := annotate.Deps{
		Store:     rt.Registry,
		Tokenizer: rt.Tokenizer,
		CacheTTL:  cfg.Redis.TTL,
		Metrics:   rt.Metrics,
		Logger:    logger.Named("annotate"),
		Transport: transport,
		Timeout:   cfg.Engine.Timeout,
	}
	if rt.Cache != nil {
		deps.Cache = rt.Cache
	}
	if rt.Indexer != nil {
		deps.Indexer = rt.Indexer
		deps.Searcher = rt.Searcher
	}
	rt.Service, err = annotate.NewService(deps)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) initMetrics() error {
	if !rt.Config.Metrics.Enabled {
		rt.Metrics = prometheus.NewNoopAppMetrics()
		return nil
	}
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            rt.Config.Metrics.Namespace,
		Subsystem:            rt.Config.Metrics.Subsystem,
		EnableGoMetrics:      true,
		EnableProcessMetrics: true,
	}, rt.Logger)
	if err != nil {
		return err
	}
	rt.Collector = collector
	rt.Metrics = prometheus.NewAppMetrics(collector)
	return nil
}

func (rt *Runtime) initEngine(ctx context.Context) error {
	cfg := rt.Config
	opts := []tokenizer.Option{tokenizer.WithLanguage(cfg.Tokenizer.Language)}
	if cfg.Tokenizer.DisableLemma {
		opts = append(opts, tokenizer.WithoutLemma())
	}
	if cfg.Tokenizer.DisableNFC {
		opts = append(opts, tokenizer.WithoutNFC())
	}
	tk, err := tokenizer.New(opts...)
	if err != nil {
		return err
	}
	rt.Tokenizer = tk

	src, closeSrc, err := patternsource.FromConfig(ctx, cfg, rt.Logger)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, closeSrc)

	loader := patternsource.NewLoader(src, patternsource.BuildOptionsFromConfig(cfg, tk.Surface), rt.Logger)
	rt.Registry = ruler.NewRegistry(loader,
		ruler.WithRegistryLogger(rt.Logger.Named("patterns")),
		ruler.WithRegistryMetrics(rt.Metrics))
	return rt.Registry.Reload(ctx)
}

func (rt *Runtime) initRedis() error {
	cfg := rt.Config.Redis
	if !cfg.Enabled {
		return nil
	}
	client, err := rediscache.NewClient(cfg, rt.Logger)
	if err != nil {
		return err
	}
	rt.Redis = client
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	rt.Cache = rediscache.NewCache(client, rt.Logger,
		rediscache.WithPrefix(cfg.Prefix),
		rediscache.WithDefaultTTL(cfg.TTL),
		rediscache.WithLoadTimeout(rt.Config.Engine.Timeout))
	return nil
}

func (rt *Runtime) initOpenSearch(ctx context.Context) error {
	cfg := rt.Config.OpenSearch
	if !cfg.Enabled {
		return nil
	}
	client, err := opensearch.NewClient(cfg, rt.Logger)
	if err != nil {
		return err
	}
	rt.OpenSearch = client
	rt.Indexer = opensearch.NewIndexer(client, cfg.Index, rt.Logger)
	if err := rt.Indexer.EnsureIndex(ctx); err != nil {
		return err
	}
	rt.Searcher = opensearch.NewSearcher(client, cfg.Index, rt.Logger)
	return nil
}

// WatchPatterns reloads the registry when the pattern file changes. It is a
// no-op unless the file source is selected with watch enabled.
func (rt *Runtime) WatchPatterns() error {
	p := rt.Config.Patterns
	if !p.Watch || p.Source != config.PatternSourceFile {
		return nil
	}
	w, err := patternsource.NewWatcher(p.Path, rt.Registry, patternsource.DefaultDebounce, rt.Logger.Named("watcher"))
	if err != nil {
		return err
	}
	rt.watcher = w
	return nil
}

// HealthCheckers probes the pattern store and every connected backend.
func (rt *Runtime) HealthCheckers() []handlers.HealthChecker {
	checkers := []handlers.HealthChecker{
		handlers.NewChecker("patterns", func(context.Context) error {
			if rt.Registry.Current() == nil {
				return errStoreNotLoaded
			}
			return nil
		}),
	}
	if rt.Redis != nil {
		checkers = append(checkers, handlers.NewChecker("redis", rt.Redis.Ping))
	}
	if rt.OpenSearch != nil {
		checkers = append(checkers, handlers.NewChecker("opensearch", rt.OpenSearch.Ping))
	}
	return checkers
}

// Close releases every backend in reverse order of creation.
func (rt *Runtime) Close() {
	if rt.watcher != nil {
		_ = rt.watcher.Close()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
	if rt.Logger != nil {
		_ = rt.Logger.Sync()
	}
}
