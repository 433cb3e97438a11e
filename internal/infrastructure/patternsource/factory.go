package patternsource

import (
	"context"

	"github.com/turtacn/nerruler/internal/config"
	"github.com/turtacn/nerruler/internal/infrastructure/database/postgres"
	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/nerruler/internal/infrastructure/storage/minio"
	"github.com/turtacn/nerruler/pkg/errors"
)

// FromConfig builds the Source selected by cfg.Patterns.Source. The returned
// close function releases any connection the source holds.
func FromConfig(ctx context.Context, cfg *config.Config, log logging.Logger) (Source, func(), error) {
	noop := func() {}
	switch cfg.Patterns.Source {
	case "", config.PatternSourceEmbedded:
		return EmbeddedSource{}, noop, nil

	case config.PatternSourceFile:
		return FileSource{Path: cfg.Patterns.Path}, noop, nil

	case config.PatternSourceMinIO:
		client, err := minio.NewClient(cfg.MinIO, log)
		if err != nil {
			return nil, noop, err
		}
		return ObjectSource{Objects: client, Key: cfg.MinIO.ObjectKey}, noop, nil

	case config.PatternSourcePostgres:
		if cfg.Postgres.MigrateOnStart {
			if err := postgres.RunMigrations(cfg.Postgres.DSN, log); err != nil {
				return nil, noop, err
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, noop, err
		}
		return DatabaseSource{Rows: postgres.NewPatternRepository(pool)}, pool.Close, nil

	default:
		return nil, noop, errors.Newf(errors.ErrCodePatternSourceUnsupported,
			"unknown pattern source %q", cfg.Patterns.Source)
	}
}

// BuildOptionsFromConfig maps engine settings onto BuildOptions.
func BuildOptionsFromConfig(cfg *config.Config, surface SurfaceFunc) BuildOptions {
	return BuildOptions{
		CaseInsensitive: cfg.Engine.CaseInsensitive,
		Labels:          cfg.Engine.Labels,
		Surface:         surface,
	}
}
