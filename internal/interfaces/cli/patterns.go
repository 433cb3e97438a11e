package cli

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/nerruler/internal/application/annotate"
	"github.com/turtacn/nerruler/internal/config"
	"github.com/turtacn/nerruler/internal/infrastructure/database/postgres"
	rediscache "github.com/turtacn/nerruler/internal/infrastructure/database/redis"
	"github.com/turtacn/nerruler/internal/infrastructure/patternsource"
	"github.com/turtacn/nerruler/internal/infrastructure/storage/minio"
	"github.com/turtacn/nerruler/internal/intelligence/tokenizer"
	"github.com/turtacn/nerruler/pkg/errors"
)

func newPatternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect, validate and publish pattern tables",
	}
	cmd.AddCommand(
		newPatternsListCmd(),
		newPatternsValidateCmd(),
		newPatternsPublishCmd(),
		newPatternsExportCmd(),
	)
	return cmd
}

func newPatternsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the patterns of the configured source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(cmd, cc)
			defer cancel()
			rt, err := NewRuntime(ctx, cc.Config, cc.Logger, "cli")
			if err != nil {
				return err
			}
			defer rt.Close()

			info, err := rt.Service.Patterns(ctx)
			if err != nil {
				return err
			}
			if cc.OutputFormat == "json" {
				return PrintResult(cmd, info)
			}
			return PrintResult(cmd, patternList{info})
		},
	}
}

func newPatternsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Compile a pattern table without publishing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			table, opts, err := loadTable(cc.Config, args[0])
			if err != nil {
				return err
			}
			store, err := patternsource.BuildStore(table, opts)
			if err != nil {
				return err
			}
			phrase, regex := table.Counts()
			PrintSuccess(cmd, args[0]+": "+strconv.Itoa(phrase)+" phrase and "+
				strconv.Itoa(regex)+" regex patterns, fingerprint "+store.Fingerprint())
			return nil
		},
	}
}

func newPatternsPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <file>",
		Short: "Validate a pattern table and write it to the configured source",
		Long: "Publish compiles the table, then writes it to MinIO or PostgreSQL according\n" +
			"to patterns.source. With redis enabled the write holds a distributed lock and\n" +
			"cached annotations are dropped afterwards. Running servers pick the table up\n" +
			"on their next reload.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			table, opts, err := loadTable(cc.Config, args[0])
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(cmd, cc)
			defer cancel()

			deps, closeDeps, err := publisherDeps(ctx, cc, opts)
			if err != nil {
				return err
			}
			defer closeDeps()

			pub, err := annotate.NewPublisher(deps)
			if err != nil {
				return err
			}
			if err := pub.Publish(ctx, table); err != nil {
				return err
			}
			PrintSuccess(cmd, "published "+args[0]+" to "+cc.Config.Patterns.Source)
			return nil
		},
	}
}

func newPatternsExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the built-in pattern table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := patternsource.Encode(patternsource.DefaultTable(), patternsource.Format(format))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", string(patternsource.FormatYAML), "yaml, toml or json")
	return cmd
}

// loadTable parses a table file and returns it with the build options the
// configured engine would use.
func loadTable(cfg *config.Config, path string) (*patternsource.Table, patternsource.BuildOptions, error) {
	var opts patternsource.BuildOptions
	format, err := patternsource.FormatFromPath(path)
	if err != nil {
		return nil, opts, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, opts, errors.Wrap(err, errors.ErrCodePatternSourceUnavailable, "read pattern table").WithDetail(path)
	}
	table, err := patternsource.Parse(data, format)
	if err != nil {
		return nil, opts, err
	}

	tkOpts := []tokenizer.Option{tokenizer.WithLanguage(cfg.Tokenizer.Language)}
	if cfg.Tokenizer.DisableNFC {
		tkOpts = append(tkOpts, tokenizer.WithoutNFC())
	}
	tk, err := tokenizer.New(tkOpts...)
	if err != nil {
		return nil, opts, err
	}
	return table, patternsource.BuildOptionsFromConfig(cfg, tk.Surface), nil
}

// publisherDeps connects the destination selected by patterns.source and,
// when redis is enabled, the publish lock and annotation cache.
func publisherDeps(ctx context.Context, cc *CLIContext, opts patternsource.BuildOptions) (annotate.PublisherDeps, func(), error) {
	cfg := cc.Config
	deps := annotate.PublisherDeps{Build: opts, Logger: cc.Logger.Named("publish")}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Patterns.Source {
	case config.PatternSourceMinIO:
		client, err := minio.NewClient(cfg.MinIO, cc.Logger)
		if err != nil {
			return deps, closeAll, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return deps, closeAll, err
		}
		deps.Objects = client
		deps.ObjectKey = cfg.MinIO.ObjectKey
	case config.PatternSourcePostgres:
		if cfg.Postgres.MigrateOnStart {
			if err := postgres.RunMigrations(cfg.Postgres.DSN, cc.Logger); err != nil {
				return deps, closeAll, err
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres, cc.Logger)
		if err != nil {
			return deps, closeAll, err
		}
		closers = append(closers, pool.Close)
		deps.Rows = postgres.NewPatternRepository(pool)
	default:
		return deps, closeAll, errors.Newf(errors.ErrCodePatternSourceUnsupported,
			"pattern source %q is read-only; use minio or postgres", cfg.Patterns.Source)
	}

	if cfg.Redis.Enabled {
		client, err := rediscache.NewClient(cfg.Redis, cc.Logger)
		if err != nil {
			closeAll()
			return deps, func() {}, err
		}
		closers = append(closers, func() { _ = client.Close() })
		deps.Lock = rediscache.NewMutex(client, publishLockName,
			rediscache.WithLockTTL(publishLockTTL),
			rediscache.WithRetry(publishLockRetries, publishLockDelay))
		deps.Cache = rediscache.NewCache(client, cc.Logger, rediscache.WithPrefix(cfg.Redis.Prefix))
	}
	return deps, closeAll, nil
}

// patternList renders PatternsInfo one pattern per row.
type patternList struct {
	*annotate.PatternsInfo
}

func (p patternList) String() string {
	return FormatTable(p.TableHeaders(), p.TableRows()) + "fingerprint: " + p.Fingerprint
}

func (p patternList) TableHeaders() []string {
	return []string{"KIND", "LABEL", "PATTERN"}
}

func (p patternList) TableRows() [][]string {
	rows := make([][]string, 0, len(p.Phrases)+len(p.Regexes))
	for _, ph := range p.Phrases {
		rows = append(rows, []string{string(patternsource.KindPhrase), ph.Label, strings.Join(ph.Surface, " ")})
	}
	for _, rx := range p.Regexes {
		rows = append(rows, []string{string(patternsource.KindRegex), rx.Label, rx.Expression})
	}
	return rows
}
