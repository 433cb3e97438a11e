package cli

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/nerruler/internal/config"
	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	grpcserver "github.com/turtacn/nerruler/internal/interfaces/grpc"
	"github.com/turtacn/nerruler/internal/interfaces/grpc/services"
	httpserver "github.com/turtacn/nerruler/internal/interfaces/http"
	"github.com/turtacn/nerruler/internal/interfaces/http/handlers"
	"github.com/turtacn/nerruler/internal/interfaces/http/middleware"
	"github.com/turtacn/nerruler/pkg/errors"
)

func newServeCmd() *cobra.Command {
	var noGRPC bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the annotation API over HTTP and gRPC",
		Long: "Serve loads the pattern table and exposes annotation, evaluation and pattern\n" +
			"inspection over HTTP (server.port) and gRPC (server.grpc_port) until SIGINT\n" +
			"or SIGTERM. With patterns.watch set and a file source, edits to the pattern\n" +
			"file are applied without a restart.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cc, !noGRPC)
		},
	}
	cmd.Flags().BoolVar(&noGRPC, "no-grpc", false, "serve HTTP only")
	return cmd
}

// serverLogger follows the log section of the configuration rather than the
// CLI flags, so a deployed server logs JSON by default.
func serverLogger(cfg *config.Config) (logging.Logger, error) {
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}

func runServe(ctx context.Context, cc *CLIContext, withGRPC bool) error {
	cfg := cc.Config
	logger, err := serverLogger(cfg)
	if err != nil {
		return err
	}

	rt, err := NewRuntime(ctx, cfg, logger, "http")
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.WatchPatterns(); err != nil {
		return err
	}
	if cc.ConfigPath != "" {
		config.Watch(cc.ConfigPath, func(*config.Config) {
			logger.Warn("configuration file changed; restart to apply", logging.String("path", cc.ConfigPath))
		}, func(err error) {
			logger.Error("changed configuration is invalid", logging.Err(err))
		})
	}

	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpserver.NewRouter(httpserver.RouterConfig{
		AnnotationHandler: handlers.NewAnnotationHandler(rt.Service),
		HealthHandler:     handlers.NewHealthHandler(Version, rt.HealthCheckers()...),
		Logging:           middleware.DefaultLoggingConfig(),
		MaxBodySize:       cfg.Server.MaxBodySize,
		Logger:            logger.Named("http"),
		Metrics:           rt.Metrics,
		MetricsCollector:  rt.Collector,
		MetricsPath:       cfg.Metrics.Path,
	})
	httpSrv := httpserver.NewServer(cfg.Server, router, logger)

	var grpcSrv *grpcserver.Server
	if withGRPC {
		opts := []grpcserver.Option{
			grpcserver.WithLogger(logger.Named("grpc")),
			grpcserver.WithMetrics(rt.Metrics),
			grpcserver.WithGracefulTimeout(cfg.Server.ShutdownTimeout),
			grpcserver.WithMaxRecvMsgSize(int(cfg.Server.MaxBodySize)),
		}
		if cfg.Server.TLSEnabled() {
			cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeValidation, "load TLS key pair").WithDetail(cfg.Server.TLSCertFile)
			}
			opts = append(opts, grpcserver.WithTLSConfig(&tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}))
		}
		grpcSrv, err = grpcserver.NewServer(cfg.Server, opts...)
		if err != nil {
			return err
		}
		services.NewAnnotatorService(rt.Service, logger).Register(grpcSrv)
		grpcSrv.SetServing(true)
	}

	logger.Info("nerruler serving",
		logging.String("version", Version),
		logging.String("http_addr", httpSrv.Addr()),
		logging.Bool("grpc", withGRPC),
		logging.String("pattern_source", cfg.Patterns.Source))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Start)
	if grpcSrv != nil {
		g.Go(grpcSrv.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		stopCtx := context.WithoutCancel(gctx)
		if grpcSrv != nil {
			grpcSrv.SetServing(false)
			if err := grpcSrv.Stop(stopCtx); err != nil {
				logger.Error("grpc shutdown failed", logging.Err(err))
			}
		}
		return httpSrv.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("nerruler stopped")
	return nil
}
