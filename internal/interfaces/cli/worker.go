package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/nerruler/internal/application/annotate"
	"github.com/turtacn/nerruler/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/nerruler/internal/interfaces/http"
	"github.com/turtacn/nerruler/internal/interfaces/http/handlers"
	"github.com/turtacn/nerruler/internal/interfaces/http/middleware"
	"github.com/turtacn/nerruler/pkg/errors"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Annotate documents queued on Kafka",
		Long: "Worker consumes annotation.requested events from kafka.request_topic and\n" +
			"publishes annotation.completed events to kafka.result_topic. Messages that\n" +
			"keep failing after kafka.max_retries go to kafka.dlq_topic. Health and\n" +
			"metrics are served on server.port.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, cc)
		},
	}
	cmd.AddCommand(newWorkerSubmitCmd())
	return cmd
}

func runWorker(ctx context.Context, cc *CLIContext) error {
	cfg := cc.Config
	if !cfg.Kafka.Enabled {
		return errors.New(errors.ErrCodeFeatureDisabled, "kafka is not enabled; set kafka.enabled")
	}
	logger, err := serverLogger(cfg)
	if err != nil {
		return err
	}

	rt, err := NewRuntime(ctx, cfg, logger, "worker")
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.WatchPatterns(); err != nil {
		return err
	}

	topics, err := kafka.NewTopicManager(cfg.Kafka.Brokers, logger)
	if err != nil {
		return err
	}
	err = topics.EnsureTopics(ctx, kafka.AnnotationTopics(cfg.Kafka.RequestTopic, cfg.Kafka.ResultTopic, cfg.Kafka.DLQTopic))
	_ = topics.Close()
	if err != nil {
		return err
	}

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.MaxRetries, logger.Named("producer"))
	if err != nil {
		return err
	}
	defer producer.Close()

	handler, err := annotate.NewJobHandler(rt.Service, producer, cfg.Kafka.ResultTopic, rt.Metrics, logger.Named("jobs"))
	if err != nil {
		return err
	}
	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.RequestTopic, handler.Handle,
		kafka.RetryConfig{MaxRetries: cfg.Kafka.MaxRetries, DeadLetterTopic: cfg.Kafka.DLQTopic},
		producer, logger.Named("consumer"))
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	defer consumer.Close()

	gin.SetMode(gin.ReleaseMode)
	router := httpserver.NewRouter(httpserver.RouterConfig{
		HealthHandler:    handlers.NewHealthHandler(Version, rt.HealthCheckers()...),
		Logging:          middleware.DefaultLoggingConfig(),
		Logger:           logger.Named("http"),
		Metrics:          rt.Metrics,
		MetricsCollector: rt.Collector,
		MetricsPath:      cfg.Metrics.Path,
	})
	httpSrv := httpserver.NewServer(cfg.Server, router, logger)

	logger.Info("nerruler worker running",
		logging.String("request_topic", cfg.Kafka.RequestTopic),
		logging.String("result_topic", cfg.Kafka.ResultTopic),
		logging.String("group_id", cfg.Kafka.GroupID))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Start)
	g.Go(func() error {
		<-gctx.Done()
		return httpSrv.Stop(context.WithoutCancel(gctx))
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("nerruler worker stopped",
		logging.Int64("processed", consumer.Processed()),
		logging.Int64("dead_lettered", consumer.DeadLettered()))
	return nil
}

func newWorkerSubmitCmd() *cobra.Command {
	job := annotate.AnnotationJob{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue one document for the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cfg := cc.Config
			if !cfg.Kafka.Enabled {
				return errors.New(errors.ErrCodeFeatureDisabled, "kafka is not enabled; set kafka.enabled")
			}
			ctx, cancel := operationContext(cmd, cc)
			defer cancel()

			msg, err := annotate.NewJobMessage(cfg.Kafka.RequestTopic, job)
			if err != nil {
				return err
			}
			producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.MaxRetries, cc.Logger)
			if err != nil {
				return err
			}
			defer producer.Close()
			if err := producer.Publish(ctx, msg); err != nil {
				return err
			}
			PrintSuccess(cmd, "queued job "+string(msg.Key)+" on "+cfg.Kafka.RequestTopic)
			return nil
		},
	}
	cmd.Flags().StringVar(&job.ID, "id", "", "job id (default: generated)")
	cmd.Flags().StringVarP(&job.Text, "text", "t", "", "document text (required)")
	cmd.Flags().BoolVar(&job.Index, "index", false, "index the annotated document")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
