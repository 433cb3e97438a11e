package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultPatternSource = PatternSourceEmbedded
	DefaultEngineTimeout = 5 * time.Second

	DefaultTokenizerLanguage = "french"

	DefaultServerHost     = "0.0.0.0"
	DefaultServerPort     = 8080
	DefaultGRPCPort       = 9090
	DefaultServerMode     = "release"
	DefaultServerTimeout  = 15 * time.Second
	DefaultShutdownPeriod = 10 * time.Second
	DefaultMaxBodySize    = 4 << 20

	DefaultMetricsNamespace = "nerruler"
	DefaultMetricsSubsystem = "engine"
	DefaultMetricsPath      = "/metrics"

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisPrefix = "nerruler:annotation:"
	DefaultRedisTTL    = time.Hour

	DefaultKafkaBroker       = "localhost:9092"
	DefaultKafkaGroupID      = "nerruler-worker"
	DefaultKafkaRequestTopic = "annotation.requests"
	DefaultKafkaResultTopic  = "annotation.results"
	DefaultKafkaDLQTopic     = "annotation.requests.dlq"
	DefaultKafkaMaxRetries   = 3

	DefaultPostgresMaxConns = 4

	DefaultOpenSearchIndex = "annotations"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// DefaultLabels is the label set of the built-in pattern table.
var DefaultLabels = []string{"TECHNOLOGY", "CONCEPT", "TOOL", "ACRONYM", "DATE"}

// ApplyDefaults fills every zero-value field in cfg. Explicit values win.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	if len(cfg.Engine.Labels) == 0 {
		cfg.Engine.Labels = append([]string(nil), DefaultLabels...)
	}
	if cfg.Engine.Timeout == 0 {
		cfg.Engine.Timeout = DefaultEngineTimeout
	}

	// ── Patterns / tokenizer ──────────────────────────────────────────────────
	if cfg.Patterns.Source == "" {
		cfg.Patterns.Source = DefaultPatternSource
	}
	if cfg.Tokenizer.Language == "" {
		cfg.Tokenizer.Language = DefaultTokenizerLanguage
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = DefaultGRPCPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownPeriod
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = DefaultMaxBodySize
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = DefaultRedisPrefix
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = DefaultRedisTTL
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.RequestTopic == "" {
		cfg.Kafka.RequestTopic = DefaultKafkaRequestTopic
	}
	if cfg.Kafka.ResultTopic == "" {
		cfg.Kafka.ResultTopic = DefaultKafkaResultTopic
	}
	if cfg.Kafka.DLQTopic == "" {
		cfg.Kafka.DLQTopic = DefaultKafkaDLQTopic
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = DefaultKafkaMaxRetries
	}

	// ── Postgres / OpenSearch ─────────────────────────────────────────────────
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = DefaultPostgresMaxConns
	}
	if cfg.OpenSearch.Index == "" {
		cfg.OpenSearch.Index = DefaultOpenSearchIndex
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
