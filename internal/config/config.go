// Package config defines the configuration structures for nerruler. No I/O
// lives here, only data types and validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
)

// Pattern source kinds.
const (
	PatternSourceEmbedded = "embedded"
	PatternSourceFile     = "file"
	PatternSourceMinIO    = "minio"
	PatternSourcePostgres = "postgres"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// EngineConfig controls matching semantics.
type EngineConfig struct {
	// CaseInsensitive folds pattern and token text before comparison.
	// The zero value keeps exact, case-sensitive matching.
	CaseInsensitive bool `mapstructure:"case_insensitive"`
	// Labels is the closed set of labels a pattern table may use.
	Labels []string `mapstructure:"labels"`
	// Timeout bounds a single annotate call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// PatternsConfig selects where the pattern table is loaded from.
type PatternsConfig struct {
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`
	Watch  bool   `mapstructure:"watch"`
}

// TokenizerConfig configures the reference tokenizer.
type TokenizerConfig struct {
	Language     string `mapstructure:"language"`
	DisableLemma bool   `mapstructure:"disable_lemma"`
	DisableNFC   bool   `mapstructure:"disable_nfc"`
}

// ServerConfig holds HTTP and gRPC listener tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	// TLSCertFile and TLSKeyFile enable TLS on both listeners when set.
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`
}

// TLSEnabled reports whether a certificate pair is configured.
func (s ServerConfig) TLSEnabled() bool { return s.TLSCertFile != "" }

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Subsystem string `mapstructure:"subsystem"`
	Path      string `mapstructure:"path"`
}

// RedisConfig configures the annotation result cache.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// KafkaConfig configures the annotation job worker.
type KafkaConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Brokers      []string `mapstructure:"brokers"`
	GroupID      string   `mapstructure:"group_id"`
	RequestTopic string   `mapstructure:"request_topic"`
	ResultTopic  string   `mapstructure:"result_topic"`
	DLQTopic     string   `mapstructure:"dlq_topic"`
	MaxRetries   int      `mapstructure:"max_retries"`
}

// MinIOConfig locates a pattern table stored as an object.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	ObjectKey string `mapstructure:"object_key"`
}

// PostgresConfig locates a pattern table stored in a database.
type PostgresConfig struct {
	DSN            string `mapstructure:"dsn"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
	MaxConns       int32  `mapstructure:"max_conns"`
}

// OpenSearchConfig configures the optional annotated-document index.
type OpenSearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object.
type Config struct {
	Engine     EngineConfig      `mapstructure:"engine"`
	Patterns   PatternsConfig    `mapstructure:"patterns"`
	Tokenizer  TokenizerConfig   `mapstructure:"tokenizer"`
	Server     ServerConfig      `mapstructure:"server"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	Log        logging.LogConfig `mapstructure:"log"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Kafka      KafkaConfig       `mapstructure:"kafka"`
	MinIO      MinIOConfig       `mapstructure:"minio"`
	Postgres   PostgresConfig    `mapstructure:"postgres"`
	OpenSearch OpenSearchConfig  `mapstructure:"opensearch"`
}

// Validate checks required fields and value ranges. Sections that are
// disabled are not checked.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil config")
	}

	// Engine
	if len(c.Engine.Labels) == 0 {
		return fmt.Errorf("config: engine.labels must contain at least one label")
	}
	for _, l := range c.Engine.Labels {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("config: engine.labels contains an empty label")
		}
	}
	if c.Engine.Timeout < 0 {
		return fmt.Errorf("config: engine.timeout must be ≥ 0, got %s", c.Engine.Timeout)
	}

	// Patterns
	switch c.Patterns.Source {
	case PatternSourceEmbedded:
	case PatternSourceFile:
		if c.Patterns.Path == "" {
			return fmt.Errorf("config: patterns.path is required for source %q", c.Patterns.Source)
		}
	case PatternSourceMinIO:
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" || c.MinIO.ObjectKey == "" {
			return fmt.Errorf("config: minio.endpoint, minio.bucket and minio.object_key are required for source %q", c.Patterns.Source)
		}
	case PatternSourcePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("config: postgres.dsn is required for source %q", c.Patterns.Source)
		}
	default:
		return fmt.Errorf("config: patterns.source %q is invalid; expected embedded|file|minio|postgres", c.Patterns.Source)
	}
	if c.Patterns.Watch && c.Patterns.Source != PatternSourceFile {
		return fmt.Errorf("config: patterns.watch is only supported for source %q", PatternSourceFile)
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	if c.Server.GRPCPort < 1 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("config: server.grpc_port %d is out of range [1, 65535]", c.Server.GRPCPort)
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("config: server.tls_cert_file and server.tls_key_file must be set together")
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("config: metrics.namespace is required when metrics are enabled")
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when redis is enabled")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.RequestTopic == "" || c.Kafka.ResultTopic == "" {
			return fmt.Errorf("config: kafka.request_topic and kafka.result_topic are required")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
	}

	// OpenSearch
	if c.OpenSearch.Enabled && (len(c.OpenSearch.Addresses) == 0 || c.OpenSearch.Index == "") {
		return fmt.Errorf("config: opensearch.addresses and opensearch.index are required when opensearch is enabled")
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
