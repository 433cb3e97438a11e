package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "NERRULER"

// envKeys lists every leaf key so that environment variables are honoured
// even when no config file mentions the key.
var envKeys = []string{
	"engine.case_insensitive", "engine.labels", "engine.timeout",
	"patterns.source", "patterns.path", "patterns.watch",
	"tokenizer.language", "tokenizer.disable_lemma", "tokenizer.disable_nfc",
	"server.host", "server.port", "server.grpc_port", "server.mode",
	"server.read_timeout", "server.write_timeout", "server.shutdown_timeout", "server.max_body_size",
	"server.tls_cert_file", "server.tls_key_file",
	"metrics.enabled", "metrics.namespace", "metrics.subsystem", "metrics.path",
	"log.level", "log.format", "log.output_paths", "log.error_output_paths",
	"redis.enabled", "redis.addr", "redis.password", "redis.db", "redis.prefix", "redis.ttl",
	"kafka.enabled", "kafka.brokers", "kafka.group_id", "kafka.request_topic",
	"kafka.result_topic", "kafka.dlq_topic", "kafka.max_retries",
	"minio.endpoint", "minio.access_key", "minio.secret_key", "minio.use_ssl", "minio.bucket", "minio.object_key",
	"postgres.dsn", "postgres.migrate_on_start", "postgres.max_conns",
	"opensearch.enabled", "opensearch.addresses", "opensearch.username", "opensearch.password", "opensearch.index",
}

// newViper builds a Viper instance with YAML file type, the NERRULER_ env
// prefix and a "." → "_" key replacer, so "redis.addr" resolves to
// NERRULER_REDIS_ADDR.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the YAML file at configPath, merges NERRULER_* overrides,
// applies defaults and validates.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from NERRULER_* environment variables and
// defaults only.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadOrDefault loads configPath when it is non-empty and falls back to
// LoadFromEnv otherwise.
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	return Load(configPath)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch invokes onChange with the re-parsed Config whenever configPath
// changes. Changes that fail validation are reported to onError, if set, and
// otherwise dropped.
func Watch(configPath string, onChange func(*Config), onError func(error)) {
	v := newViper()
	v.SetConfigFile(configPath)
	_ = v.ReadInConfig()

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// MustLoad is Load that panics on error. Intended for main().
func MustLoad(configPath string) *Config {
	cfg, err := LoadOrDefault(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
