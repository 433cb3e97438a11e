package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
engine:
  case_insensitive: true
  labels: [TOOL, DATE]
  timeout: 2s
patterns:
  source: file
  path: ./patterns.yaml
  watch: true
server:
  port: 9000
  mode: test
redis:
  enabled: true
  addr: "cache:6379"
  ttl: 10m
kafka:
  enabled: true
  brokers: ["k1:9092", "k2:9092"]
log:
  level: debug
  format: console
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, PatternSourceEmbedded, cfg.Patterns.Source)
	assert.Equal(t, DefaultLabels, cfg.Engine.Labels)
	assert.False(t, cfg.Engine.CaseInsensitive)
	assert.Equal(t, "french", cfg.Tokenizer.Language)
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: 1234}, Engine: EngineConfig{Labels: []string{"X"}}}
	ApplyDefaults(cfg)
	assert.Equal(t, 1234, cfg.Server.Port)
	assert.Equal(t, []string{"X"}, cfg.Engine.Labels)
	assert.Equal(t, DefaultGRPCPort, cfg.Server.GRPCPort)

	ApplyDefaults(nil)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfigYAML))
	require.NoError(t, err)

	assert.True(t, cfg.Engine.CaseInsensitive)
	assert.Equal(t, []string{"TOOL", "DATE"}, cfg.Engine.Labels)
	assert.Equal(t, 2*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, PatternSourceFile, cfg.Patterns.Source)
	assert.True(t, cfg.Patterns.Watch)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, DefaultKafkaRequestTopic, cfg.Kafka.RequestTopic)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("NERRULER_SERVER_PORT", "7070")
	t.Setenv("NERRULER_ENGINE_CASE_INSENSITIVE", "true")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.Engine.CaseInsensitive)
}

func TestLoadOrDefault_Empty(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
}

func TestMustLoad_PanicsOnInvalid(t *testing.T) {
	path := writeConfig(t, "patterns:\n  source: ftp\n")
	assert.Panics(t, func() { MustLoad(path) })
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty label", func(c *Config) { c.Engine.Labels = []string{"TOOL", " "} }},
		{"negative timeout", func(c *Config) { c.Engine.Timeout = -time.Second }},
		{"bad source", func(c *Config) { c.Patterns.Source = "ftp" }},
		{"file without path", func(c *Config) { c.Patterns.Source = PatternSourceFile }},
		{"minio without bucket", func(c *Config) { c.Patterns.Source = PatternSourceMinIO }},
		{"postgres without dsn", func(c *Config) { c.Patterns.Source = PatternSourcePostgres }},
		{"watch embedded", func(c *Config) { c.Patterns.Watch = true }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad mode", func(c *Config) { c.Server.Mode = "prod" }},
		{"tls cert without key", func(c *Config) { c.Server.TLSCertFile = "server.crt" }},
		{"metrics without namespace", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Namespace = "" }},
		{"kafka without topic", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.ResultTopic = "" }},
		{"opensearch without address", func(c *Config) { c.OpenSearch.Enabled = true }},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())
}
