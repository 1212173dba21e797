package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.Server.HTTPAddress())
	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4j.URI)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 4, cfg.Kafka.Workers)
	assert.Equal(t, 2, cfg.Kafka.Prefetch)
	assert.Equal(t, time.Hour, cfg.Redis.TaskResultTTL)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.TaskHardTimeout)
	assert.Equal(t, 25*time.Minute, cfg.Pipeline.TaskSoftTimeout)
	assert.Equal(t, int64(50*1024*1024), cfg.Pipeline.PDFMaxBytes)
	assert.InDelta(t, 0.6, cfg.Pipeline.MappingConfidence, 1e-9)
	assert.InDelta(t, 0.4, cfg.Pipeline.LinkerGateThreshold, 1e-9)
	assert.InDelta(t, 0.6, cfg.Pipeline.LinkerAcceptThreshold, 1e-9)
	assert.Equal(t, 1, cfg.Pipeline.LinkerYearTolerance)
	assert.True(t, cfg.Sources.CrossRef.Enabled)
	assert.Equal(t, "https://api.crossref.org", cfg.Sources.CrossRef.BaseURL)
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("PAPERPARSER_NEO4J_PASSWORD", "graph-secret")
	t.Setenv("PAPERPARSER_SOURCES_SEMANTIC_SCHOLAR_API_KEY", "s2-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "graph-secret", cfg.Neo4j.Password)
	assert.Equal(t, "s2-key", cfg.Sources.SemanticScholar.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad http port", mutate: func(c *Config) { c.Server.HTTPPort = 0 }},
		{name: "missing neo4j uri", mutate: func(c *Config) { c.Neo4j.URI = "" }},
		{name: "missing redis address", mutate: func(c *Config) { c.Redis.Address = "" }},
		{name: "no kafka brokers", mutate: func(c *Config) { c.Kafka.Brokers = nil }},
		{name: "soft timeout above hard", mutate: func(c *Config) { c.Pipeline.TaskSoftTimeout = time.Hour }},
		{name: "gate above accept", mutate: func(c *Config) { c.Pipeline.LinkerGateThreshold = 0.9 }},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
