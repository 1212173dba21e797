// Package config provides configuration management for the paper parser service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the paper parser service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Neo4j contains graph store connection settings.
	Neo4j Neo4jConfig `mapstructure:"neo4j"`
	// Redis contains task store / pub-sub settings.
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka contains task queue settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// ObjectStore contains S3-compatible object store settings.
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	// Requester contains outbound HTTP policy settings.
	Requester RequesterConfig `mapstructure:"requester"`
	// Sources contains external source API configurations.
	Sources SourcesConfig `mapstructure:"sources"`
	// Pipeline contains ingestion pipeline tuning.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8000).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading a request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing a response. SSE streams
	// are exempted via per-handler response controllers.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Neo4jConfig holds graph store connection configuration.
type Neo4jConfig struct {
	// URI is the bolt/neo4j connection URI.
	URI string `mapstructure:"uri"`
	// Username is the database user.
	Username string `mapstructure:"username"`
	// Password is the database password (loaded from PAPERPARSER_NEO4J_PASSWORD).
	Password string `mapstructure:"-"`
	// Database is the Neo4j database name.
	Database string `mapstructure:"database"`
	// MaxConnectionPoolSize caps the driver connection pool.
	MaxConnectionPoolSize int `mapstructure:"max_connection_pool_size"`
	// ConnectionTimeout is the maximum time to establish a connection.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

// RedisConfig holds Redis connection configuration for the task store,
// pub/sub fan-out, cancel flags, and dedup locks.
type RedisConfig struct {
	// Address is the host:port of the Redis server.
	Address string `mapstructure:"address"`
	// Password is the Redis password (loaded from PAPERPARSER_REDIS_PASSWORD).
	Password string `mapstructure:"-"`
	// DB is the Redis logical database number.
	DB int `mapstructure:"db"`
	// TaskResultTTL is how long completed task snapshots are retained.
	TaskResultTTL time.Duration `mapstructure:"task_result_ttl"`
}

// KafkaConfig holds task queue settings.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the topic task submissions are queued on.
	Topic string `mapstructure:"topic"`
	// GroupID is the consumer group for ingestion workers.
	GroupID string `mapstructure:"group_id"`
	// Workers is the number of concurrent tasks one worker process runs.
	Workers int `mapstructure:"workers"`
	// Prefetch is the number of queued messages fetched ahead per worker.
	Prefetch int `mapstructure:"prefetch"`
}

// ObjectStoreConfig holds S3-compatible object store settings.
type ObjectStoreConfig struct {
	// Endpoint is the object store endpoint (host:port).
	Endpoint string `mapstructure:"endpoint"`
	// AccessKey is the access key ID (loaded from PAPERPARSER_OBJECT_STORE_ACCESS_KEY).
	AccessKey string `mapstructure:"-"`
	// SecretKey is the secret access key (loaded from PAPERPARSER_OBJECT_STORE_SECRET_KEY).
	SecretKey string `mapstructure:"-"`
	// Bucket is the bucket PDFs are uploaded to.
	Bucket string `mapstructure:"bucket"`
	// UseSSL enables TLS for object store connections.
	UseSSL bool `mapstructure:"use_ssl"`
	// PresignExpiry is the lifetime of presigned upload URLs.
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
	// PublicHosts lists hostnames recognized as object-store URLs during
	// content acquisition.
	PublicHosts []string `mapstructure:"public_hosts"`
}

// RequesterConfig holds outbound HTTP policy settings.
type RequesterConfig struct {
	// ExternalProxy is the proxy URL used for external destinations. Empty
	// disables proxying.
	ExternalProxy string `mapstructure:"external_proxy"`
	// InternalTimeout is the per-request timeout for internal destinations.
	InternalTimeout time.Duration `mapstructure:"internal_timeout"`
	// ExternalTimeout is the per-request timeout for external destinations.
	ExternalTimeout time.Duration `mapstructure:"external_timeout"`
	// MaxRetries is the retry cap for retryable external failures.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBaseDelay is the initial backoff delay between retries.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	// UserAgent is the User-Agent header sent with requests.
	UserAgent string `mapstructure:"user_agent"`
}

// SourcesConfig holds configuration for all external source APIs.
type SourcesConfig struct {
	// CrossRef contains CrossRef API settings.
	CrossRef SourceConfig `mapstructure:"crossref"`
	// ArXiv contains arXiv API settings.
	ArXiv SourceConfig `mapstructure:"arxiv"`
	// SemanticScholar contains Semantic Scholar API settings.
	SemanticScholar SourceConfig `mapstructure:"semantic_scholar"`
	// Unpaywall contains open-access lookup settings.
	Unpaywall SourceConfig `mapstructure:"unpaywall"`
	// Grobid contains the TEI PDF parser service settings.
	Grobid SourceConfig `mapstructure:"grobid"`
}

// SourceConfig holds configuration for a single external source API.
type SourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key, loaded from environment only
	// (e.g. PAPERPARSER_SOURCES_SEMANTIC_SCHOLAR_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// Email is the polite-pool contact address sent to sources that want one.
	Email string `mapstructure:"email"`
}

// PipelineConfig holds ingestion pipeline tuning.
type PipelineConfig struct {
	// TaskHardTimeout fails a task that runs longer than this.
	TaskHardTimeout time.Duration `mapstructure:"task_hard_timeout"`
	// TaskSoftTimeout emits a warning event after this long.
	TaskSoftTimeout time.Duration `mapstructure:"task_soft_timeout"`
	// TaskConcurrency bounds parallel component I/O within one task.
	TaskConcurrency int `mapstructure:"task_concurrency"`
	// InFlightWindow is the staleness window for phase-3 in-flight dedup.
	InFlightWindow time.Duration `mapstructure:"in_flight_window"`
	// PDFMaxBytes caps downloaded PDF size.
	PDFMaxBytes int64 `mapstructure:"pdf_max_bytes"`
	// MappingConfidence is the default URL-mapping acceptance threshold.
	MappingConfidence float64 `mapstructure:"mapping_confidence"`
	// MetadataConfidence is the metadata waterfall acceptance threshold.
	MetadataConfidence float64 `mapstructure:"metadata_confidence"`
	// LinkerGateThreshold is the cheap title-similarity lower bound before
	// computing the full composite score.
	LinkerGateThreshold float64 `mapstructure:"linker_gate_threshold"`
	// LinkerAcceptThreshold is the composite-score acceptance threshold.
	LinkerAcceptThreshold float64 `mapstructure:"linker_accept_threshold"`
	// LinkerYearTolerance is the allowed publication year delta for fuzzy
	// citation matches.
	LinkerYearTolerance int `mapstructure:"linker_year_tolerance"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAPERPARSER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paper-parser")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Neo4j.Password = os.Getenv("PAPERPARSER_NEO4J_PASSWORD")
	cfg.Redis.Password = os.Getenv("PAPERPARSER_REDIS_PASSWORD")
	cfg.ObjectStore.AccessKey = os.Getenv("PAPERPARSER_OBJECT_STORE_ACCESS_KEY")
	cfg.ObjectStore.SecretKey = os.Getenv("PAPERPARSER_OBJECT_STORE_SECRET_KEY")

	cfg.Sources.CrossRef.APIKey = os.Getenv("PAPERPARSER_SOURCES_CROSSREF_API_KEY")
	cfg.Sources.SemanticScholar.APIKey = os.Getenv("PAPERPARSER_SOURCES_SEMANTIC_SCHOLAR_API_KEY")
	cfg.Sources.Unpaywall.APIKey = os.Getenv("PAPERPARSER_SOURCES_UNPAYWALL_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Neo4j defaults
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.max_connection_pool_size", 50)
	v.SetDefault("neo4j.connection_timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.task_result_ttl", "1h")

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "paper-parser.tasks")
	v.SetDefault("kafka.group_id", "paper-parser-workers")
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("kafka.prefetch", 2)

	// Object store defaults
	v.SetDefault("object_store.endpoint", "localhost:9000")
	v.SetDefault("object_store.bucket", "paper-pdfs")
	v.SetDefault("object_store.use_ssl", false)
	v.SetDefault("object_store.presign_expiry", "15m")
	v.SetDefault("object_store.public_hosts", []string{})

	// Requester defaults
	v.SetDefault("requester.external_proxy", "")
	v.SetDefault("requester.internal_timeout", "10s")
	v.SetDefault("requester.external_timeout", "30s")
	v.SetDefault("requester.max_retries", 3)
	v.SetDefault("requester.retry_base_delay", "1s")
	v.SetDefault("requester.user_agent", "PaperParser/1.0 (+https://github.com/tyqqj0/paper-parser)")

	// Source defaults - CrossRef
	v.SetDefault("sources.crossref.enabled", true)
	v.SetDefault("sources.crossref.base_url", "https://api.crossref.org")
	v.SetDefault("sources.crossref.timeout", "30s")
	v.SetDefault("sources.crossref.rate_limit", 10.0)
	v.SetDefault("sources.crossref.email", "")

	// Source defaults - arXiv
	v.SetDefault("sources.arxiv.enabled", true)
	v.SetDefault("sources.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("sources.arxiv.timeout", "30s")
	v.SetDefault("sources.arxiv.rate_limit", 3.0) // arXiv recommends max 3 req/sec

	// Source defaults - Semantic Scholar
	v.SetDefault("sources.semantic_scholar.enabled", true)
	v.SetDefault("sources.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("sources.semantic_scholar.timeout", "30s")
	v.SetDefault("sources.semantic_scholar.rate_limit", 10.0)

	// Source defaults - Unpaywall
	v.SetDefault("sources.unpaywall.enabled", true)
	v.SetDefault("sources.unpaywall.base_url", "https://api.unpaywall.org/v2")
	v.SetDefault("sources.unpaywall.timeout", "30s")
	v.SetDefault("sources.unpaywall.rate_limit", 5.0)
	v.SetDefault("sources.unpaywall.email", "")

	// Source defaults - GROBID (internal service)
	v.SetDefault("sources.grobid.enabled", true)
	v.SetDefault("sources.grobid.base_url", "http://localhost:8070")
	v.SetDefault("sources.grobid.timeout", "120s")
	v.SetDefault("sources.grobid.rate_limit", 10.0)

	// Pipeline defaults
	v.SetDefault("pipeline.task_hard_timeout", "30m")
	v.SetDefault("pipeline.task_soft_timeout", "25m")
	v.SetDefault("pipeline.task_concurrency", 3)
	v.SetDefault("pipeline.in_flight_window", "30m")
	v.SetDefault("pipeline.pdf_max_bytes", int64(50*1024*1024))
	v.SetDefault("pipeline.mapping_confidence", 0.6)
	v.SetDefault("pipeline.metadata_confidence", 0.5)
	v.SetDefault("pipeline.linker_gate_threshold", 0.4)
	v.SetDefault("pipeline.linker_accept_threshold", 0.6)
	v.SetDefault("pipeline.linker_year_tolerance", 1)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	if c.Neo4j.URI == "" {
		return fmt.Errorf("neo4j URI is required")
	}
	if c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	if c.Kafka.Workers <= 0 {
		return fmt.Errorf("kafka workers must be positive")
	}

	if c.Pipeline.TaskSoftTimeout >= c.Pipeline.TaskHardTimeout {
		return fmt.Errorf("task_soft_timeout (%s) must be below task_hard_timeout (%s)",
			c.Pipeline.TaskSoftTimeout, c.Pipeline.TaskHardTimeout)
	}
	if c.Pipeline.TaskConcurrency <= 0 {
		return fmt.Errorf("task_concurrency must be positive")
	}
	if c.Pipeline.PDFMaxBytes <= 0 {
		return fmt.Errorf("pdf_max_bytes must be positive")
	}
	if c.Pipeline.MappingConfidence < 0 || c.Pipeline.MappingConfidence > 1 {
		return fmt.Errorf("mapping_confidence must be between 0 and 1")
	}
	if c.Pipeline.LinkerGateThreshold > c.Pipeline.LinkerAcceptThreshold {
		return fmt.Errorf("linker_gate_threshold (%f) must not exceed linker_accept_threshold (%f)",
			c.Pipeline.LinkerGateThreshold, c.Pipeline.LinkerAcceptThreshold)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}
