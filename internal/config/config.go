// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by the store, queue, embedding, and corpus sections.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendPubSub   = "pubsub"
	BackendKafka    = "kafka"
	BackendGCS      = "gcs"
	BackendOpenAI   = "openai"
	BackendNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Queue     QueueConfig     `mapstructure:"queue"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Search    SearchConfig    `mapstructure:"search"`
	Corpus    CorpusConfig    `mapstructure:"corpus"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ReadTimeoutSeconds     int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds    int `mapstructure:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	// RequestTimeoutSeconds bounds handler time. It must stay below the write
	// timeout so the JSON timeout body can still be written.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// AdmissionConfig holds operator URL rules.
type AdmissionConfig struct {
	DenyDomains []string `mapstructure:"deny_domains"`
}

// StoreConfig selects the job store.
type StoreConfig struct {
	Backend         string `mapstructure:"backend"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	JobsTable              string `mapstructure:"jobs_table"`
	CorpusTable            string `mapstructure:"corpus_table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// QueueConfig selects how accepted jobs reach the worker.
type QueueConfig struct {
	Backend          string `mapstructure:"backend"`
	Depth            int    `mapstructure:"depth"`
	EnqueueTimeoutMs int    `mapstructure:"enqueue_timeout_ms"`
}

// PubSubConfig holds the Pub/Sub topic for analysis tasks.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// KafkaConfig holds the Kafka topic for analysis tasks.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// EmbeddingConfig configures the embedding backend.
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	TimeoutMs  int    `mapstructure:"timeout_ms"`
	MaxRetries int    `mapstructure:"max_retries"`
	CacheSize  int    `mapstructure:"cache_size"`
}

// SearchConfig bounds the search path.
type SearchConfig struct {
	EmbedTimeoutMs int `mapstructure:"embed_timeout_ms"`
	QueryTimeoutMs int `mapstructure:"query_timeout_ms"`
}

// CorpusConfig selects where indexed inspiration records come from.
type CorpusConfig struct {
	Source    string `mapstructure:"source"`
	SeedPath  string `mapstructure:"seed_path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSObject string `mapstructure:"gcs_object"`
}

// WorkerConfig controls the bundled development worker.
type WorkerConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Concurrency         int    `mapstructure:"concurrency"`
	UserAgent           string `mapstructure:"user_agent"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	MaxRetries          int    `mapstructure:"max_retries"`
	RespectRobots       bool   `mapstructure:"respect_robots"`
	// RateLimitRPS caps fetches per target domain; 0 disables pacing.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// AuthConfig holds the shared key required on worker callback routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INSFOUND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.request_timeout_seconds", 25)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("admission.deny_domains", []string{})
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.cache_ttl_seconds", 0)
	v.SetDefault("database.jobs_table", "analysis_jobs")
	v.SetDefault("database.corpus_table", "inspirations")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.enqueue_timeout_ms", 2000)
	v.SetDefault("kafka.topic", "insfound-analysis")
	v.SetDefault("pubsub.topic_name", "insfound-analysis")
	v.SetDefault("embedding.provider", BackendNone)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.timeout_ms", 10000)
	v.SetDefault("embedding.max_retries", 2)
	v.SetDefault("embedding.cache_size", 4096)
	v.SetDefault("search.embed_timeout_ms", 3000)
	v.SetDefault("search.query_timeout_ms", 2000)
	v.SetDefault("corpus.source", BackendMemory)
	v.SetDefault("worker.enabled", false)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.user_agent", "insfound-bot/0.1")
	v.SetDefault("worker.fetch_timeout_seconds", 15)
	v.SetDefault("worker.max_retries", 2)
	v.SetDefault("worker.respect_robots", true)
	v.SetDefault("worker.rate_limit_rps", 1.0)
	v.SetDefault("worker.rate_limit_burst", 2)
	v.SetDefault("auth.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.WriteTimeoutSeconds > 0 && c.Server.RequestTimeoutSeconds >= c.Server.WriteTimeoutSeconds {
		return fmt.Errorf("server.request_timeout_seconds must be < server.write_timeout_seconds")
	}
	if c.Store.CacheTTLSeconds < 0 {
		return fmt.Errorf("store.cache_ttl_seconds must be >= 0")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend must be memory or postgres, got %q", c.Store.Backend)
	}
	switch c.Queue.Backend {
	case BackendMemory:
		if c.Queue.Depth <= 0 {
			return fmt.Errorf("queue.depth must be > 0")
		}
	case BackendPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when queue.backend is pubsub")
		}
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic are required when queue.backend is kafka")
		}
	default:
		return fmt.Errorf("queue.backend must be memory, pubsub, or kafka, got %q", c.Queue.Backend)
	}
	switch c.Embedding.Provider {
	case BackendNone, "":
	case BackendOpenAI:
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("embedding.api_key is required when embedding.provider is openai")
		}
	default:
		return fmt.Errorf("embedding.provider must be none or openai, got %q", c.Embedding.Provider)
	}
	switch c.Corpus.Source {
	case BackendMemory:
	case BackendGCS:
		if c.Corpus.GCSBucket == "" || c.Corpus.GCSObject == "" {
			return fmt.Errorf("corpus.gcs_bucket and corpus.gcs_object are required when corpus.source is gcs")
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when corpus.source is postgres")
		}
	default:
		return fmt.Errorf("corpus.source must be memory, gcs, or postgres, got %q", c.Corpus.Source)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required when auth.enabled is true")
	}
	if c.Worker.Enabled {
		if c.Queue.Backend != BackendMemory {
			return fmt.Errorf("worker.enabled requires queue.backend memory")
		}
		if c.Worker.Concurrency <= 0 {
			return fmt.Errorf("worker.concurrency must be > 0 when the worker is enabled")
		}
	}
	return nil
}

// CacheTTL returns the completed-result TTL; zero disables expiry.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Store.CacheTTLSeconds) * time.Second
}

// RequestTimeout bounds a single API request. When unset it falls one second
// short of the write timeout; zero leaves the API default in place.
func (c Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSeconds > 0 {
		return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
	}
	if c.Server.WriteTimeoutSeconds > 1 {
		return time.Duration(c.Server.WriteTimeoutSeconds-1) * time.Second
	}
	return 0
}

// EnqueueTimeout bounds the hand-off to the worker queue.
func (c Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.Queue.EnqueueTimeoutMs) * time.Millisecond
}

// EmbedTimeout bounds a single embedding call on the search path.
func (c Config) EmbedTimeout() time.Duration {
	return time.Duration(c.Search.EmbedTimeoutMs) * time.Millisecond
}

// QueryTimeout bounds a single index query.
func (c Config) QueryTimeout() time.Duration {
	return time.Duration(c.Search.QueryTimeoutMs) * time.Millisecond
}

// FetchTimeout bounds a single worker page fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Worker.FetchTimeoutSeconds) * time.Second
}
