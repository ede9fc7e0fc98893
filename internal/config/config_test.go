package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: false
  level: debug
admission:
  deny_domains: ["blocked.example", "*.internal.corp"]
store:
  backend: postgres
  cache_ttl_seconds: 3600
database:
  dsn: postgres://localhost/insfound
  jobs_table: jobs
queue:
  backend: kafka
  enqueue_timeout_ms: 500
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: analysis
embedding:
  provider: openai
  api_key: sk-test
search:
  embed_timeout_ms: 1500
  query_timeout_ms: 750
corpus:
  source: gcs
  gcs_bucket: corpus-bucket
  gcs_object: inspirations.json
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if len(cfg.Admission.DenyDomains) != 2 || cfg.Admission.DenyDomains[1] != "*.internal.corp" {
		t.Fatalf("expected deny domains to load, got %v", cfg.Admission.DenyDomains)
	}
	if cfg.Database.JobsTable != "jobs" || cfg.Database.CorpusTable != "inspirations" {
		t.Fatalf("expected table overrides with defaults, got %+v", cfg.Database)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("expected two kafka brokers, got %v", cfg.Kafka.Brokers)
	}
	if got := cfg.CacheTTL(); got != time.Hour {
		t.Fatalf("expected cache ttl 1h, got %v", got)
	}
	if got := cfg.EnqueueTimeout(); got != 500*time.Millisecond {
		t.Fatalf("expected enqueue timeout 500ms, got %v", got)
	}
	if got := cfg.EmbedTimeout(); got != 1500*time.Millisecond {
		t.Fatalf("expected embed timeout 1.5s, got %v", got)
	}
	if got := cfg.QueryTimeout(); got != 750*time.Millisecond {
		t.Fatalf("expected query timeout 750ms, got %v", got)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Fatalf("expected default embedding model, got %q", cfg.Embedding.Model)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Backend != BackendMemory || cfg.Queue.Backend != BackendMemory {
		t.Fatalf("expected memory backends by default, got %+v %+v", cfg.Store, cfg.Queue)
	}
	if cfg.Embedding.Provider != BackendNone {
		t.Fatalf("expected embedding disabled by default, got %q", cfg.Embedding.Provider)
	}
	if cfg.CacheTTL() != 0 {
		t.Fatalf("expected no cache ttl by default, got %v", cfg.CacheTTL())
	}
	if cfg.FetchTimeout() != 15*time.Second {
		t.Fatalf("expected 15s fetch timeout, got %v", cfg.FetchTimeout())
	}
	if cfg.Worker.MaxRetries != 2 || !cfg.Worker.RespectRobots || cfg.Worker.RateLimitRPS != 1 || cfg.Worker.RateLimitBurst != 2 {
		t.Fatalf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if cfg.Auth.Enabled {
		t.Fatal("expected auth disabled by default")
	}
	if cfg.RequestTimeout() != 25*time.Second {
		t.Fatalf("expected 25s request timeout, got %v", cfg.RequestTimeout())
	}
}

func TestRequestTimeoutStaysBelowWriteTimeout(t *testing.T) {
	t.Parallel()

	cfg := Config{Server: ServerConfig{WriteTimeoutSeconds: 30}}
	if got := cfg.RequestTimeout(); got != 29*time.Second {
		t.Fatalf("expected 29s derived from the write timeout, got %v", got)
	}
	cfg.Server.RequestTimeoutSeconds = 10
	if got := cfg.RequestTimeout(); got != 10*time.Second {
		t.Fatalf("expected explicit 10s, got %v", got)
	}
	if got := (Config{}).RequestTimeout(); got != 0 {
		t.Fatalf("expected zero without timeouts, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Store:     StoreConfig{Backend: BackendMemory},
		Queue:     QueueConfig{Backend: BackendMemory, Depth: 8},
		Embedding: EmbeddingConfig{Provider: BackendNone},
		Corpus:    CorpusConfig{Source: BackendMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to be valid, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"negative ttl", func(c *Config) { c.Store.CacheTTLSeconds = -1 }, "store.cache_ttl_seconds"},
		{"unknown store", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, "database.dsn"},
		{"zero queue depth", func(c *Config) { c.Queue.Depth = 0 }, "queue.depth"},
		{"pubsub without topic", func(c *Config) { c.Queue.Backend = BackendPubSub }, "pubsub.project_id"},
		{"kafka without brokers", func(c *Config) { c.Queue.Backend = BackendKafka }, "kafka.brokers"},
		{"unknown queue", func(c *Config) { c.Queue.Backend = "sqs" }, "queue.backend"},
		{"openai without key", func(c *Config) { c.Embedding.Provider = BackendOpenAI }, "embedding.api_key"},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }, "embedding.provider"},
		{"gcs without bucket", func(c *Config) { c.Corpus.Source = BackendGCS }, "corpus.gcs_bucket"},
		{"postgres corpus without dsn", func(c *Config) { c.Corpus.Source = BackendPostgres }, "database.dsn"},
		{"worker on kafka", func(c *Config) {
			c.Worker.Enabled = true
			c.Worker.Concurrency = 1
			c.Queue.Backend = BackendKafka
			c.Kafka = KafkaConfig{Brokers: []string{"k:9092"}, Topic: "t"}
		}, "worker.enabled"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"request timeout past write timeout", func(c *Config) {
			c.Server.WriteTimeoutSeconds = 30
			c.Server.RequestTimeoutSeconds = 60
		}, "server.request_timeout_seconds"},
		{"worker without concurrency", func(c *Config) { c.Worker.Enabled = true }, "worker.concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
