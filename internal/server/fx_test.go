package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/insfound/internal/config"
)

const seedSnapshot = `[
  {"id":"a","url":"https://a.example","title":"A","description":"Bold fintech","industry":"Fintech","styles":["bold"]},
  {"id":"b","url":"https://b.example","title":"B","description":"Calm wellness","industry":"Health","styles":["minimalist"]}
]`

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	seed := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(seed, []byte(seedSnapshot), 0o600))
	return &config.Config{
		Server:    config.ServerConfig{Port: 8080, ShutdownTimeoutSeconds: 1},
		Logging:   config.LoggingConfig{Level: "error"},
		Store:     config.StoreConfig{Backend: config.BackendMemory},
		Queue:     config.QueueConfig{Backend: config.BackendMemory, Depth: 4, EnqueueTimeoutMs: 100},
		Embedding: config.EmbeddingConfig{Provider: config.BackendNone},
		Corpus:    config.CorpusConfig{Source: config.BackendMemory, SeedPath: seed},
		Worker:    config.WorkerConfig{Concurrency: 1},
	}
}

func TestBuildMemoryStack(t *testing.T) {
	cfg := memoryConfig(t)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	assert.Nil(t, app.worker, "worker stays off unless enabled")

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"url":"https://acme.example"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?industry=fintech", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var matches []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0]["id"])

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildEnablesWorker(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Worker.Enabled = true
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	assert.NotNil(t, app.worker)
}

func TestBuildFailsOnMissingSeed(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Corpus.SeedPath = filepath.Join(t.TempDir(), "missing.json")
	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corpus seed load failed")
}

func TestBuildRejectsBadLogLevel(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Logging.Level = "loud"
	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
}

func TestNewAppRequiresConfig(t *testing.T) {
	_, err := NewApp(nil, nil)
	require.Error(t, err)
}
