package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/insfound/internal/admission"
	"github.com/JakeFAU/insfound/internal/clock/system"
	"github.com/JakeFAU/insfound/internal/config"
	"github.com/JakeFAU/insfound/internal/dispatcher"
	idUUID "github.com/JakeFAU/insfound/internal/id/uuid"
	"github.com/JakeFAU/insfound/internal/inspiration"
	publisherMemory "github.com/JakeFAU/insfound/internal/publisher/memory"
	"github.com/JakeFAU/insfound/internal/search"
	storeMemory "github.com/JakeFAU/insfound/internal/storage/memory"
)

type testEnv struct {
	server    *Server
	publisher *publisherMemory.Publisher
}

func newTestEnv(t *testing.T, opts Options, records ...inspiration.InspirationRecord) *testEnv {
	t.Helper()
	pub := publisherMemory.New()
	d := dispatcher.New(
		admission.New(admission.Config{DenyDomains: []string{"*.blocked.example"}}),
		storeMemory.NewJobStore(),
		pub,
		idUUID.New(),
		system.New(),
		dispatcher.Config{},
		zap.NewNop(),
	)
	orchestrator := search.NewOrchestrator(
		nil,
		search.NewEngine(storeMemory.NewCorpus(records...)),
		search.Config{},
		zap.NewNop(),
	)
	return &testEnv{
		server:    NewServer(d, orchestrator, opts, zap.NewNop()),
		publisher: pub,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeObject(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func submit(t *testing.T, env *testEnv, rawURL string) string {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/analyze", `{"url":"`+rawURL+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID, ok := decodeObject(t, rec)["jobId"].(string)
	require.True(t, ok)
	return jobID
}

func TestAnalyzeAcceptsPublicURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(t, http.MethodPost, "/analyze", `{"url":"https://Example.com/pricing"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeObject(t, rec)
	assert.Equal(t, "queued", body["status"])
	jobID, _ := body["jobId"].(string)
	_, err := uuid.Parse(jobID)
	require.NoError(t, err)

	tasks := env.publisher.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, jobID, tasks[0].JobID)
	assert.Equal(t, "https://example.com/pricing", tasks[0].CanonicalURL)
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"invalid json", `{invalid`, "invalid JSON"},
		{"missing url", `{}`, `missing or invalid "url"`},
		{"wrong type", `{"url": 42}`, "invalid JSON"},
		{"loopback", `{"url":"http://127.0.0.1/admin"}`, "private or loopback urls are not allowed"},
		{"private range", `{"url":"http://192.168.1.10"}`, "private or loopback urls are not allowed"},
		{"localhost", `{"url":"http://localhost:8080"}`, "private or loopback urls are not allowed"},
		{"not a url", `{"url":"not a url"}`, "missing or invalid url"},
		{"deny list", `{"url":"https://ads.blocked.example"}`, "domain is not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, Options{})
			rec := env.do(t, http.MethodPost, "/analyze", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeObject(t, rec)
			assert.Equal(t, "bad_request", body["kind"])
			assert.Equal(t, tt.message, body["error"])
			assert.Empty(t, env.publisher.Tasks())
		})
	}
}

func TestAnalyzeSyncModeReturnsQueuedSync(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(t, http.MethodPost, "/analyze", `{"url":"https://example.com","async":false}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeObject(t, rec)
	assert.Equal(t, "queued-sync", body["status"])
	assert.Equal(t, "Worker must process job", body["note"])
	assert.NotEmpty(t, body["id"])
	assert.Len(t, env.publisher.Tasks(), 1)
}

func TestAnalyzeDuplicateReturnsSameJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	first := submit(t, env, "https://example.com/a")
	second := submit(t, env, "HTTPS://EXAMPLE.COM:443/a#fragment")

	assert.Equal(t, first, second)
	assert.Len(t, env.publisher.Tasks(), 1)
}

func TestAnalyzeServesCachedResultAfterCompletion(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	jobID := submit(t, env, "https://example.com")

	rec := env.do(t, http.MethodPost, "/jobs/"+jobID+"/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decodeObject(t, rec)["status"])

	result := `{"url":"https://example.com/","title":"Example","industry":"SaaS","styles":["minimalist"]}`
	rec = env.do(t, http.MethodPost, "/jobs/"+jobID+"/complete", result)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/analyze", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeObject(t, rec)
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, "Example", body["title"])
	assert.Equal(t, "SaaS", body["industry"])
	assert.Len(t, env.publisher.Tasks(), 1, "cache hits must not enqueue")

	rec = env.do(t, http.MethodGet, "/jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	job, ok := decodeObject(t, rec)["job"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "done", job["status"])
}

func TestCompleteTwiceConflicts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	jobID := submit(t, env, "https://example.com")
	result := `{"url":"https://example.com/","title":"first"}`

	rec := env.do(t, http.MethodPost, "/jobs/"+jobID+"/complete", result)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/jobs/"+jobID+"/complete", `{"url":"https://example.com/","title":"second"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_terminal", decodeObject(t, rec)["kind"])

	rec = env.do(t, http.MethodPost, "/jobs/"+jobID+"/fail", `{"error":"late"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestFailReleasesURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	first := submit(t, env, "https://example.com")

	rec := env.do(t, http.MethodPost, "/jobs/"+first+"/fail", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/jobs/"+first+"/fail", `{"error":"fetch timeout"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", decodeObject(t, rec)["status"])

	second := submit(t, env, "https://example.com")
	assert.NotEqual(t, first, second)
}

func TestCompleteValidatesBody(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	jobID := submit(t, env, "https://example.com")

	rec := env.do(t, http.MethodPost, "/jobs/"+jobID+"/complete", `{"title":"no url"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, `missing or invalid "url"`, decodeObject(t, rec)["error"])
}

func TestJobLookupErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})

	rec := env.do(t, http.MethodGet, "/jobs/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/jobs/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeObject(t, rec)
	assert.Equal(t, "not_found", body["kind"])
	assert.Equal(t, "job not found", body["error"])

	rec = env.do(t, http.MethodPost, "/jobs/"+uuid.NewString()+"/start", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	jobID := submit(t, env, "https://upper.example")
	rec = env.do(t, http.MethodGet, "/jobs/"+strings.ToUpper(jobID), "")
	require.Equal(t, http.StatusOK, rec.Code, "job ids are matched in canonical form")
}

func TestWorkerCallbacksRequireAPIKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})
	jobID := submit(t, env, "https://example.com")

	rec := env.do(t, http.MethodPost, "/jobs/"+jobID+"/start", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeObject(t, rec)
	assert.Equal(t, "forbidden", body["kind"])
	assert.Equal(t, "unauthorized", body["error"])

	rec = env.do(t, http.MethodPost, "/jobs/"+jobID+"/start", "", "X-API-Key", "secreT")
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, "/jobs/"+jobID+"/start?api_key=secre", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/jobs/"+jobID+"/start", "", "X-API-Key", "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, rec.Code, "status lookups stay public")
}

func TestSearchFiltersAndLimits(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{},
		inspiration.InspirationRecord{ID: "1", URL: "https://a.example", Title: "A", Description: "Grow", Industry: "SaaS", Styles: []string{"minimalist"}},
		inspiration.InspirationRecord{ID: "2", URL: "https://b.example", Title: "B", Industry: "Retail", Styles: []string{"bold"}},
		inspiration.InspirationRecord{ID: "3", URL: "https://c.example", Title: "C", Industry: "saas platform", Styles: []string{"Bold", "dark"}},
	)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"no filters", "", []string{"1", "2", "3"}},
		{"industry substring", "?industry=SAAS", []string{"1", "3"}},
		{"styles comma separated", "?styles=%20bold%20,%20dark", []string{"2", "3"}},
		{"styles repeated", "?styles=minimalist&styles=dark", []string{"1", "3"}},
		{"combined", "?industry=saas&styles=bold", []string{"3"}},
		{"k limits", "?k=2", []string{"1", "2"}},
		{"bad k", "?k=abc", []string{"1", "2", "3"}},
		{"negative k", "?k=-4", []string{"1", "2", "3"}},
		{"copy without embedder", "?copy=hello", []string{"1", "2", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := env.do(t, http.MethodGet, "/search"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var matches []matchResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
			ids := make([]string, 0, len(matches))
			for _, m := range matches {
				ids = append(ids, m.ID)
				assert.Equal(t, m.ID, m.SiteID)
				assert.Equal(t, m.Description, m.HeroText)
				assert.InDelta(t, 1.0, m.Score, 1e-9)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSearchEmptyResultIsArray(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(t, http.MethodGet, "/search?industry=none", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

type failingSearcher struct{}

func (failingSearcher) Search(context.Context, inspiration.SearchQuery) ([]inspiration.RankedMatch, error) {
	return nil, inspiration.Internal("search failed", errors.New("index offline at 10.0.0.4"))
}

type panickingSearcher struct{}

func (panickingSearcher) Search(context.Context, inspiration.SearchQuery) ([]inspiration.RankedMatch, error) {
	panic("boom")
}

func TestSearchFailureHidesCause(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, failingSearcher{}, Options{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/search?copy=x", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"search failed","kind":"internal"}`, rec.Body.String())
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(nil, panickingSearcher{}, Options{}, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decodeObject(t, rec)["kind"])
}

func TestAnalyzeEnqueueFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	env.publisher.FailWith(errors.New("broker down"))
	rec := env.do(t, http.MethodPost, "/analyze", `{"url":"https://example.com"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeObject(t, rec)
	assert.Equal(t, "internal", body["kind"])
	assert.NotContains(t, body["error"], "broker")

	env.publisher.FailWith(nil)
	rec = env.do(t, http.MethodPost, "/analyze", `{"url":"https://example.com"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, env.publisher.Tasks(), 1, "the retry is queued instead of joining a dead job")
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	notReady := newTestEnv(t, Options{Ready: func(context.Context) error { return errors.New("db down") }})
	rec = notReady.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	rec := env.do(t, http.MethodGet, "/healthz", "", "X-Request-ID", "req-123")
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	submit(t, env, "https://metrics.example")
	rec := env.do(t, http.MethodGet, "/metrics", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "insfound_analyze_submissions_total")
}
