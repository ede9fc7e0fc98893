package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!doctype html>
<html>
<head>
  <title> Acme Analytics </title>
  <meta name="description" content="Dashboards for growing teams">
  <meta property="og:description" content="ignored because description is set">
  <meta property="og:image" content="https://cdn.example/hero.png">
  <meta name="industry" content="SaaS">
  <meta name="keywords" content="Minimalist, dark , ,gradient">
</head>
<body><h1>Grow your business</h1></body>
</html>`

func newPageServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchExtractsMetadata(t *testing.T) {
	t.Parallel()

	srv := newPageServer(t, http.StatusOK, samplePage)
	f := New(Config{UserAgent: "insfound-test", Timeout: time.Second}, srv.Client().Transport)

	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "Acme Analytics", page.Title)
	assert.Equal(t, "Dashboards for growing teams", page.Description)
	assert.Equal(t, "SaaS", page.Industry)
	assert.Equal(t, "https://cdn.example/hero.png", page.Screenshot)
	assert.Equal(t, []string{"Minimalist", "dark", "gradient"}, page.Keywords)
}

func TestFetchSameURLTwice(t *testing.T) {
	t.Parallel()

	srv := newPageServer(t, http.StatusOK, samplePage)
	f := New(Config{Timeout: time.Second}, srv.Client().Transport)

	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err, "retries must be allowed to revisit a URL")
}

func TestFetchFallsBackToOpenGraph(t *testing.T) {
	t.Parallel()

	srv := newPageServer(t, http.StatusOK, `<html><head>
<meta property="og:title" content="OG Title">
<meta property="og:description" content="OG description">
</head></html>`)
	f := New(Config{Timeout: time.Second}, srv.Client().Transport)

	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "OG Title", page.Title)
	assert.Equal(t, "OG description", page.Description)
	assert.Empty(t, page.Keywords)
}

func TestFetchReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := newPageServer(t, http.StatusNotFound, "missing")
	f := New(Config{Timeout: time.Second}, srv.Client().Transport)

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	f := New(Config{Timeout: 5 * time.Second}, srv.Client().Transport)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSafeTransportRefusesLoopback(t *testing.T) {
	t.Parallel()

	srv := newPageServer(t, http.StatusOK, samplePage)
	f := New(Config{Timeout: time.Second}, nil)

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial to private address refused")
}

func TestSplitKeywords(t *testing.T) {
	t.Parallel()

	assert.Nil(t, splitKeywords(nil))
	assert.Equal(t, []string{"a", "b", "c"}, splitKeywords([]string{"a, b", " c ,"}))
}
