// Package collyfetcher fetches a single page with gocolly and extracts the
// metadata the analysis worker records.
package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/insfound/internal/admission"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Page is the metadata extracted from one fetched document.
type Page struct {
	URL         string
	StatusCode  int
	Title       string
	Description string
	Industry    string
	Keywords    []string
	Screenshot  string
	Duration    time.Duration
}

// Fetcher visits pages using a Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnHTML(string, colly.HTMLCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. A nil transport dials through the admission safe
// dialer so that private addresses are refused after DNS resolution.
func New(cfg Config, transport http.RoundTripper) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if transport == nil {
		transport = NewSafeTransport(cfg.Timeout)
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(transport)
	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET and extracts page metadata.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	var (
		page     Page
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &page, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return Page{}, err
	}
	page.Keywords = splitKeywords(page.Keywords)
	return page, nil
}

func (f *Fetcher) buildCollector(start time.Time, page *Page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)
	f.configureCollectorHooks(collector, start, page, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	page *Page,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		page.URL = r.Request.URL.String()
		page.StatusCode = r.StatusCode
		page.Duration = time.Since(start)
	})

	hooks.OnHTML("head title", func(e *colly.HTMLElement) {
		if page.Title == "" {
			page.Title = strings.TrimSpace(e.Text)
		}
	})

	hooks.OnHTML("meta[content]", func(e *colly.HTMLElement) {
		content := strings.TrimSpace(e.Attr("content"))
		if content == "" {
			return
		}
		key := strings.ToLower(e.Attr("name"))
		if key == "" {
			key = strings.ToLower(e.Attr("property"))
		}
		switch key {
		case "description":
			page.Description = content
		case "og:description":
			if page.Description == "" {
				page.Description = content
			}
		case "og:title":
			if page.Title == "" {
				page.Title = content
			}
		case "og:image":
			page.Screenshot = content
		case "industry", "article:section":
			if page.Industry == "" {
				page.Industry = content
			}
		case "keywords":
			page.Keywords = append(page.Keywords, content)
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// splitKeywords flattens comma separated keyword lists and drops blanks.
func splitKeywords(raw []string) []string {
	var out []string
	for _, entry := range raw {
		for _, kw := range strings.Split(entry, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				out = append(out, kw)
			}
		}
	}
	return out
}

// NewSafeTransport returns a pooled transport whose dialer refuses private,
// loopback, and link-local destinations.
func NewSafeTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		DialContext:           admission.NewSafeDialer(timeout).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
