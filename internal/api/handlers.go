package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/insfound/internal/dispatcher"
	jobid "github.com/JakeFAU/insfound/internal/id/uuid"
	"github.com/JakeFAU/insfound/internal/inspiration"
)

const (
	maxBodyBytes = 1 << 20
	syncNote     = "Worker must process job"
)

type analyzeRequest struct {
	URL   string `json:"url" validate:"required"`
	Async *bool  `json:"async"`
}

type cachedResponse struct {
	inspiration.AnalysisResult
	Cached bool `json:"cached"`
}

type acceptedResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type syncResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Note   string `json:"note"`
}

type completeRequest struct {
	URL           string    `json:"url" validate:"required,url"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Industry      string    `json:"industry"`
	Styles        []string  `json:"styles" validate:"dive,required"`
	ScreenshotRef string    `json:"screenshot"`
	IndexedVector []float32 `json:"indexed_vector"`
}

type failRequest struct {
	Error string `json:"error" validate:"required"`
}

type jobStateResponse struct {
	JobID  string                `json:"job_id"`
	Status inspiration.JobStatus `json:"status"`
}

type matchResponse struct {
	ID          string   `json:"id"`
	SiteID      string   `json:"site_id"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	HeroText    string   `json:"hero_text"`
	Screenshot  string   `json:"screenshot"`
	Industry    string   `json:"industry"`
	Styles      []string `json:"styles"`
	Score       float64  `json:"score"`
}

// analyze handles POST /analyze. It returns 200 with the cached result, 202
// for an accepted job, 200 with a queued-sync document when async is false,
// 400 for invalid or disallowed URLs, or 500 when the job cannot be created
// or queued.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	mode := inspiration.ModeAsync
	if req.Async != nil && !*req.Async {
		mode = inspiration.ModeSync
	}
	outcome, err := s.dispatcher.Submit(r.Context(), inspiration.AnalysisRequest{URL: req.URL, Mode: mode})
	if err != nil {
		s.logInternal("analyze failed", err)
		s.writeError(w, err)
		return
	}
	switch {
	case outcome.Kind == dispatcher.OutcomeCacheHit && outcome.Result != nil:
		s.writeJSON(w, http.StatusOK, cachedResponse{AnalysisResult: *outcome.Result, Cached: true})
	case outcome.Mode == inspiration.ModeSync:
		s.writeJSON(w, http.StatusOK, syncResponse{ID: outcome.JobID, Status: "queued-sync", Note: syncNote})
	default:
		s.writeJSON(w, http.StatusAccepted, acceptedResponse{JobID: outcome.JobID, Status: string(inspiration.JobStatusQueued)})
	}
}

// search handles GET /search?copy=&industry=&styles=&k=. It always returns a
// JSON array on success and 500 when the index query fails.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := inspiration.SearchQuery{
		CopyText: q.Get("copy"),
		Industry: strings.TrimSpace(q.Get("industry")),
		Styles:   parseStyles(q["styles"]),
		K:        parseK(q.Get("k")),
	}
	matches, err := s.searcher.Search(r.Context(), query)
	if err != nil {
		s.logInternal("search failed", err)
		s.writeError(w, err)
		return
	}
	out := make([]matchResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, toMatchResponse(m))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// getJob handles GET /jobs/{job_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.dispatcher.Status(r.Context(), jobID)
	if err != nil {
		s.logInternal("get job failed", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.dispatcher.Start(r.Context(), jobID); err != nil {
		s.logInternal("start job failed", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobStateResponse{JobID: jobID, Status: inspiration.JobStatusRunning})
}

func (s *Server) completeJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req completeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	result := inspiration.AnalysisResult{
		URL:           req.URL,
		Title:         req.Title,
		Description:   req.Description,
		Industry:      req.Industry,
		Styles:        req.Styles,
		ScreenshotRef: req.ScreenshotRef,
		IndexedVector: req.IndexedVector,
	}
	if err := s.dispatcher.Complete(r.Context(), jobID, result); err != nil {
		s.logInternal("complete job failed", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobStateResponse{JobID: jobID, Status: inspiration.JobStatusDone})
}

func (s *Server) failJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req failRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.dispatcher.Fail(r.Context(), jobID, req.Error); err != nil {
		s.logInternal("fail job failed", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobStateResponse{JobID: jobID, Status: inspiration.JobStatusFailed})
}

// decode reads a JSON body into dst and runs struct validation on it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := jsonDecode(http.MaxBytesReader(w, r.Body, maxBodyBytes), dst); err != nil {
		return inspiration.BadRequest("invalid JSON")
	}
	if err := s.validate.Struct(dst); err != nil {
		return inspiration.BadRequest(validationMessage(err))
	}
	return nil
}

func (s *Server) logInternal(msg string, err error) {
	if inspiration.KindOf(err) == inspiration.KindInternal {
		s.logger.Error(msg, zap.Error(err))
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Sprintf("missing or invalid %q", verrs[0].Field())
	}
	return "invalid request body"
}

// newValidator reports JSON keys rather than Go field names in errors.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func jsonDecode(body io.Reader, dst any) error {
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func parseJobID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "job_id")
	if raw == "" {
		return "", inspiration.BadRequest("job_id is required")
	}
	id, err := jobid.Canonical(raw)
	if err != nil {
		return "", inspiration.BadRequest("invalid job_id")
	}
	return id, nil
}

// parseStyles accepts comma separated values and repeated parameters.
func parseStyles(values []string) []string {
	var styles []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				styles = append(styles, part)
			}
		}
	}
	return styles
}

// parseK returns 0 for anything that is not an integer; the orchestrator
// applies the default.
func parseK(raw string) int {
	k, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return k
}

func toMatchResponse(m inspiration.RankedMatch) matchResponse {
	styles := m.Record.Styles
	if styles == nil {
		styles = []string{}
	}
	return matchResponse{
		ID:          m.Record.ID,
		SiteID:      m.Record.ID,
		URL:         m.Record.URL,
		Title:       m.Record.Title,
		Description: m.Record.Description,
		HeroText:    m.Record.Description,
		Screenshot:  m.Record.ScreenshotRef,
		Industry:    m.Record.Industry,
		Styles:      styles,
		Score:       m.Score,
	}
}
