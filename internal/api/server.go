package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/insfound/internal/config"
	"github.com/JakeFAU/insfound/internal/dispatcher"
	"github.com/JakeFAU/insfound/internal/inspiration"
	"github.com/JakeFAU/insfound/internal/logging"
	"github.com/JakeFAU/insfound/internal/metrics"
)

const defaultRequestTimeout = 25 * time.Second

// Dispatcher is the analyze pipeline plus the worker callbacks.
type Dispatcher interface {
	Submit(ctx context.Context, req inspiration.AnalysisRequest) (dispatcher.Outcome, error)
	Start(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, result inspiration.AnalysisResult) error
	Fail(ctx context.Context, jobID string, reason string) error
	Status(ctx context.Context, jobID string) (inspiration.Job, error)
}

// Searcher ranks the corpus for a search query.
type Searcher interface {
	Search(ctx context.Context, q inspiration.SearchQuery) ([]inspiration.RankedMatch, error)
}

// ReadinessCheck reports whether downstream dependencies can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Options configures optional server behavior.
type Options struct {
	Auth           config.AuthConfig
	RequestTimeout time.Duration
	Ready          ReadinessCheck
}

// Server wires HTTP handlers to the dispatcher and search orchestrator.
type Server struct {
	router     chi.Router
	dispatcher Dispatcher
	searcher   Searcher
	validate   *validator.Validate
	ready      ReadinessCheck
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(d Dispatcher, searcher Searcher, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Server{
		dispatcher: d,
		searcher:   searcher,
		validate:   newValidator(),
		ready:      opts.Ready,
		logger:     logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(logging.RequestLogger(logger))
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/analyze", s.analyze)
	r.Get("/search", s.search)

	r.Route("/jobs/{job_id}", func(r chi.Router) {
		r.Get("/", s.getJob)
		r.Group(func(r chi.Router) {
			if opts.Auth.Enabled {
				r.Use(apiKeyMiddleware(opts.Auth.APIKey, s.writeError))
			}
			r.Post("/start", s.startJob)
			r.Post("/complete", s.completeJob)
			r.Post("/fail", s.failJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requestIDMiddleware reuses an inbound X-Request-ID or mints one, and stores
// it where chi's middleware.GetReqID finds it.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Stack("stack"),
				)
				s.writeError(w, inspiration.Internal("internal server error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out","kind":"internal"}`)
	}
}

func apiKeyMiddleware(expected string, onDenied func(http.ResponseWriter, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				onDenied(w, errUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

var errUnauthorized = &inspiration.Error{Kind: inspiration.KindForbidden, Message: "unauthorized"}

type errorResponse struct {
	Error string                `json:"error"`
	Kind  inspiration.ErrorKind `json:"kind"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

// writeError maps err to a status code. Wrapped causes never reach the client.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := inspiration.KindOf(err)
	msg := "internal server error"
	var typed *inspiration.Error
	switch {
	case errors.As(err, &typed) && typed.Message != "":
		msg = typed.Message
	case kind != inspiration.KindInternal:
		msg = err.Error()
	}
	s.writeJSON(w, statusForKind(kind), errorResponse{Error: msg, Kind: kind})
}

func statusForKind(kind inspiration.ErrorKind) int {
	switch kind {
	case inspiration.KindBadRequest:
		return http.StatusBadRequest
	case inspiration.KindNotFound:
		return http.StatusNotFound
	case inspiration.KindAlreadyTerminal:
		return http.StatusConflict
	case inspiration.KindForbidden:
		return http.StatusForbidden
	case inspiration.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
