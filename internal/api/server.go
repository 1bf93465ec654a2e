// Package api exposes the pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/internal/pipeline"
	"github.com/dshills/logsift/internal/scheduler"
	"github.com/dshills/logsift/pkg/types"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Service is the part of the pipeline the API serves
type Service interface {
	ScheduleFiles(ctx context.Context, project string, files []types.UploadedFile) (map[string]scheduler.Outcome, error)
	Status(project string) (*pipeline.ProjectStatus, error)
	Search(ctx context.Context, project, query string, topK int) ([]types.SearchResult, error)
	IndexFile(ctx context.Context, project, originalName string) (int, error)
	Templates(ctx context.Context, project string) ([]types.TemplateRecord, error)
	Stats() scheduler.Statistics
}

// Server is the REST API server
type Server struct {
	svc    Service
	router *chi.Mux
	server *http.Server
	log    *zap.SugaredLogger
}

// PaginationParams contains pagination parameters from query string
type PaginationParams struct {
	Limit  int
	Offset int
}

// PaginatedResponse wraps a paginated response with metadata
type PaginatedResponse struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// NewServer creates a new API server listening on addr
func NewServer(addr string, svc Service, logger *zap.SugaredLogger) *Server {
	s := &Server{
		svc:    svc,
		router: chi.NewRouter(),
		log:    logging.Component(logger, "api"),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)

		r.Route("/projects/{project}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Post("/files", s.handleSchedule)
			r.Post("/files/{name}/index", s.handleIndex)
			r.Get("/search", s.handleSearch)
			r.Get("/templates", s.handleTemplates)
		})
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server
func (s *Server) Start() error {
	s.log.Infow("HTTP API listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debugw("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			logging.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	})
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.svc.Stats())
}

// GET /api/v1/projects/{project}/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Status(chi.URLParam(r, "project"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

// POST /api/v1/projects/{project}/files
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var files []types.UploadedFile
	if err := decodeBody(w, r, &files); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	outcomes, err := s.svc.ScheduleFiles(r.Context(), chi.URLParam(r, "project"), files)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{"outcomes": outcomes})
}

// POST /api/v1/projects/{project}/files/{name}/index
// The result file is resolved from the upload recorded for {name}.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	added, err := s.svc.IndexFile(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "name"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"added": added})
}

// GET /api/v1/projects/{project}/search?q=...&top_k=N
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	topK := 0
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "top_k must be a non-negative integer")
			return
		}
		topK = n
	}

	results, err := s.svc.Search(r.Context(), chi.URLParam(r, "project"), r.URL.Query().Get("q"), topK)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// GET /api/v1/projects/{project}/templates?limit=N&offset=M
func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.svc.Templates(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	_, response := paginateSlice(templates, parsePaginationParams(r))
	s.respondJSON(w, http.StatusOK, response)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parsePaginationParams extracts pagination parameters from request.
// Defaults: limit=100, offset=0, max_limit=1000
func parsePaginationParams(r *http.Request) PaginationParams {
	const (
		defaultLimit = 100
		maxLimit     = 1000
	)

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxLimit)
		}
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return PaginationParams{Limit: limit, Offset: offset}
}

// paginateSlice applies pagination to a slice
func paginateSlice[T any](items []T, params PaginationParams) ([]T, PaginatedResponse) {
	total := len(items)
	start := params.Offset
	if start >= total {
		return []T{}, PaginatedResponse{Data: []T{}, Total: total, Limit: params.Limit, Offset: params.Offset}
	}

	end := min(start+params.Limit, total)
	page := items[start:end]
	return page, PaginatedResponse{
		Data:    page,
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
		HasMore: end < total,
	}
}

// respondErr maps domain errors to status codes
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrProjectRequired),
		errors.Is(err, types.ErrInvalidProject),
		errors.Is(err, types.ErrEmptyQuery):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrInvalidTransition):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrUnknownFile):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrLockContention):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Errorw("Request failed", logging.FieldError, err)
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warnw("Failed to encode response", logging.FieldError, err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
