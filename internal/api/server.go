// Package api exposes the HTTP interface for submitting and tracking
// pipeline jobs.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/growthtools/leadscout/internal/model"
	"github.com/growthtools/leadscout/internal/orchestrator"
	"github.com/growthtools/leadscout/internal/store"
)

const resultsTopN = 25

// Server wires HTTP handlers to the orchestrator and store.
type Server struct {
	store  store.Store
	orch   *orchestrator.Orchestrator
	router chi.Router
}

// NewServer constructs a Server with middleware and routes.
func NewServer(st store.Store, orch *orchestrator.Orchestrator) *Server {
	s := &Server{store: st, orch: orch}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(requestLogger)

	r.Get("/health", s.health)
	r.Post("/pipeline/run", s.runPipeline)
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.listJobs)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Get("/results", s.getResults)
			r.Post("/cancel", s.cancelJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// runRequest is the POST /pipeline/run body. Pointer fields distinguish
// "absent, use the default" from an explicit invalid value.
type runRequest struct {
	Category          string `json:"category"`
	Region            string `json:"region,omitempty"`
	RegionID          string `json:"region_id,omitempty"`
	Limit             *int   `json:"limit,omitempty"`
	MaxPages          *int   `json:"max_pages,omitempty"`
	ClassifyBatchSize *int   `json:"classify_batch_size,omitempty"`
	ClassifyLimit     *int   `json:"classify_limit,omitempty"`
}

func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	if req.Limit != nil && *req.Limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be >= 1")
		return
	}
	if req.MaxPages != nil && *req.MaxPages < 1 {
		writeError(w, http.StatusBadRequest, "max_pages must be >= 1")
		return
	}
	if req.ClassifyBatchSize != nil && (*req.ClassifyBatchSize < 1 || *req.ClassifyBatchSize > 50) {
		writeError(w, http.StatusBadRequest, "classify_batch_size must be between 1 and 50")
		return
	}

	params := model.JobParams{
		Category: req.Category,
		Region:   req.Region,
		RegionID: req.RegionID,
	}
	if req.Limit != nil {
		params.Limit = *req.Limit
	}
	if req.MaxPages != nil {
		params.MaxPages = *req.MaxPages
	}
	if req.ClassifyBatchSize != nil {
		params.ClassifyBatchSize = *req.ClassifyBatchSize
	}
	if req.ClassifyLimit != nil {
		params.ClassifyLimit = *req.ClassifyLimit
	}

	job, err := s.orch.Submit(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":      job.ID,
		"status_url":  "/jobs/" + job.ID,
		"results_url": "/jobs/" + job.ID + "/results",
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing jobs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// resultsResponse reports the classification outcome of a succeeded job.
type resultsResponse struct {
	JobID     string                 `json:"job_id"`
	Category  string                 `json:"category"`
	Total     int                    `json:"total"`
	Matched   int                    `json:"matched"`
	Unmatched int                    `json:"unmatched"`
	Top       []model.Classification `json:"top"`
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.Status != model.JobStatusSucceeded {
		writeError(w, http.StatusConflict, "job is "+string(job.Status)+", results are only available once succeeded")
		return
	}

	category := job.Params.Category
	total, matched, err := s.store.ClassificationCounts(r.Context(), category)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading classification counts failed")
		return
	}
	top, err := s.store.TopClassifications(r.Context(), category, resultsTopN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading top classifications failed")
		return
	}
	if top == nil {
		top = []model.Classification{}
	}

	writeJSON(w, http.StatusOK, resultsResponse{
		JobID:     job.ID,
		Category:  category,
		Total:     total,
		Matched:   matched,
		Unmatched: total - matched,
		Top:       top,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	err := s.orch.Cancel(r.Context(), jobID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancelled"})
	case errors.Is(err, store.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	default:
		writeError(w, http.StatusConflict, err.Error())
	}
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*model.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
		} else {
			writeError(w, http.StatusInternalServerError, "reading job failed")
		}
		return nil, false
	}
	return job, true
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("writing JSON response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
