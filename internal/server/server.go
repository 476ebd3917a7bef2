package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/axialfit/internal/config"
	"github.com/cwbudde/axialfit/internal/experiment"
	"github.com/cwbudde/axialfit/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	addr       string
	server     *http.Server

	// jobs run under baseCtx so Shutdown can stop them
	baseCtx context.Context
	stop    context.CancelFunc
}

// JobRequest is the body of POST /api/v1/jobs.
type JobRequest struct {
	Mode       string          `json:"mode"` // single (default) or global
	Experiment json.RawMessage `json:"experiment"`
}

// NewServer creates a new HTTP server. docStore may be nil, in which case
// documents live only as long as the process.
func NewServer(addr string, docStore store.Store) *Server {
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		store:      docStore,
		addr:       addr,
		baseCtx:    ctx,
		stop:       stop,
	}
}

// Handler returns the routed and wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/documents", s.handleListDocuments)
	mux.HandleFunc("/api/v1/documents/", s.handleGetStoredDocument)
	mux.Handle("/metrics", promhttp.Handler())

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.jobManager.CancelAll()
	s.stop()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}

	switch sub {
	case "", "status":
		s.handleGetJobStatus(w, r, jobID)
	case "document":
		s.handleGetJobDocument(w, r, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	case "cancel":
		s.handleCancelJob(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	mode, err := experiment.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Experiment) == 0 {
		http.Error(w, "experiment is required", http.StatusBadRequest)
		return
	}

	e := config.Default()
	if err := json.Unmarshal(req.Experiment, &e); err != nil {
		http.Error(w, fmt.Sprintf("Invalid experiment: %v", err), http.StatusBadRequest)
		return
	}
	if err := e.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(e, mode)

	go runJob(s.baseCtx, s.jobManager, s.store, job.ID)

	writeJSON(w, http.StatusCreated, job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	response := map[string]interface{}{
		"id":           job.ID,
		"state":        job.State,
		"mode":         job.Mode,
		"run":          job.Run,
		"iterations":   job.Iterations,
		"lastParams":   job.LastParams,
		"costFinal":    job.CostFinal,
		"rrmswfeFinal": job.RRMSWFEFinal,
		"elapsed":      elapsed.Seconds(),
		"startTime":    job.StartTime,
		"endTime":      job.EndTime,
		"error":        job.Error,
		"errorKind":    job.ErrorKind,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleGetJobDocument handles GET /api/v1/jobs/:id/document
func (s *Server) handleGetJobDocument(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	res, ok := s.jobManager.Result(jobID)
	if !ok {
		http.Error(w, fmt.Sprintf("No document: job is %s", job.State), http.StatusConflict)
		return
	}

	if res.Global != nil {
		writeJSON(w, http.StatusOK, res.Global)
		return
	}
	writeJSON(w, http.StatusOK, res.Single)
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if !s.jobManager.Cancel(jobID) {
		http.Error(w, "Job is not running", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleListDocuments handles GET /api/v1/documents
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.RecordInfo{})
		return
	}
	infos, err := s.store.ListDocuments()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleGetStoredDocument handles GET /api/v1/documents/:id[/trace]
func (s *Server) handleGetStoredDocument(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/documents/")
	id, sub, _ := strings.Cut(path, "/")
	if id == "" {
		http.Error(w, "Document ID required", http.StatusBadRequest)
		return
	}
	if sub != "" && sub != "trace" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if s.store == nil {
		http.Error(w, "Document not found", http.StatusNotFound)
		return
	}

	var v any
	var err error
	if sub == "trace" {
		v, err = s.store.LoadTrace(id)
	} else {
		v, err = s.store.LoadDocument(id)
	}
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Document not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
