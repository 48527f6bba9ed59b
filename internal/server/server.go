package server

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/bennebotix/eidosfit/internal/fit"
	"github.com/bennebotix/eidosfit/internal/store"
)

// Server represents the HTTP server driving fitting jobs.
type Server struct {
	jobManager *JobManager
	store      store.Store
	addr       string
	server     *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewServer creates a new HTTP server with optional checkpoint store.
// If store is nil, checkpointing is disabled.
func NewServer(addr string, checkpointStore store.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		store:      checkpointStore,
		addr:       addr,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	handler := s.loggingMiddleware(s.corsMiddleware(mux))

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: handler,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")

	s.cancel()

	if s.store != nil {
		s.checkpointRunningJobs(ctx)
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// checkpointRunningJobs saves checkpoints for all running jobs
func (s *Server) checkpointRunningJobs(ctx context.Context) {
	runningJobs := s.jobManager.GetRunningJobs()

	if len(runningJobs) == 0 {
		slog.Info("No running jobs to checkpoint")
		return
	}

	slog.Info("Checkpointing running jobs", "count", len(runningJobs))

	type checkpointResult struct {
		jobID string
		err   error
	}

	results := make(chan checkpointResult, len(runningJobs))

	for _, job := range runningJobs {
		go func(j *Job) {
			ref, err := loadReferenceImage(j.Config.RefPath)
			if err != nil {
				slog.Error("Failed to load reference for checkpoint", "job_id", j.ID, "error", err)
				results <- checkpointResult{jobID: j.ID, err: err}
				return
			}

			snapshot := fit.Snapshot{
				Width:        j.Width,
				Height:       j.Height,
				MaxShapes:    j.Config.MaxShapes,
				FidelityMode: j.Config.FidelityMode,
				Shapes:       recordsToShapes(j.Shapes),
			}
			driver, err := fit.Resume(ref, snapshot, rand.New(rand.NewSource(j.Config.Seed)))
			if err != nil {
				slog.Error("Failed to rebuild canvas for checkpoint", "job_id", j.ID, "error", err)
				results <- checkpointResult{jobID: j.ID, err: err}
				return
			}

			err = saveCheckpoint(s.jobManager, s.store, driver, ref, j.ID)
			if err != nil {
				slog.Error("Failed to checkpoint job on shutdown", "job_id", j.ID, "error", err)
			} else if driver.Committed() > 0 {
				slog.Info("Job checkpointed on shutdown", "job_id", j.ID, "committed", driver.Committed(), "best_cost", j.BestCost)
			} else {
				slog.Debug("Skipped checkpoint for job with no progress", "job_id", j.ID)
			}
			results <- checkpointResult{jobID: j.ID, err: err}
		}(job)
	}

	checkpointed := 0
	failed := 0

	for i := 0; i < len(runningJobs); i++ {
		select {
		case result := <-results:
			if result.err == nil {
				checkpointed++
			} else {
				failed++
			}
		case <-ctx.Done():
			slog.Warn("Checkpoint timeout during shutdown",
				"checkpointed", checkpointed,
				"failed", failed,
				"pending", len(runningJobs)-checkpointed-failed,
			)
			return
		}
	}

	slog.Info("Shutdown checkpoint complete", "checkpointed", checkpointed, "failed", failed)
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

	switch {
	case len(parts) == 1 || parts[1] == "status":
		s.handleGetJobStatus(w, r, jobID)
	case parts[1] == "best.png":
		s.handleGetBestImage(w, r, jobID)
	case parts[1] == "diff.png":
		s.handleGetDiffImage(w, r, jobID)
	case parts[1] == "ref.png":
		s.handleGetRefImage(w, r, jobID)
	case parts[1] == "export.json":
		s.handleExportJob(w, r, jobID)
	case parts[1] == "stream":
		s.handleJobStream(w, r, jobID)
	case parts[1] == "resume":
		s.handleResumeJob(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var config JobConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if config.RefPath == "" {
		http.Error(w, "refPath is required", http.StatusBadRequest)
		return
	}
	if config.MaxShapes <= 0 {
		config.MaxShapes = 200
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}

	job := s.jobManager.CreateJob(config)

	go runJob(s.ctx, s.jobManager, s.store, job.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobManager.ListJobs()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
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

	sps := float64(0)
	if elapsed.Seconds() > 0 {
		sps = float64(job.Committed) / elapsed.Seconds()
	}

	response := map[string]interface{}{
		"id":              job.ID,
		"state":           job.State,
		"config":          job.Config,
		"bestCost":        job.BestCost,
		"initialCost":     job.InitialCost,
		"committed":       job.Committed,
		"elapsed":         elapsed.Seconds(),
		"shapesPerSecond": sps,
		"startTime":       job.StartTime,
		"endTime":         job.EndTime,
		"error":           job.Error,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleGetBestImage handles GET /api/v1/jobs/:id/best.png
func (s *Server) handleGetBestImage(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	if len(job.Shapes) == 0 {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}

	composite, err := s.renderJobComposite(job)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to render: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")

	if err := png.Encode(w, composite); err != nil {
		slog.Error("Failed to encode PNG", "error", err)
	}
}

// handleGetDiffImage handles GET /api/v1/jobs/:id/diff.png
func (s *Server) handleGetDiffImage(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	if len(job.Shapes) == 0 {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}

	ref, err := loadReferenceImage(job.Config.RefPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load reference: %v", err), http.StatusInternalServerError)
		return
	}

	composite, err := s.renderJobComposite(job)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to render: %v", err), http.StatusInternalServerError)
		return
	}

	diff := computeDiffImage(ref, composite)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")

	if err := png.Encode(w, diff); err != nil {
		slog.Error("Failed to encode PNG", "error", err)
	}
}

// handleGetRefImage handles GET /api/v1/jobs/:id/ref.png
func (s *Server) handleGetRefImage(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	ref, err := loadReferenceImage(job.Config.RefPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load reference: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")

	if err := png.Encode(w, ref); err != nil {
		slog.Error("Failed to encode PNG", "error", err)
	}
}

// handleExportJob handles GET /api/v1/jobs/:id/export.json
func (s *Server) handleExportJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	if len(job.Shapes) == 0 {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}

	width, height := job.Width, job.Height
	if width == 0 || height == 0 {
		ref, err := loadReferenceImage(job.Config.RefPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to load reference: %v", err), http.StatusInternalServerError)
			return
		}
		bounds := ref.Bounds()
		width, height = bounds.Dx(), bounds.Dy()
	}

	doc, err := fit.BuildDocument(recordsToShapes(job.Shapes), width, height, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to build document: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// renderJobComposite reconstructs the composite raster for a job by
// replaying its committed shape list onto a fresh white canvas.
func (s *Server) renderJobComposite(job *Job) (*image.NRGBA, error) {
	ref, err := loadReferenceImage(job.Config.RefPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference: %w", err)
	}

	bounds := ref.Bounds()
	snapshot := fit.Snapshot{
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		MaxShapes:    job.Config.MaxShapes,
		FidelityMode: job.Config.FidelityMode,
		Shapes:       recordsToShapes(job.Shapes),
	}
	driver, err := fit.Resume(ref, snapshot, rand.New(rand.NewSource(job.Config.Seed)))
	if err != nil {
		return nil, err
	}
	return driver.Composite(), nil
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

// handleResumeJob handles POST /api/v1/jobs/:id/resume
func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.store == nil {
		http.Error(w, "Checkpoint feature not enabled", http.StatusServiceUnavailable)
		return
	}

	checkpoint, err := s.store.LoadCheckpoint(jobID)
	if err != nil {
		if _, ok := err.(*store.NotFoundError); ok {
			http.Error(w, fmt.Sprintf("Checkpoint not found for job %s", jobID), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to load checkpoint: %v", err), http.StatusInternalServerError)
		return
	}

	if err := checkpoint.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("Invalid checkpoint: %v", err), http.StatusBadRequest)
		return
	}

	slog.Info("Resuming job from checkpoint",
		"job_id", jobID,
		"committed", checkpoint.Committed,
		"best_cost", checkpoint.BestCost,
	)

	config := checkpoint.Config
	newJob := s.jobManager.CreateJob(config)

	s.jobManager.UpdateJob(newJob.ID, func(j *Job) {
		j.Shapes = checkpoint.Shapes
		j.BestCost = checkpoint.BestCost
		j.InitialCost = checkpoint.InitialCost
		j.Committed = checkpoint.Committed
	})

	go runJob(s.ctx, s.jobManager, s.store, newJob.ID)

	response := map[string]interface{}{
		"jobId":            newJob.ID,
		"resumedFrom":      jobID,
		"state":            string(newJob.State),
		"previousCost":     checkpoint.BestCost,
		"previousCommitted": checkpoint.Committed,
		"message":          "Job resumed successfully from checkpoint",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
