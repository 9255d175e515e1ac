package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/jobrunner/internal/core/domain"
	"github.com/vietddude/jobrunner/internal/processing/queue"
)

// maxJobBody bounds a submitted job request.
const maxJobBody = 1 << 20

// Submitter accepts jobs from the HTTP API.
type Submitter interface {
	Submit(job *domain.Job) error
}

// LockReleaser force-releases job locks held by the running engine.
type LockReleaser interface {
	ForceRelease(jobID, reason string) error
}

// JobRequest is the body of POST /jobs.
type JobRequest struct {
	ID        string          `json:"id"`
	Priority  string          `json:"priority"`
	Operation string          `json:"operation,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Server provides HTTP endpoints for health, status and job submission.
type Server struct {
	monitor   *Monitor
	source    StatusSource
	submitter Submitter
	locks     LockReleaser
	logger    *slog.Logger
	server    *http.Server
}

// NewServer creates a new health server. submitter may be nil to disable
// POST /jobs.
func NewServer(monitor *Monitor, source StatusSource, submitter Submitter, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{
		monitor:   monitor,
		source:    source,
		submitter: submitter,
		logger:    logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/detailed", s.handleDetailed)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /jobs", s.handleSubmit)
	mux.HandleFunc("POST /locks/{id}/release", s.handleLockRelease)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// SetLockReleaser enables POST /locks/{id}/release. Call it before Start.
func (s *Server) SetLockReleaser(locks LockReleaser) {
	s.locks = locks
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. It returns nil after Stop.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	code := http.StatusOK
	if report.SystemStatus == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Status())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.submitter == nil {
		writeError(w, http.StatusNotFound, errors.New("job submission is disabled"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxJobBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > maxJobBody {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", maxJobBody))
		return
	}

	var req JobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid job: %w", err))
		return
	}
	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	job := &domain.Job{
		ID:        req.ID,
		Priority:  priority,
		Operation: req.Operation,
		Payload:   []byte(req.Payload),
	}
	if err := s.submitter.Submit(job); err != nil {
		switch {
		case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
			writeError(w, http.StatusServiceUnavailable, err)
		default:
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}

	s.logger.Info("job accepted", "job_id", job.ID, "priority", job.Priority, "operation", job.OperationOrDefault())
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "priority": string(job.Priority)})
}

func (s *Server) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	if s.locks == nil {
		writeError(w, http.StatusNotFound, errors.New("lock release is disabled"))
		return
	}

	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, errors.New("job id is required"))
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "released through the API"
	}

	if err := s.locks.ForceRelease(jobID, reason); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": jobID, "status": "released"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
