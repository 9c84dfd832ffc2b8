// Package httpserver implements C4's HTTP surface: submit, status, and
// health, built on chi the same way the teacher's handlers.go is.
package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/gpu-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/gpu-orchestrator/internal/domain"
	"github.com/fairyhunter13/gpu-orchestrator/internal/usecase"
)

// Server wires the admission/status use case into HTTP handlers.
type Server struct {
	Admit        *usecase.AdmitService
	Host         domain.WorkerController
	Objects      domain.ObjectStore
	MaxBodyBytes int64
}

const healthCheckTimeout = 2 * time.Second

const defaultMaxBodyBytes = 1 << 20 // 1 MiB

func (s *Server) maxBody() int64 {
	if s.MaxBodyBytes <= 0 {
		return defaultMaxBodyBytes
	}
	return s.MaxBodyBytes
}

type submitResponse struct {
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	ResultURL *string `json:"result_url"`
	Error     *string `json:"error"`
}

// SubmitHandler implements POST /api/v1/{route}/jobs.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobType := chi.URLParam(r, "route")

		body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody()+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "failed to read body")
			return
		}
		if int64(len(body)) > s.maxBody() {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_argument", "request body too large")
			return
		}
		if !json.Valid(body) {
			writeError(w, http.StatusBadRequest, "invalid_argument", "body must be valid JSON")
			return
		}

		idempotencyKey := r.Header.Get("Idempotency-Key")

		job, err := s.Admit.Submit(r.Context(), jobType, body, idempotencyKey)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		observability.JobsEnqueuedTotal.WithLabelValues(string(job.Lane), job.JobType).Inc()
		writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: string(job.Status)})
	}
}

type statusResponse struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	ResultURL    string `json:"result_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// StatusHandler implements GET /api/v1/jobs/{job_id}.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "job_id")
		job, err := s.Admit.GetStatus(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		w.Header().Set("ETag", `"`+string(job.Status)+"-"+job.ID+`"`)
		writeJSON(w, http.StatusOK, statusResponse{
			JobID:        job.ID,
			Status:       string(job.Status),
			ResultURL:    job.ResultURL,
			ErrorMessage: job.ErrorMessage,
		})
	}
}

type deleteArtifactResponse struct {
	Message string `json:"message"`
	S3Key   string `json:"s3_key"`
}

// DeleteArtifactHandler implements DELETE /api/v1/images/{object_key}: a
// thin pass-through to the object store.
func (s *Server) DeleteArtifactHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		objectKey := chi.URLParam(r, "object_key")
		if s.Objects == nil {
			writeError(w, http.StatusInternalServerError, "internal", "object store not configured")
			return
		}
		if err := s.Objects.Delete(r.Context(), objectKey); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, deleteArtifactResponse{Message: "deleted", S3Key: objectKey})
	}
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// HealthHandler implements GET /health and /api/v1/health: probes the
// store and queue for reachability, per §4.C4.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		components := map[string]string{"store": "ok", "queue": "ok"}
		healthy := true

		if s.Admit == nil || s.Admit.Jobs == nil {
			components["store"] = "not configured"
			healthy = false
		} else if _, err := s.Admit.Jobs.QueryByStatus(ctx, domain.JobPending, 1); err != nil {
			components["store"] = err.Error()
			healthy = false
		}

		if s.Admit == nil || s.Admit.Queue == nil {
			components["queue"] = "not configured"
			healthy = false
		} else if _, err := s.Admit.Queue.ApproximateDepth(ctx, domain.LaneGPU); err != nil {
			components["queue"] = err.Error()
			healthy = false
		}

		resp := healthResponse{Status: "ok", Components: components}
		status := http.StatusOK
		if !healthy {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
