package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"revista-press/internal/blob"
	"revista-press/internal/config"
	"revista-press/internal/models"
	"revista-press/internal/store"
	"revista-press/internal/submission"
	"revista-press/internal/telemetry"
)

// Store is the slice of persistence the HTTP layer needs.
type Store interface {
	GetJob(ctx context.Context, jobID string) (models.Job, error)
	GetJobView(ctx context.Context, jobID string) (models.JobView, error)
	GetJobPDF(ctx context.Context, jobID string) ([]byte, error)
	ClaimNextPending(ctx context.Context, workerID string) (models.Job, error)
	CompleteJob(ctx context.Context, p store.CompleteJobParams) error
	FailJob(ctx context.Context, jobID, message string) error
	AppendLog(ctx context.Context, jobID, level, message string) error
}

// Submitter admits new jobs.
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (submission.Result, []string, error)
}

// Verifier consumes email verification tokens.
type Verifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// RateLimiter throttles submissions per client.
type RateLimiter interface {
	Allow(ctx context.Context, clientKey string) (bool, float64, error)
}

// Server wires HTTP handlers for the submission site and the worker
// write-back surface.
type Server struct {
	cfg       config.Config
	store     Store
	submitter Submitter
	verifier  Verifier
	bundles   blob.Storage
	limiter   RateLimiter
}

// New constructs the API server. limiter may be nil to disable throttling.
func New(cfg config.Config, st Store, sub Submitter, ver Verifier, bundles blob.Storage, limiter RateLimiter) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		submitter: sub,
		verifier:  ver,
		bundles:   bundles,
		limiter:   limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/submit", s.handleSubmit)
	r.Get("/status/{jobID}", s.handleStatus)
	r.Get("/verify", s.handleVerify)
	r.Get("/download/{jobID}", s.handleDownloadPDF)
	r.Get("/bundle/{jobID}", s.handleDownloadBundle)

	if s.cfg.WorkerToken != "" {
		r.Route("/worker", func(r chi.Router) {
			r.Use(s.requireWorkerToken)
			r.Post("/claim", s.handleWorkerClaim)
			r.Post("/jobs/{jobID}/complete", s.handleWorkerComplete)
			r.Post("/jobs/{jobID}/fail", s.handleWorkerFail)
		})
	} else {
		log.Printf("api: WORKER_TOKEN unset, worker endpoints disabled")
	}

	return r
}

type submitResponse struct {
	JobID               string `json:"job_id"`
	Journal             string `json:"journal"`
	VerificationPending bool   `json:"verification_pending"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), clientIP(r))
		if err != nil {
			// Fail open: a broken limiter backend must not block submissions.
			log.Printf("api: rate limiter error: %v", err)
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "too many submissions, slow down", http.StatusTooManyRequests)
			return
		}
	}

	// 1 MiB of headroom over the file cap covers the other form fields;
	// a body past that is an oversized upload, not a malformed one.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			telemetry.SubmissionsRejected.Inc()
			writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{submission.SizeLimitMessage(s.cfg.MaxFileSize)}})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"malformed upload form"}})
		return
	}

	req := submission.Request{
		Name:    r.FormValue("name"),
		Surname: r.FormValue("surname"),
		Email:   r.FormValue("email"),
	}

	file, header, err := r.FormFile("document")
	if err == nil {
		defer file.Close()
		data, readErr := io.ReadAll(io.LimitReader(file, s.cfg.MaxFileSize+1))
		if readErr != nil {
			log.Printf("api: read upload: %v", readErr)
			http.Error(w, "try again later", http.StatusInternalServerError)
			return
		}
		req.HasFile = true
		req.Filename = header.Filename
		req.Data = data
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": []string{"malformed upload form"}})
		return
	}

	result, validationErrs, err := s.submitter.Submit(r.Context(), req)
	if err != nil {
		// Storage faults carry detail for the log only; the author sees a
		// generic retry message.
		log.Printf("api: submit failed: %v", err)
		http.Error(w, "could not process the file, try again", http.StatusInternalServerError)
		return
	}
	if len(validationErrs) > 0 {
		telemetry.SubmissionsRejected.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": validationErrs})
		return
	}

	telemetry.SubmissionsAccepted.Inc()
	writeJSON(w, http.StatusCreated, submitResponse{
		JobID:               result.JobID,
		Journal:             result.JournalName,
		VerificationPending: !result.User.Verified,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		http.Error(w, "job id is required", http.StatusBadRequest)
		return
	}
	view, err := s.store.GetJobView(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		log.Printf("api: status for job=%s failed: %v", jobID, err)
		http.Error(w, "try again later", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	ok, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		log.Printf("api: verify failed: %v", err)
		http.Error(w, "try again later", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"verified": false, "message": "invalid or expired verification token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
