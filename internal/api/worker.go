package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"revista-press/internal/store"
	"revista-press/internal/telemetry"
)

// requireWorkerToken guards the conversion worker's write-back surface with
// a shared bearer token.
func (s *Server) requireWorkerToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.WorkerToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type claimRequest struct {
	WorkerID string `json:"worker_id"`
}

// handleWorkerClaim hands the oldest pending job to a conversion worker,
// moving it to processing. 204 means the queue is empty.
func (s *Server) handleWorkerClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.WorkerID == "" {
		req.WorkerID = "worker"
	}

	job, err := s.store.ClaimNextPending(r.Context(), req.WorkerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		log.Printf("api: worker claim failed: %v", err)
		http.Error(w, "claim failed", http.StatusInternalServerError)
		return
	}

	_ = s.store.AppendLog(r.Context(), job.JobID, "info", "processing started by "+req.WorkerID)
	telemetry.WorkerClaims.Inc()
	writeJSON(w, http.StatusOK, job)
}

// handleWorkerComplete accepts the produced artifacts for a processing job:
// multipart parts "pdf" (compiled document) and/or "bundle" (zip with
// sources and PDF). The bundle blob is stored before the row flips to
// completed, same ordering rule as submission.
func (s *Server) handleWorkerComplete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := r.ParseMultipartForm(16 << 20); err != nil {
		http.Error(w, "malformed upload form", http.StatusBadRequest)
		return
	}

	pdfData, err := formFileBytes(r, "pdf")
	if err != nil {
		http.Error(w, "malformed pdf part", http.StatusBadRequest)
		return
	}
	bundleData, err := formFileBytes(r, "bundle")
	if err != nil {
		http.Error(w, "malformed bundle part", http.StatusBadRequest)
		return
	}
	if len(pdfData) == 0 && len(bundleData) == 0 {
		http.Error(w, "a pdf or bundle part is required", http.StatusBadRequest)
		return
	}

	params := store.CompleteJobParams{JobID: jobID, PDFData: pdfData}
	if len(bundleData) > 0 {
		bundleName := jobID + ".zip"
		if _, err := s.bundles.Put(r.Context(), "bundles/"+bundleName, bundleData, "application/zip"); err != nil {
			log.Printf("api: store bundle for job=%s failed: %v", jobID, err)
			http.Error(w, "store bundle failed", http.StatusInternalServerError)
			return
		}
		params.BundleFilename = bundleName
		params.BundleSize = int64(len(bundleData))
	}

	if err := s.store.CompleteJob(r.Context(), params); err != nil {
		s.writeTransitionError(w, jobID, err)
		return
	}

	_ = s.store.AppendLog(r.Context(), jobID, "info", "processing completed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type failRequest struct {
	Message string `json:"message"`
}

// handleWorkerFail records a conversion failure with a message for the author.
func (s *Server) handleWorkerFail(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var req failRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		req.Message = "processing failed"
	}

	if err := s.store.FailJob(r.Context(), jobID, req.Message); err != nil {
		s.writeTransitionError(w, jobID, err)
		return
	}

	_ = s.store.AppendLog(r.Context(), jobID, "error", req.Message)
	writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
}

func (s *Server) writeTransitionError(w http.ResponseWriter, jobID string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "job is not in a state that allows this transition", http.StatusConflict)
	default:
		log.Printf("api: transition for job=%s failed: %v", jobID, err)
		http.Error(w, "try again later", http.StatusInternalServerError)
	}
}

func formFileBytes(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
