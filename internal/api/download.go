package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"revista-press/internal/blob"
	"revista-press/internal/models"
	"revista-press/internal/store"
	"revista-press/internal/telemetry"
)

// handleDownloadPDF serves the compiled PDF stored inline with the job row.
func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
	job, ok := s.completedJob(w, r)
	if !ok {
		return
	}

	data, err := s.store.GetJobPDF(r.Context(), job.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Completed job without its artifact is a data-integrity fault,
			// not a user error.
			log.Printf("api: job=%s completed but pdf missing", job.JobID)
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		log.Printf("api: pdf for job=%s failed: %v", job.JobID, err)
		http.Error(w, "try again later", http.StatusInternalServerError)
		return
	}

	serveArtifact(w, data, "application/pdf", downloadName(job.FilenameOriginal, ".pdf"))
	telemetry.DownloadsServed.Inc()
}

// handleDownloadBundle serves the packaged archive (sources plus compiled
// PDF) from blob storage, located by the server-side bundle filename only.
func (s *Server) handleDownloadBundle(w http.ResponseWriter, r *http.Request) {
	job, ok := s.completedJob(w, r)
	if !ok {
		return
	}

	if job.BundleFilename == nil || *job.BundleFilename == "" {
		log.Printf("api: job=%s completed but bundle filename missing", job.JobID)
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	data, err := s.bundles.Get(r.Context(), "bundles/"+*job.BundleFilename)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			log.Printf("api: job=%s completed but bundle %s missing", job.JobID, *job.BundleFilename)
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		log.Printf("api: bundle for job=%s failed: %v", job.JobID, err)
		http.Error(w, "try again later", http.StatusInternalServerError)
		return
	}

	serveArtifact(w, data, "application/zip", downloadName(job.FilenameOriginal, ".zip"))
	telemetry.DownloadsServed.Inc()
}

// completedJob runs the shared precondition chain for both artifact
// variants: id present, job exists, still within the retention window,
// status exactly completed.
func (s *Server) completedJob(w http.ResponseWriter, r *http.Request) (models.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		http.Error(w, "job id is required", http.StatusBadRequest)
		return models.Job{}, false
	}

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return models.Job{}, false
		}
		log.Printf("api: load job=%s failed: %v", jobID, err)
		http.Error(w, "try again later", http.StatusInternalServerError)
		return models.Job{}, false
	}

	if time.Now().After(job.DeleteAt) {
		http.Error(w, "the file is no longer available", http.StatusGone)
		return models.Job{}, false
	}

	if job.Status != models.StatusCompleted {
		http.Error(w, "the document is not ready for download", http.StatusConflict)
		return models.Job{}, false
	}

	return job, true
}

func serveArtifact(w http.ResponseWriter, data []byte, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Header().Set("Cache-Control", "no-cache, must-revalidate")
	_, _ = w.Write(data)
}

// downloadName derives the attachment name from the original upload name,
// never from anything client-supplied at download time.
func downloadName(original, ext string) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	if base == "" {
		base = "document"
	}
	return base + "_processed" + ext
}
