package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"revista-press/internal/models"
)

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	// JobID is the external identifier, minted by the caller before the
	// upload blob is written so blob and row share the same key.
	JobID            string
	UserID           int64
	JournalCode      string
	FilenameOriginal string
	FileExtension    string
	UploadFilename   string
	FileSize         int64
	RetentionWindow  time.Duration
}

// CreateJob inserts a pending job row with a retention deadline of now plus
// the configured window.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	jobID := p.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	now := time.Now().UTC()
	deleteAt := now.Add(p.RetentionWindow)

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (job_id, user_id, journal_code, filename_original, file_extension,
			upload_filename, file_size, status, notified, created_at, delete_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10)
		RETURNING id
	`, jobID, p.UserID, p.JournalCode, p.FilenameOriginal, p.FileExtension,
		p.UploadFilename, p.FileSize, models.StatusPending, now, deleteAt).Scan(&id)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return models.Job{
		ID:               id,
		JobID:            jobID,
		UserID:           p.UserID,
		JournalCode:      p.JournalCode,
		FilenameOriginal: p.FilenameOriginal,
		FileExtension:    p.FileExtension,
		UploadFilename:   p.UploadFilename,
		FileSize:         p.FileSize,
		Status:           models.StatusPending,
		CreatedAt:        now,
		DeleteAt:         deleteAt,
	}, nil
}

const jobColumns = `id, job_id, user_id, journal_code, filename_original, file_extension,
	upload_filename, file_size, status, error_message, created_at, started_at,
	completed_at, delete_at, notified, pdf_size, bundle_filename, bundle_size, worker_id`

// GetJob fetches a job by its external identifier. PDF bytes are excluded;
// use GetJobPDF.
func (s *Store) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)

	var j models.Job
	var errMsg, bundleName, workerID pgtype.Text
	var startedAt, completedAt pgtype.Timestamptz
	var pdfSize, bundleSize pgtype.Int8

	err := row.Scan(&j.ID, &j.JobID, &j.UserID, &j.JournalCode, &j.FilenameOriginal,
		&j.FileExtension, &j.UploadFilename, &j.FileSize, &j.Status, &errMsg,
		&j.CreatedAt, &startedAt, &completedAt, &j.DeleteAt, &j.Notified,
		&pdfSize, &bundleName, &bundleSize, &workerID)
	if err != nil {
		if isNoRows(err) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	j.ErrorMessage = textPtr(errMsg)
	j.BundleFilename = textPtr(bundleName)
	j.WorkerID = textPtr(workerID)
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if pdfSize.Valid {
		v := pdfSize.Int64
		j.PDFSize = &v
	}
	if bundleSize.Valid {
		v := bundleSize.Int64
		j.BundleSize = &v
	}
	return j, nil
}

// GetJobView joins job, owner, and journal configuration for the status page.
func (s *Store) GetJobView(ctx context.Context, jobID string) (models.JobView, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT j.job_id, j.filename_original, j.status, r.name, r.full_name,
			j.error_message, j.created_at, j.started_at, j.completed_at, j.delete_at
		FROM jobs j
		JOIN journals r ON r.code = j.journal_code
		WHERE j.job_id = $1
	`, jobID)

	var v models.JobView
	var errMsg pgtype.Text
	var startedAt, completedAt pgtype.Timestamptz

	err := row.Scan(&v.JobID, &v.FilenameOriginal, &v.Status, &v.JournalName,
		&v.JournalFullName, &errMsg, &v.CreatedAt, &startedAt, &completedAt, &v.DeleteAt)
	if err != nil {
		if isNoRows(err) {
			return models.JobView{}, ErrNotFound
		}
		return models.JobView{}, fmt.Errorf("scan job view: %w", err)
	}

	v.ErrorMessage = textPtr(errMsg)
	if startedAt.Valid {
		t := startedAt.Time
		v.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		v.CompletedAt = &t
	}
	return v, nil
}

// GetJobPDF returns the inline PDF bytes for a completed job.
func (s *Store) GetJobPDF(ctx context.Context, jobID string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT pdf_data FROM jobs WHERE job_id = $1`, jobID).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query pdf: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

// ClaimNextPending atomically moves the oldest pending job to processing and
// stamps started_at. SKIP LOCKED keeps concurrent workers off the same row.
// Returns ErrNotFound when the queue is empty.
func (s *Store) ClaimNextPending(ctx context.Context, workerID string) (models.Job, error) {
	var jobID string
	err := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET status = $1, started_at = NOW(), worker_id = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = $3
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id
	`, models.StatusProcessing, workerID, models.StatusPending).Scan(&jobID)
	if err != nil {
		if isNoRows(err) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, fmt.Errorf("claim pending job: %w", err)
	}
	return s.GetJob(ctx, jobID)
}

// CompleteJobParams carries the artifacts the worker reports back.
type CompleteJobParams struct {
	JobID          string
	PDFData        []byte
	BundleFilename string
	BundleSize     int64
}

// CompleteJob transitions processing -> completed and records artifacts.
// The WHERE clause enforces the forward-only contract; a terminal or pending
// job yields ErrConflict.
func (s *Store) CompleteJob(ctx context.Context, p CompleteJobParams) error {
	var pdfSize *int64
	var pdfData []byte
	if len(p.PDFData) > 0 {
		n := int64(len(p.PDFData))
		pdfSize = &n
		pdfData = p.PDFData
	}
	var bundleName *string
	var bundleSize *int64
	if p.BundleFilename != "" {
		bundleName = &p.BundleFilename
		bundleSize = &p.BundleSize
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, completed_at = NOW(), error_message = NULL,
			pdf_data = $3, pdf_size = $4, bundle_filename = $5, bundle_size = $6
		WHERE job_id = $1 AND status = $7
	`, p.JobID, models.StatusCompleted, pdfData, pdfSize, bundleName, bundleSize, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, p.JobID)
	}
	return nil
}

// FailJob transitions processing -> error with a message for the author.
func (s *Store) FailJob(ctx context.Context, jobID, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, completed_at = NOW(), error_message = $3
		WHERE job_id = $1 AND status = $4
	`, jobID, models.StatusError, message, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, jobID)
	}
	return nil
}

// transitionError distinguishes a missing job from a denied transition after
// a conditional update matched no rows.
func (s *Store) transitionError(ctx context.Context, jobID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE job_id = $1)`, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("check job existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// PendingNotifications returns up to limit terminal jobs that have not been
// notified and whose owner's email is verified.
func (s *Store) PendingNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT j.job_id, j.status, j.error_message, j.filename_original,
			j.pdf_size, j.bundle_filename, u.email, u.name
		FROM jobs j
		JOIN users u ON u.id = j.user_id
		WHERE j.notified = FALSE
			AND j.status IN ($1, $2)
			AND u.email_verified = TRUE
		ORDER BY j.completed_at
		LIMIT $3
	`, models.StatusCompleted, models.StatusError, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var errMsg, bundleName pgtype.Text
		var pdfSize pgtype.Int8
		if err := rows.Scan(&n.JobID, &n.Status, &errMsg, &n.FilenameOriginal,
			&pdfSize, &bundleName, &n.Email, &n.Name); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.ErrorMessage = textPtr(errMsg)
		n.HasPDF = pdfSize.Valid && pdfSize.Int64 > 0
		n.HasBundle = bundleName.Valid && bundleName.String != ""
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotified flips the notified flag only if still unset, so overlapping
// dispatcher runs collapse to a single durable flip. Reports whether this
// call performed the flip.
func (s *Store) MarkNotified(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET notified = TRUE WHERE job_id = $1 AND notified = FALSE
	`, jobID)
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountStale counts non-terminal jobs older than the cutoff. Surfaced in run
// summaries so stuck conversions are visible to operators.
func (s *Store) CountStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE status IN ($1, $2) AND created_at < $3
	`, models.StatusPending, models.StatusProcessing, time.Now().UTC().Add(-olderThan)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stale jobs: %w", err)
	}
	return n, nil
}
