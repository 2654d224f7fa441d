package models

import (
	"time"
)

// Job status values persisted in Postgres. The conversion worker moves a job
// forward through pending -> processing -> completed|error; no transition
// ever moves backward.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// IsTerminal reports whether no further worker mutation is expected.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusError
}

// CanTransition reports whether a status change moves the lifecycle forward.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusError
	default:
		return false
	}
}

// Job is one submitted document tracked through conversion. The external
// job_id is the only identifier ever exposed in URLs; the surrogate ID stays
// internal. PDF bytes live in their own column and are fetched separately.
type Job struct {
	ID               int64      `json:"-"`
	JobID            string     `json:"job_id"`
	UserID           int64      `json:"-"`
	JournalCode      string     `json:"journal_code"`
	FilenameOriginal string     `json:"filename_original"`
	FileExtension    string     `json:"file_extension"`
	UploadFilename   string     `json:"upload_filename"`
	FileSize         int64      `json:"file_size"`
	Status           string     `json:"status"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	DeleteAt         time.Time  `json:"delete_at"`
	Notified         bool       `json:"notified"`
	PDFSize          *int64     `json:"pdf_size,omitempty"`
	BundleFilename   *string    `json:"bundle_filename,omitempty"`
	BundleSize       *int64     `json:"bundle_size,omitempty"`
	WorkerID         *string    `json:"worker_id,omitempty"`
}

// JobView is the read-only status projection joining job, owner, and journal
// configuration. It carries everything the status page shows and nothing
// belonging to other users.
type JobView struct {
	JobID            string     `json:"job_id"`
	FilenameOriginal string     `json:"filename_original"`
	Status           string     `json:"status"`
	JournalName      string     `json:"journal_name"`
	JournalFullName  string     `json:"journal_full_name"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	DeleteAt         time.Time  `json:"delete_at"`
}

// Notification is one row of the dispatcher batch: a terminal job joined
// with its verified owner's contact details. HasPDF and HasBundle record
// which artifacts exist so the mail links the one that will actually serve.
type Notification struct {
	JobID            string
	Status           string
	ErrorMessage     *string
	FilenameOriginal string
	Email            string
	Name             string
	HasPDF           bool
	HasBundle        bool
}
