package submission

import (
	"context"
	"fmt"
	"log"
	"net/mail"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"revista-press/internal/blob"
	"revista-press/internal/models"
	"revista-press/internal/store"
)

// Store is the slice of persistence the submission service needs.
type Store interface {
	GetActiveJournal(ctx context.Context, code string) (models.Journal, error)
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, error)
	AppendLog(ctx context.Context, jobID, level, message string) error
}

// Users resolves submitters to identities.
type Users interface {
	ResolveOrCreate(ctx context.Context, email, name, surname string) (models.User, error)
}

// Request is one submission: the author's details plus the uploaded bytes.
type Request struct {
	Name     string
	Surname  string
	Email    string
	Filename string
	Data     []byte
	// HasFile distinguishes "no file part at all" from an empty upload.
	HasFile bool
}

// Result reports a successful admission.
type Result struct {
	JobID       string
	User        models.User
	NewUser     bool
	JournalName string
}

// Service validates and admits new jobs.
type Service struct {
	store           Store
	blobs           blob.Storage
	users           Users
	journalCode     string
	maxFileSize     int64
	allowedExts     map[string]bool
	extList         string
	retentionWindow time.Duration
}

func New(st Store, blobs blob.Storage, users Users, journalCode string, maxFileSize int64, allowedExts []string, retention time.Duration) *Service {
	exts := make(map[string]bool, len(allowedExts))
	for _, e := range allowedExts {
		exts[strings.ToLower(e)] = true
	}
	return &Service{
		store:           st,
		blobs:           blobs,
		users:           users,
		journalCode:     journalCode,
		maxFileSize:     maxFileSize,
		allowedExts:     exts,
		extList:         strings.Join(allowedExts, ", "),
		retentionWindow: retention,
	}
}

// Validate checks every constraint and reports all violations at once.
func (s *Service) Validate(req Request) []string {
	var errs []string
	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, "name is required")
	}
	if strings.TrimSpace(req.Surname) == "" {
		errs = append(errs, "surname is required")
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		errs = append(errs, "email is required")
	} else if !validEmail(email) {
		errs = append(errs, "email is not valid")
	}
	if !req.HasFile {
		errs = append(errs, "a document file is required")
		return errs
	}
	if int64(len(req.Data)) > s.maxFileSize {
		errs = append(errs, SizeLimitMessage(s.maxFileSize))
	}
	if !s.allowedExts[extensionOf(req.Filename)] {
		errs = append(errs, "file type not allowed, accepted: "+s.extList)
	}
	return errs
}

// Submit admits a job. Returned validation errors are for the caller; a
// non-nil error is a server-side fault the handler reports generically.
//
// Write order is fixed: the upload blob is stored before the metadata row.
// An orphaned blob after a failed insert is acceptable garbage; a job row
// pointing at a missing blob is not.
func (s *Service) Submit(ctx context.Context, req Request) (Result, []string, error) {
	if errs := s.Validate(req); len(errs) > 0 {
		return Result{}, errs, nil
	}

	journal, err := s.store.GetActiveJournal(ctx, s.journalCode)
	if err != nil {
		return Result{}, nil, fmt.Errorf("resolve journal %q: %w", s.journalCode, err)
	}

	email := strings.TrimSpace(req.Email)
	user, err := s.users.ResolveOrCreate(ctx, email, strings.TrimSpace(req.Name), strings.TrimSpace(req.Surname))
	if err != nil {
		return Result{}, nil, fmt.Errorf("resolve user: %w", err)
	}

	ext := extensionOf(req.Filename)
	// uuid.New is backed by crypto/rand; the job id doubles as the bearer
	// credential in status and download URLs.
	jobID := uuid.New().String()
	uploadName := jobID + "." + ext

	if _, err := s.blobs.Put(ctx, "uploads/"+uploadName, req.Data, contentTypeFor(ext)); err != nil {
		return Result{}, nil, fmt.Errorf("store upload: %w", err)
	}

	job, err := s.store.CreateJob(ctx, store.CreateJobParams{
		UserID:           user.ID,
		JournalCode:      journal.Code,
		FilenameOriginal: filepath.Base(req.Filename),
		FileExtension:    ext,
		UploadFilename:   uploadName,
		FileSize:         int64(len(req.Data)),
		RetentionWindow:  s.retentionWindow,
		JobID:            jobID,
	})
	if err != nil {
		return Result{}, nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.store.AppendLog(ctx, job.JobID, "info", "job admitted"); err != nil {
		log.Printf("submission: append log for job=%s failed: %v", job.JobID, err)
	}

	return Result{
		JobID:       job.JobID,
		User:        user,
		NewUser:     !user.Verified && user.VerificationToken != nil,
		JournalName: journal.Name,
	}, nil, nil
}

// SizeLimitMessage is the validation message for an oversized upload. The
// HTTP layer reuses it when a body blows past the request reader cap before
// validation ever sees the file.
func SizeLimitMessage(maxBytes int64) string {
	return fmt.Sprintf("file is too large (maximum %d MB)", maxBytes/1024/1024)
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func extensionOf(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

func contentTypeFor(ext string) string {
	switch ext {
	case "doc":
		return "application/msword"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "tex":
		return "application/x-tex"
	default:
		return "application/octet-stream"
	}
}
