package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"revista-press/internal/blob"
	"revista-press/internal/config"
	"revista-press/internal/models"
	"revista-press/internal/store"
	"revista-press/internal/submission"
)

type fakeStore struct {
	jobs    map[string]models.Job
	pdfs    map[string][]byte
	claimed []string
	done    []store.CompleteJobParams
	failed  []string
}

func newFakeStoreAPI() *fakeStore {
	return &fakeStore{jobs: map[string]models.Job{}, pdfs: map[string][]byte{}}
}

func (f *fakeStore) GetJob(_ context.Context, jobID string) (models.Job, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return models.Job{}, store.ErrNotFound
	}
	return j, nil
}

func (f *fakeStore) GetJobView(_ context.Context, jobID string) (models.JobView, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return models.JobView{}, store.ErrNotFound
	}
	return models.JobView{JobID: j.JobID, Status: j.Status, FilenameOriginal: j.FilenameOriginal, JournalName: "IDEAS"}, nil
}

func (f *fakeStore) GetJobPDF(_ context.Context, jobID string) ([]byte, error) {
	data, ok := f.pdfs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

func (f *fakeStore) ClaimNextPending(_ context.Context, workerID string) (models.Job, error) {
	for id, j := range f.jobs {
		if j.Status == models.StatusPending {
			j.Status = models.StatusProcessing
			f.jobs[id] = j
			f.claimed = append(f.claimed, id)
			return j, nil
		}
	}
	return models.Job{}, store.ErrNotFound
}

func (f *fakeStore) CompleteJob(_ context.Context, p store.CompleteJobParams) error {
	j, ok := f.jobs[p.JobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != models.StatusProcessing {
		return store.ErrConflict
	}
	j.Status = models.StatusCompleted
	f.jobs[p.JobID] = j
	f.done = append(f.done, p)
	return nil
}

func (f *fakeStore) FailJob(_ context.Context, jobID, message string) error {
	j, ok := f.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != models.StatusProcessing {
		return store.ErrConflict
	}
	j.Status = models.StatusError
	j.ErrorMessage = &message
	f.jobs[jobID] = j
	f.failed = append(f.failed, jobID)
	return nil
}

func (f *fakeStore) AppendLog(context.Context, string, string, string) error { return nil }

type fakeSubmitter struct {
	result submission.Result
	errs   []string
	err    error
	got    submission.Request
	calls  int
}

func (f *fakeSubmitter) Submit(_ context.Context, req submission.Request) (submission.Result, []string, error) {
	f.calls++
	f.got = req
	return f.result, f.errs, f.err
}

type fakeVerifier struct{ ok bool }

func (f *fakeVerifier) Verify(context.Context, string) (bool, error) { return f.ok, nil }

type fakeBlobs struct{ data map[string][]byte }

func (f *fakeBlobs) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	if f.data == nil {
		f.data = map[string][]byte{}
	}
	f.data[key] = body
	return key, nil
}

func (f *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	d, ok := f.data[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return d, nil
}

type fakeLimiter struct {
	allow bool
	err   error
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, float64, error) {
	return f.allow, 0, f.err
}

func testServer(st Store, sub Submitter, ver Verifier, blobs blob.Storage) *Server {
	cfg := config.Load()
	cfg.WorkerToken = "worker-secret"
	return New(cfg, st, sub, ver, blobs, nil)
}

func multipartBody(t *testing.T, fields map[string]string, fileField, filename string, fileData []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		if _, err := fw.Write(fileData); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return buf, mw.FormDataContentType()
}

func TestHandleSubmitAccepted(t *testing.T) {
	sub := &fakeSubmitter{result: submission.Result{JobID: "j-1", JournalName: "IDEAS", User: models.User{ID: 1}}}
	srv := testServer(newFakeStoreAPI(), sub, &fakeVerifier{}, &fakeBlobs{})

	body, ctype := multipartBody(t, map[string]string{
		"name": "Ana", "surname": "Ruiz", "email": "ana@example.com",
	}, "document", "paper.tex", []byte("\\documentclass{article}"))

	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID != "j-1" || !resp.VerificationPending {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !sub.got.HasFile || sub.got.Filename != "paper.tex" {
		t.Fatalf("file part not forwarded: %+v", sub.got)
	}
}

func TestHandleSubmitValidationErrors(t *testing.T) {
	sub := &fakeSubmitter{errs: []string{"name is required", "a document file is required"}}
	srv := testServer(newFakeStoreAPI(), sub, &fakeVerifier{}, &fakeBlobs{})

	body, ctype := multipartBody(t, map[string]string{"email": "ana@example.com"}, "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp struct {
		Errors []string `json:"errors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Errors) != 2 {
		t.Fatalf("expected both validation errors reported, got %v", resp.Errors)
	}
}

func TestHandleSubmitOversizedBodyReportsSizeLimit(t *testing.T) {
	cfg := config.Load()
	cfg.MaxFileSize = 1024
	sub := &fakeSubmitter{}
	srv := New(cfg, newFakeStoreAPI(), sub, &fakeVerifier{}, &fakeBlobs{}, nil)

	// Past the cap plus the 1 MiB form headroom the body reader cuts the
	// request off before the form parses; the author must still see the
	// size-limit message, not a parse error.
	body, ctype := multipartBody(t, map[string]string{
		"name": "Ana", "surname": "Ruiz", "email": "ana@example.com",
	}, "document", "big.docx", make([]byte, 2<<20))

	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp struct {
		Errors []string `json:"errors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Errors) != 1 || !strings.Contains(resp.Errors[0], "too large") {
		t.Fatalf("expected size-limit error, got %v", resp.Errors)
	}
	if sub.calls != 0 {
		t.Fatalf("oversized body must be rejected before admission")
	}
}

func TestHandleSubmitLimiterErrorFailsOpen(t *testing.T) {
	sub := &fakeSubmitter{result: submission.Result{JobID: "j-1", JournalName: "IDEAS"}}
	cfg := config.Load()
	srv := New(cfg, newFakeStoreAPI(), sub, &fakeVerifier{}, &fakeBlobs{}, &fakeLimiter{err: errors.New("redis down")})

	body, ctype := multipartBody(t, map[string]string{
		"name": "Ana", "surname": "Ruiz", "email": "ana@example.com",
	}, "document", "paper.tex", []byte("x"))

	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("a broken limiter must not block submissions, got %d: %s", rec.Code, rec.Body.String())
	}
	if sub.calls != 1 {
		t.Fatalf("submission must still be admitted")
	}
}

func TestHandleSubmitRateLimited(t *testing.T) {
	cfg := config.Load()
	srv := New(cfg, newFakeStoreAPI(), &fakeSubmitter{}, &fakeVerifier{}, &fakeBlobs{}, &fakeLimiter{allow: false})

	body, ctype := multipartBody(t, map[string]string{"name": "Ana"}, "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/submit", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	st := newFakeStoreAPI()
	st.jobs["j-1"] = models.Job{JobID: "j-1", Status: models.StatusProcessing, FilenameOriginal: "paper.tex"}
	srv := testServer(st, &fakeSubmitter{}, &fakeVerifier{}, &fakeBlobs{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/j-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var view models.JobView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != models.StatusProcessing || view.JournalName != "IDEAS" {
		t.Fatalf("unexpected view %+v", view)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestHandleVerify(t *testing.T) {
	srv := testServer(newFakeStoreAPI(), &fakeSubmitter{}, &fakeVerifier{ok: true}, &fakeBlobs{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verify?token=abc", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"verified":true`) {
		t.Fatalf("expected verified response, got %d %s", rec.Code, rec.Body.String())
	}

	srv = testServer(newFakeStoreAPI(), &fakeSubmitter{}, &fakeVerifier{ok: false}, &fakeBlobs{})
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verify?token=bad", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad token, got %d", rec.Code)
	}
}

func completedJob(id string) models.Job {
	return models.Job{
		JobID:            id,
		Status:           models.StatusCompleted,
		FilenameOriginal: "paper.tex",
		DeleteAt:         time.Now().Add(24 * time.Hour),
	}
}

func TestDownloadPDF(t *testing.T) {
	st := newFakeStoreAPI()
	st.jobs["j-1"] = completedJob("j-1")
	st.pdfs["j-1"] = []byte("%PDF-1.7")
	srv := testServer(st, &fakeSubmitter{}, &fakeVerifier{}, &fakeBlobs{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/j-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content type %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `paper_processed.pdf`) {
		t.Fatalf("unexpected disposition %s", cd)
	}
	data, _ := io.ReadAll(rec.Body)
	if !bytes.Equal(data, []byte("%PDF-1.7")) {
		t.Fatalf("body mismatch")
	}
}

func TestDownloadRejectsNonCompleted(t *testing.T) {
	for _, status := range []string{models.StatusPending, models.StatusProcessing, models.StatusError} {
		st := newFakeStoreAPI()
		j := completedJob("j-1")
		j.Status = status
		st.jobs["j-1"] = j
		srv := testServer(st, &fakeSubmitter{}, &fakeVerifier{}, &fakeBlobs{})

		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/j-1", nil))
		if rec.Code != http.StatusConflict {
			t.Fatalf("status %s: expected 409, got %d", status, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "%PDF") {
			t.Fatalf("status %s: bytes must never be served", status)
		}
	}
}

func TestDownloadUnknownJob(t *testing.T) {
	srv := testServer(newFakeStoreAPI(), &fakeSubmitter{}, &fakeVerifier{}, &fakeBlobs{})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDownloadPastRetention(t *testing.T) {
	st := newFakeStoreAPI()
	j := completedJob("j-1")
	j.DeleteAt = time.Now().Add(-time.Hour)
	st.jobs["j-1"] = j
	st.pdfs["j-1"] = []byte("%PDF-1.7")
	srv := testServer(st, &fakeSubmitter{}, &fakeVerifier{}, &fakeBlobs{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/j-1", nil))
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410 past retention, got %d", rec.Code)
	}
}

func TestDownloadCompletedButPDFMissing(t *testing.T) {
	st := newFakeStoreAPI()
	st.jobs["j-1"] = completedJob("j-1")
	srv := testServer(st, &fakeSubmitter{}, &fakeVerifier{}, &fakeBlobs{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/j-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing artifact, got %d", rec.Code)
	}
}

func TestDownloadBundle(t *testing.T) {
	st := newFakeStoreAPI()
	j := completedJob("j-1")
	name := "j-1.zip"
	j.BundleFilename = &name
	st.jobs["j-1"] = j
	blobs := &fakeBlobs{data: map[string][]byte{"bundles/j-1.zip": []byte("PK zip")}}
	srv := testServer(st, &fakeSubmitter{}, &fakeVerifier{}, blobs)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bundle/j-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("unexpected content type %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "paper_processed.zip") {
		t.Fatalf("unexpected disposition %s", cd)
	}
}

func TestWorkerEndpointsRequireToken(t *testing.T) {
	srv := testServer(newFakeStoreAPI(), &fakeSubmitter{}, &fakeVerifier{}, &fakeBlobs{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/worker/claim", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/worker/claim", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
}

func workerRequest(method, path string, body *bytes.Buffer, ctype string) *http.Request {
	var rd io.Reader
	if body != nil {
		rd = body
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer worker-secret")
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	return req
}

func TestWorkerClaim(t *testing.T) {
	st := newFakeStoreAPI()
	srv := testServer(st, &fakeSubmitter{}, &fakeVerifier{}, &fakeBlobs{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, workerRequest(http.MethodPost, "/worker/claim", bytes.NewBufferString(`{"worker_id":"w1"}`), "application/json"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on empty queue, got %d", rec.Code)
	}

	st.jobs["j-1"] = models.Job{JobID: "j-1", Status: models.StatusPending}
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, workerRequest(http.MethodPost, "/worker/claim", bytes.NewBufferString(`{"worker_id":"w1"}`), "application/json"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if st.jobs["j-1"].Status != models.StatusProcessing {
		t.Fatalf("claimed job must move to processing")
	}
}

func TestWorkerCompleteStoresBundleAndFlipsStatus(t *testing.T) {
	st := newFakeStoreAPI()
	st.jobs["j-1"] = models.Job{JobID: "j-1", Status: models.StatusProcessing}
	blobs := &fakeBlobs{}
	srv := testServer(st, &fakeSubmitter{}, &fakeVerifier{}, blobs)

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	pw, _ := mw.CreateFormFile("pdf", "out.pdf")
	_, _ = pw.Write([]byte("%PDF-1.7"))
	bw, _ := mw.CreateFormFile("bundle", "out.zip")
	_, _ = bw.Write([]byte("PK zip"))
	_ = mw.Close()

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, workerRequest(http.MethodPost, "/worker/jobs/j-1/complete", buf, mw.FormDataContentType()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if st.jobs["j-1"].Status != models.StatusCompleted {
		t.Fatalf("job must be completed")
	}
	if _, ok := blobs.data["bundles/j-1.zip"]; !ok {
		t.Fatalf("bundle must land in blob storage under the job id")
	}
	if len(st.done) != 1 || st.done[0].BundleFilename != "j-1.zip" {
		t.Fatalf("unexpected complete params %+v", st.done)
	}
}

func TestWorkerCompleteConflictOnTerminalJob(t *testing.T) {
	st := newFakeStoreAPI()
	st.jobs["j-1"] = completedJob("j-1")
	srv := testServer(st, &fakeSubmitter{}, &fakeVerifier{}, &fakeBlobs{})

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	pw, _ := mw.CreateFormFile("pdf", "out.pdf")
	_, _ = pw.Write([]byte("%PDF-1.7"))
	_ = mw.Close()

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, workerRequest(http.MethodPost, "/worker/jobs/j-1/complete", buf, mw.FormDataContentType()))
	if rec.Code != http.StatusConflict {
		t.Fatalf("completing a terminal job must be a conflict, got %d", rec.Code)
	}
}

func TestWorkerFail(t *testing.T) {
	st := newFakeStoreAPI()
	st.jobs["j-1"] = models.Job{JobID: "j-1", Status: models.StatusProcessing}
	srv := testServer(st, &fakeSubmitter{}, &fakeVerifier{}, &fakeBlobs{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, workerRequest(http.MethodPost, "/worker/jobs/j-1/fail", bytes.NewBufferString(`{"message":"compile failed"}`), "application/json"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	j := st.jobs["j-1"]
	if j.Status != models.StatusError || j.ErrorMessage == nil || *j.ErrorMessage != "compile failed" {
		t.Fatalf("unexpected job state %+v", j)
	}
}
