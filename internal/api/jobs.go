package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crosslation/redline/core/align"
	"github.com/crosslation/redline/core/docx"
	"github.com/crosslation/redline/core/engine"
	"github.com/crosslation/redline/core/report"
	"github.com/crosslation/redline/core/translate"
	"github.com/crosslation/redline/internal/llm"
	"github.com/crosslation/redline/internal/logging"
	"github.com/crosslation/redline/internal/retry"
	"github.com/crosslation/redline/internal/validation"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job represents an asynchronous transfer job.
type Job struct {
	ID          string          `json:"id"`
	Status      JobStatus       `json:"status"`
	Stage       string          `json:"stage,omitempty"` // engine phase while running
	Progress    int             `json:"progress"`        // 0-100
	Source      string          `json:"source"`
	Target      string          `json:"target"`
	SourceLang  string          `json:"source_lang,omitempty"`
	TargetLang  string          `json:"target_lang,omitempty"`
	Author      string          `json:"author,omitempty"`
	Output      string          `json:"output,omitempty"` // result filename once completed
	Summary     *report.Summary `json:"summary,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
	CompletedAt string          `json:"completed_at,omitempty"`

	ctx     context.Context    `json:"-"`
	cancel  context.CancelFunc `json:"-"`
	result  *report.Report     `json:"-"`
	output  []byte             `json:"-"`
	outName string             `json:"-"`
}

// JobParams carries the client-supplied settings for a new job.
type JobParams struct {
	Source     string // validated source filename
	Target     string // validated target filename
	SourceLang string
	TargetLang string
	Author     string
}

// JobStore manages transfer jobs in memory. Accessors return copies so
// callers never observe a job mid-update.
type JobStore struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

// NewJobStore creates a new job store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
	}
}

var globalJobStore = NewJobStore()

// Create creates a new job and returns it.
func (s *JobStore) Create(params JobParams) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC().Format(time.RFC3339)

	job := &Job{
		ID:         uuid.New().String(),
		Status:     JobStatusPending,
		Progress:   0,
		Source:     params.Source,
		Target:     params.Target,
		SourceLang: params.SourceLang,
		TargetLang: params.TargetLang,
		Author:     params.Author,
		CreatedAt:  now,
		UpdatedAt:  now,
		ctx:        ctx,
		cancel:     cancel,
		outName:    outputName(params.Target),
	}

	s.jobs[job.ID] = job
	return job
}

// Get retrieves a snapshot of a job by ID.
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// Update updates a job's status, stage, and progress. A negative
// progress keeps the current value. Updates to a terminal job are
// ignored, so a cancellation is never overwritten by the aborting run.
func (s *JobStore) Update(id string, status JobStatus, stage string, progress int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if job.Status.Terminal() {
		return nil
	}

	job.Status = status
	job.Stage = stage
	if progress >= 0 {
		job.Progress = progress
	}
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	if errMsg != "" {
		job.Error = errMsg
	}

	if status.Terminal() {
		job.CompletedAt = job.UpdatedAt
	}

	return nil
}

// Complete marks a job as finished and attaches its report and output
// document.
func (s *JobStore) Complete(id string, rep *report.Report, output []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if job.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	job.Status = JobStatusCompleted
	job.Stage = string(engine.StateDone)
	job.Progress = 100
	job.Output = job.outName
	job.Summary = &rep.Summary
	job.result = rep
	job.output = output
	job.UpdatedAt = now
	job.CompletedAt = now

	return nil
}

// Report returns a completed job's report.
func (s *JobStore) Report(id string) (*report.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists || job.result == nil {
		return nil, false
	}
	return job.result, true
}

// Result returns a completed job's output document and filename.
func (s *JobStore) Result(id string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists || job.output == nil {
		return nil, "", false
	}
	return job.output, job.outName, true
}

// Delete removes a job from the store, cancelling it first when still
// active.
func (s *JobStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	if !job.Status.Terminal() && job.cancel != nil {
		job.cancel()
	}

	delete(s.jobs, id)
	return nil
}

// List returns snapshots of all jobs, newest first.
func (s *JobStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt != jobs[j].CreatedAt {
			return jobs[i].CreatedAt > jobs[j].CreatedAt
		}
		return jobs[i].ID > jobs[j].ID
	})
	return jobs
}

// Cancel cancels a pending or running job.
func (s *JobStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	if job.Status != JobStatusPending && job.Status != JobStatusRunning {
		return fmt.Errorf("job cannot be cancelled (status: %s)", job.Status)
	}

	if job.cancel != nil {
		job.cancel()
	}

	now := time.Now().UTC().Format(time.RFC3339)
	job.Status = JobStatusCancelled
	job.Stage = string(engine.StateAborted)
	job.UpdatedAt = now
	job.CompletedAt = now

	return nil
}

// outputName derives the result filename from the target filename.
func outputName(target string) string {
	ext := filepath.Ext(target)
	return strings.TrimSuffix(target, ext) + "_updated" + ext
}

// percentFor maps an engine progress event onto a 0-100 scale:
// extraction up to 10, alignment 10-55, application 55-95. A negative
// value keeps the job's current progress.
func percentFor(p engine.Progress) int {
	switch p.State {
	case engine.StateExtracting:
		return 5
	case engine.StateAligning:
		if p.Total > 0 {
			return 10 + (45*p.Step)/p.Total
		}
		return 10
	case engine.StateApplying:
		if p.Total > 0 {
			return 55 + (40*p.Step)/p.Total
		}
		return 55
	case engine.StateDone:
		return 100
	}
	return -1
}

// buildEngine assembles the transfer engine for one job from the server
// configuration and the job's own language and author settings.
func buildEngine(job *Job, progress engine.ProgressFunc, mem engine.Memory) (*engine.Engine, error) {
	author := job.Author
	if author == "" {
		author = ServerConfig.Author
	}
	cfg := engine.Config{
		SourceLang:  job.SourceLang,
		TargetLang:  job.TargetLang,
		Author:      author,
		Concurrency: ServerConfig.Concurrency,
		SourceName:  job.Source,
		TargetName:  job.Target,
		Memory:      mem,
		Progress:    progress,
	}

	if ServerConfig.Oracle.Provider == ProviderNone {
		return engine.New(nil, nil, cfg), nil
	}

	provider, err := llm.New(ServerConfig.Oracle)
	if err != nil {
		return nil, err
	}
	aligner := align.New(llm.NewOracle(provider), align.DefaultConfig())
	translator := translate.WithRetry(llm.NewTranslator(provider), retry.DefaultPolicy())
	return engine.New(aligner, translator, cfg), nil
}

// runJob executes a transfer job in a goroutine. The uploaded documents
// are parsed, run through the engine, and the revised target is kept in
// memory for download.
func runJob(job *Job, source, target []byte) {
	go func() {
		globalJobStore.Update(job.ID, JobStatusRunning, string(engine.StateExtracting), 0, "")
		BroadcastJobUpdate(job.ID, engine.StateExtracting, 0, "starting transfer")
		logging.JobEvent(job.ID, "started", "source", job.Source, "target", job.Target)

		src, err := docx.FromBytes(source)
		if err != nil {
			failJob(job.ID, fmt.Errorf("source document: %w", err))
			return
		}
		tgt, err := docx.FromBytes(target)
		if err != nil {
			failJob(job.ID, fmt.Errorf("target document: %w", err))
			return
		}

		progress := func(p engine.Progress) {
			pct := percentFor(p)
			globalJobStore.Update(job.ID, JobStatusRunning, string(p.State), pct, "")
			BroadcastJobUpdate(job.ID, p.State, pct, p.Message)
		}

		var mem engine.Memory
		if jobLedger != nil {
			mem = jobLedger
		}
		eng, err := buildEngine(job, progress, mem)
		if err != nil {
			failJob(job.ID, err)
			return
		}

		rep, err := eng.Run(job.ctx, src.Document(), tgt.Document())
		if err != nil {
			if job.ctx.Err() != nil {
				globalJobStore.Update(job.ID, JobStatusCancelled, string(engine.StateAborted), -1, "job cancelled")
				BroadcastJobError(job.ID, "job cancelled")
				logging.JobEvent(job.ID, "cancelled")
				return
			}
			failJob(job.ID, err)
			return
		}

		// The report carries the API job identity and result name, not
		// the engine's internal run id.
		rep.JobID = job.ID
		rep.Output = job.outName

		var buf bytes.Buffer
		if err := tgt.Save(&buf); err != nil {
			failJob(job.ID, err)
			return
		}

		if jobLedger != nil {
			if err := jobLedger.SaveReport(context.Background(), rep); err != nil {
				logging.Error("failed to persist job report", "job_id", job.ID, "error", err)
			}
		}

		globalJobStore.Complete(job.ID, rep, buf.Bytes())
		BroadcastJobComplete(job.ID, rep.Summary, job.outName)
		logging.JobEvent(job.ID, "completed",
			"applied", rep.Summary.Applied,
			"skipped", rep.Summary.Skipped,
			"failed", rep.Summary.Failed)
	}()
}

// failJob marks a job as failed and notifies progress listeners.
func failJob(id string, err error) {
	globalJobStore.Update(id, JobStatusFailed, string(engine.StateAborted), -1, err.Error())
	BroadcastJobError(id, err.Error())
	logging.JobEvent(id, "failed", "error", err)
}

// readUpload pulls one uploaded document out of the multipart form,
// validating its filename and content type. On failure the response has
// already been written and ok is false.
func readUpload(w http.ResponseWriter, r *http.Request, field string) (data []byte, name string, ok bool) {
	file, header, err := r.FormFile(field)
	if err != nil {
		respondError(w, http.StatusBadRequest, "MISSING_FILE", fmt.Sprintf("missing %q file upload", field))
		return nil, "", false
	}
	defer file.Close()

	if err := validation.ValidateFilename(header.Filename); err != nil {
		logging.SecurityEvent("path_traversal_attempt", "api",
			"field", field,
			"filename", header.Filename)
		respondError(w, http.StatusBadRequest, "INVALID_FILENAME", fmt.Sprintf("invalid %q filename", field))
		return nil, "", false
	}

	if _, err := validation.ValidateFileType(file, header.Filename); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_FILE_TYPE", fmt.Sprintf("%s: %v", field, err))
		return nil, "", false
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		respondError(w, http.StatusInternalServerError, "FILE_PROCESSING_ERROR", "Failed to process file")
		return nil, "", false
	}

	data, err = io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "FILE_PROCESSING_ERROR", "Failed to read file")
		return nil, "", false
	}

	return data, header.Filename, true
}

// handleJobs handles GET /api/v1/jobs (list) and POST /api/v1/jobs
// (create from a multipart source+target upload).
func handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		listJobsHandler(w, r)
	case http.MethodPost:
		createJobHandler(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and POST are allowed")
	}
}

func listJobsHandler(w http.ResponseWriter, r *http.Request) {
	jobs := globalJobStore.List()

	respondList(w, jobs, len(jobs))
}

func createJobHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, validation.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse multipart form or upload too large")
		return
	}

	source, sourceName, ok := readUpload(w, r, "source")
	if !ok {
		return
	}
	target, targetName, ok := readUpload(w, r, "target")
	if !ok {
		return
	}

	job := globalJobStore.Create(JobParams{
		Source:     sourceName,
		Target:     targetName,
		SourceLang: r.FormValue("source_lang"),
		TargetLang: r.FormValue("target_lang"),
		Author:     r.FormValue("author"),
	})

	runJob(job, source, target)

	snapshot, _ := globalJobStore.Get(job.ID)
	respond(w, http.StatusAccepted, snapshot)
}

// handleJobByID handles GET, DELETE /api/v1/jobs/{id} and the report
// and result sub-resources.
func handleJobByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "MISSING_ID", "Job ID is required")
		return
	}

	switch sub {
	case "":
		switch r.Method {
		case http.MethodGet:
			getJobHandler(w, r, id)
		case http.MethodDelete:
			cancelJobHandler(w, r, id)
		default:
			respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and DELETE are allowed")
		}
	case "report":
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
			return
		}
		getReportHandler(w, r, id)
	case "result":
		if r.Method != http.MethodGet {
			respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
			return
		}
		getResultHandler(w, r, id)
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
	}
}

// getJobHandler handles GET /api/v1/jobs/{id}.
func getJobHandler(w http.ResponseWriter, r *http.Request, id string) {
	job, exists := globalJobStore.Get(id)
	if !exists {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
		return
	}

	respond(w, http.StatusOK, job)
}

// getReportHandler handles GET /api/v1/jobs/{id}/report.
func getReportHandler(w http.ResponseWriter, r *http.Request, id string) {
	job, exists := globalJobStore.Get(id)
	if !exists {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
		return
	}

	rep, ok := globalJobStore.Report(id)
	if !ok {
		respondError(w, http.StatusConflict, "NOT_READY",
			fmt.Sprintf("job has not produced a report (status: %s)", job.Status))
		return
	}

	respond(w, http.StatusOK, rep)
}

// getResultHandler handles GET /api/v1/jobs/{id}/result, serving the
// revised target document as a download.
func getResultHandler(w http.ResponseWriter, r *http.Request, id string) {
	job, exists := globalJobStore.Get(id)
	if !exists {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
		return
	}

	output, name, ok := globalJobStore.Result(id)
	if !ok {
		respondError(w, http.StatusConflict, "NOT_READY",
			fmt.Sprintf("job has no result document (status: %s)", job.Status))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(output)))
	w.WriteHeader(http.StatusOK)
	w.Write(output)
}

// cancelJobHandler handles DELETE /api/v1/jobs/{id}.
func cancelJobHandler(w http.ResponseWriter, r *http.Request, id string) {
	if err := globalJobStore.Cancel(id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "CANCEL_FAILED", err.Error())
		return
	}

	BroadcastJobError(id, "job cancelled")
	respond(w, http.StatusOK, map[string]string{"message": "Job cancelled"})
}
