package api

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crosslation/redline/core/doc"
	"github.com/crosslation/redline/core/docx"
	"github.com/crosslation/redline/core/engine"
	"github.com/crosslation/redline/internal/llm"
)

const testContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const testRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

// buildDocx assembles a minimal DOCX archive holding the given body XML.
func buildDocx(t *testing.T, body string) []byte {
	t.Helper()

	document := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct{ name, data string }{
		{"[Content_Types].xml", testContentTypes},
		{"_rels/.rels", testRels},
		{"word/document.xml", document},
	}
	for _, p := range parts {
		f, err := zw.Create(p.name)
		if err != nil {
			t.Fatalf("create %s: %v", p.name, err)
		}
		if _, err := f.Write([]byte(p.data)); err != nil {
			t.Fatalf("write %s: %v", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	return buf.Bytes()
}

type uploadFile struct {
	field    string
	filename string
	data     []byte
}

// multipartBody builds a multipart form with the given file parts and
// plain fields.
func multipartBody(t *testing.T, files []uploadFile, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// useFallbackProvider configures the server for deterministic jobs with
// no external calls and restores the previous configuration afterwards.
func useFallbackProvider(t *testing.T) {
	t.Helper()
	prev := ServerConfig
	ServerConfig = Config{
		Oracle:      llm.Config{Provider: ProviderNone},
		Concurrency: 2,
	}
	t.Cleanup(func() { ServerConfig = prev })
}

// waitForTerminal polls until the job reaches a terminal status.
func waitForTerminal(t *testing.T, id string, want JobStatus) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := globalJobStore.Get(id)
		if !ok {
			t.Fatalf("job %s disappeared", id)
		}
		if job.Status.Terminal() {
			if job.Status != want {
				t.Fatalf("job finished as %s (error: %q), want %s", job.Status, job.Error, want)
			}
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for job %s", id)
	return Job{}
}

func decodeResponse(t *testing.T, body io.Reader) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestJobLifecycle(t *testing.T) {
	useFallbackProvider(t)

	source := buildDocx(t, `<w:p><w:r><w:t>The dog barks.</w:t></w:r>`+
		`<w:ins w:id="1" w:author="alice"><w:r><w:t> loudly</w:t></w:r></w:ins></w:p>`)
	target := buildDocx(t, `<w:p><w:r><w:t>Le chien aboie.</w:t></w:r></w:p>`)

	body, contentType := multipartBody(t, []uploadFile{
		{"source", "source.docx", source},
		{"target", "target.docx", target},
	}, map[string]string{"source_lang": "en", "target_lang": "fr", "author": "alice"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handleJobs(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("create job: got status %d, want 202: %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w.Body)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape: %T", resp.Data)
	}
	id, _ := data["id"].(string)
	if id == "" {
		t.Fatal("job id missing from response")
	}
	if data["target"] != "target.docx" {
		t.Errorf("target = %v, want target.docx", data["target"])
	}

	job := waitForTerminal(t, id, JobStatusCompleted)
	if job.Summary == nil {
		t.Fatal("completed job has no summary")
	}
	if job.Summary.Total != 1 || job.Summary.Applied != 1 {
		t.Errorf("summary = %+v, want 1 applied of 1", *job.Summary)
	}
	if job.Output != "target_updated.docx" {
		t.Errorf("output = %q, want target_updated.docx", job.Output)
	}

	// Status endpoint reflects completion.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id, nil)
	w = httptest.NewRecorder()
	handleJobByID(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get job: got status %d, want 200", w.Code)
	}
	resp = decodeResponse(t, w.Body)
	data = resp.Data.(map[string]interface{})
	if data["status"] != string(JobStatusCompleted) {
		t.Errorf("status = %v, want completed", data["status"])
	}

	// Report endpoint serves the job report.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id+"/report", nil)
	w = httptest.NewRecorder()
	handleJobByID(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get report: got status %d, want 200", w.Code)
	}
	resp = decodeResponse(t, w.Body)
	rep := resp.Data.(map[string]interface{})
	if rep["job_id"] != id {
		t.Errorf("report job_id = %v, want %v", rep["job_id"], id)
	}
	ops, _ := rep["operations"].([]interface{})
	if len(ops) != 1 {
		t.Fatalf("report has %d operations, want 1", len(ops))
	}

	// Result endpoint serves a readable document with the transfer
	// applied.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id+"/result", nil)
	w = httptest.NewRecorder()
	handleJobByID(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get result: got status %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="target_updated.docx"` {
		t.Errorf("content disposition = %q", got)
	}
	out, err := docx.FromBytes(w.Body.Bytes())
	if err != nil {
		t.Fatalf("result is not a readable document: %v", err)
	}
	para := out.Document().Paragraphs[0]
	if got := para.VisibleText(); !strings.Contains(got, " loudly") {
		t.Errorf("revised text = %q, missing transferred insertion", got)
	}
	if got := para.OriginalText(); got != "Le chien aboie." {
		t.Errorf("original projection = %q, want %q", got, "Le chien aboie.")
	}
	var ins *doc.Revision
	for _, run := range para.Runs {
		if run.Inserted() {
			ins = run.Rev
		}
	}
	if ins == nil {
		t.Fatal("result document carries no insertion markup")
	}
	if ins.Author != "alice" {
		t.Errorf("revision author = %q, want alice", ins.Author)
	}
}

func TestCreateJobMissingTarget(t *testing.T) {
	useFallbackProvider(t)

	source := buildDocx(t, `<w:p><w:r><w:t>hi</w:t></w:r></w:p>`)
	body, contentType := multipartBody(t, []uploadFile{
		{"source", "source.docx", source},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handleJobs(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}
	resp := decodeResponse(t, w.Body)
	if resp.Error == nil || resp.Error.Code != "MISSING_FILE" {
		t.Errorf("expected MISSING_FILE error, got %+v", resp.Error)
	}
}

func TestCreateJobRejectsBadFilename(t *testing.T) {
	useFallbackProvider(t)

	source := buildDocx(t, `<w:p><w:r><w:t>hi</w:t></w:r></w:p>`)
	body, contentType := multipartBody(t, []uploadFile{
		{"source", "-evil.docx", source},
		{"target", "target.docx", source},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handleJobs(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}
	resp := decodeResponse(t, w.Body)
	if resp.Error == nil || resp.Error.Code != "INVALID_FILENAME" {
		t.Errorf("expected INVALID_FILENAME error, got %+v", resp.Error)
	}
}

func TestCreateJobRejectsWrongContent(t *testing.T) {
	useFallbackProvider(t)

	sqlite := append([]byte("SQLite format 3\x00"), make([]byte, 16)...)
	body, contentType := multipartBody(t, []uploadFile{
		{"source", "source.docx", sqlite},
		{"target", "target.docx", sqlite},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handleJobs(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", w.Code)
	}
	resp := decodeResponse(t, w.Body)
	if resp.Error == nil || resp.Error.Code != "INVALID_FILE_TYPE" {
		t.Errorf("expected INVALID_FILE_TYPE error, got %+v", resp.Error)
	}
}

func TestCreateJobStructuralFailure(t *testing.T) {
	useFallbackProvider(t)

	// Valid archives, but the source has no document part content the
	// engine can use: an empty body parses to zero paragraphs and the
	// engine rejects it.
	empty := buildDocx(t, ``)
	target := buildDocx(t, `<w:p><w:r><w:t>text</w:t></w:r></w:p>`)

	body, contentType := multipartBody(t, []uploadFile{
		{"source", "source.docx", empty},
		{"target", "target.docx", target},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	handleJobs(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("got status %d, want 202", w.Code)
	}
	resp := decodeResponse(t, w.Body)
	id := resp.Data.(map[string]interface{})["id"].(string)

	job := waitForTerminal(t, id, JobStatusFailed)
	if job.Error == "" {
		t.Error("failed job has no error message")
	}
}

func TestHandleJobsMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()

	handleJobs(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("got status %d, want 405", w.Code)
	}
	resp := decodeResponse(t, w.Body)
	if resp.Error == nil || resp.Error.Code != "METHOD_NOT_ALLOWED" {
		t.Error("expected METHOD_NOT_ALLOWED error")
	}
}

func TestListJobsIncludesCreated(t *testing.T) {
	job := globalJobStore.Create(JobParams{Source: "a.docx", Target: "b.docx"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	handleJobs(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
	resp := decodeResponse(t, w.Body)
	list, ok := resp.Data.([]interface{})
	if !ok {
		t.Fatalf("unexpected data shape: %T", resp.Data)
	}
	if resp.Meta == nil || resp.Meta.Total != len(list) {
		t.Errorf("meta total = %+v, want %d", resp.Meta, len(list))
	}
	found := false
	for _, item := range list {
		if item.(map[string]interface{})["id"] == job.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("job %s missing from listing", job.ID)
	}
}

func TestGetJobNotFound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/no-such-job", nil)
	w := httptest.NewRecorder()
	handleJobByID(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("got status %d, want 404", w.Code)
	}
}

func TestReportNotReady(t *testing.T) {
	job := globalJobStore.Create(JobParams{Source: "a.docx", Target: "b.docx"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/report", nil)
	w := httptest.NewRecorder()
	handleJobByID(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("got status %d, want 409", w.Code)
	}
	resp := decodeResponse(t, w.Body)
	if resp.Error == nil || resp.Error.Code != "NOT_READY" {
		t.Errorf("expected NOT_READY error, got %+v", resp.Error)
	}
}

func TestCancelJob(t *testing.T) {
	job := globalJobStore.Create(JobParams{Source: "a.docx", Target: "b.docx"})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil)
	w := httptest.NewRecorder()
	handleJobByID(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", w.Code, w.Body.String())
	}

	got, _ := globalJobStore.Get(job.ID)
	if got.Status != JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}

	// A second cancel is rejected.
	w = httptest.NewRecorder()
	handleJobByID(w, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("second cancel: got status %d, want 400", w.Code)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/missing", nil)
	w := httptest.NewRecorder()
	handleJobByID(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("got status %d, want 404", w.Code)
	}
}

func TestUnknownSubResource(t *testing.T) {
	job := globalJobStore.Create(JobParams{Source: "a.docx", Target: "b.docx"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/logs", nil)
	w := httptest.NewRecorder()
	handleJobByID(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("got status %d, want 404", w.Code)
	}
}

func TestJobStoreUpdateIgnoresTerminal(t *testing.T) {
	s := NewJobStore()
	job := s.Create(JobParams{Source: "a.docx", Target: "b.docx"})

	if err := s.Cancel(job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.Update(job.ID, JobStatusRunning, "aligning", 40, ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get(job.ID)
	if got.Status != JobStatusCancelled {
		t.Errorf("status = %s, want cancelled after terminal update", got.Status)
	}
}

func TestJobStoreUpdateUnknown(t *testing.T) {
	s := NewJobStore()
	if err := s.Update("missing", JobStatusRunning, "", 1, ""); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestJobStoreListNewestFirst(t *testing.T) {
	s := NewJobStore()
	older := s.Create(JobParams{Source: "a.docx", Target: "b.docx"})
	newer := s.Create(JobParams{Source: "c.docx", Target: "d.docx"})
	s.jobs[older.ID].CreatedAt = "2024-01-01T00:00:00Z"
	s.jobs[newer.ID].CreatedAt = "2024-06-01T00:00:00Z"

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].ID != newer.ID {
		t.Errorf("first listed = %s, want newest %s", list[0].ID, newer.ID)
	}
}

func TestJobStoreDeleteCancelsActive(t *testing.T) {
	s := NewJobStore()
	job := s.Create(JobParams{Source: "a.docx", Target: "b.docx"})

	if err := s.Delete(job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := job.ctx.Err(); err == nil {
		t.Error("context not cancelled by delete")
	}
	if _, ok := s.Get(job.ID); ok {
		t.Error("job still present after delete")
	}
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"target.docx", "target_updated.docx"},
		{"contrat final.docx", "contrat final_updated.docx"},
		{"bare", "bare_updated"},
	}
	for _, tt := range tests {
		if got := outputName(tt.target); got != tt.want {
			t.Errorf("outputName(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestPercentFor(t *testing.T) {
	tests := []struct {
		name string
		p    engine.Progress
		want int
	}{
		{"extracting", engine.Progress{State: engine.StateExtracting}, 5},
		{"aligning start", engine.Progress{State: engine.StateAligning, Step: 0, Total: 4}, 10},
		{"aligning end", engine.Progress{State: engine.StateAligning, Step: 4, Total: 4}, 55},
		{"applying end", engine.Progress{State: engine.StateApplying, Step: 4, Total: 4}, 95},
		{"done", engine.Progress{State: engine.StateDone}, 100},
		{"aborted keeps current", engine.Progress{State: engine.StateAborted}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentFor(tt.p); got != tt.want {
				t.Errorf("percentFor = %d, want %d", got, tt.want)
			}
		})
	}
}
