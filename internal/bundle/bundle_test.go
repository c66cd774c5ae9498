package bundle

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	rterrors "github.com/crosslation/redline/core/errors"
	"github.com/crosslation/redline/core/report"
)

func sampleBundle() *Bundle {
	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rep := report.New("job-9", "src.docx", "tgt.docx", started)
	rep.SourceLang = "en"
	rep.TargetLang = "zh"
	rep.Add(report.Operation{Kind: "insert", Text: "brown ", Status: report.StatusApplied, RevisionID: 3})
	rep.Finish(started.Add(time.Second))
	return &Bundle{
		Report:       rep,
		Document:     []byte("PK\x03\x04 stand-in document bytes"),
		DocumentName: "tgt_updated.docx",
		Tool:         ToolInfo{Name: "redline", Version: "1.2.3"},
	}
}

func TestWriteAndReadBundle(t *testing.T) {
	for _, ext := range []string{".tar.xz", ".tar.gz", ".tar"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "job"+ext)
			b := sampleBundle()
			if err := b.Write(path); err != nil {
				t.Fatalf("Write() error = %v", err)
			}

			m, err := ReadManifest(path)
			if err != nil {
				t.Fatalf("ReadManifest() error = %v", err)
			}
			if m.BundleVersion != FormatVersion {
				t.Errorf("BundleVersion = %q, want %q", m.BundleVersion, FormatVersion)
			}
			if m.JobID != "job-9" || m.SourceLang != "en" || m.TargetLang != "zh" {
				t.Errorf("manifest ids = %q/%q/%q", m.JobID, m.SourceLang, m.TargetLang)
			}
			if m.Tool.Name != "redline" || m.Tool.Version != "1.2.3" {
				t.Errorf("tool = %+v", m.Tool)
			}
			if len(m.Files) != 2 {
				t.Fatalf("files = %d, want 2", len(m.Files))
			}
			if m.Files[0].Path != ReportName || m.Files[1].Path != "tgt_updated.docx" {
				t.Errorf("file paths = %q, %q", m.Files[0].Path, m.Files[1].Path)
			}
			if m.Files[1].BLAKE3 != Digest(b.Document) {
				t.Errorf("document digest = %q, want %q", m.Files[1].BLAKE3, Digest(b.Document))
			}

			rep, err := ReadReport(path)
			if err != nil {
				t.Fatalf("ReadReport() error = %v", err)
			}
			if rep.JobID != "job-9" || len(rep.Operations) != 1 {
				t.Errorf("report = %q with %d ops", rep.JobID, len(rep.Operations))
			}

			name, data, err := Document(path)
			if err != nil {
				t.Fatalf("Document() error = %v", err)
			}
			if name != b.DocumentName || !bytes.Equal(data, b.Document) {
				t.Errorf("Document() = %q (%d bytes), want %q (%d bytes)",
					name, len(data), b.DocumentName, len(b.Document))
			}

			if err := Verify(path); err != nil {
				t.Errorf("Verify() error = %v", err)
			}
		})
	}
}

func TestCompressionFor(t *testing.T) {
	tests := []struct {
		path string
		want Compression
	}{
		{"out.tar.xz", CompressionXZ},
		{"out.tar.gz", CompressionGzip},
		{"out.tgz", CompressionGzip},
		{"out.tar", CompressionNone},
		{"out.bundle", CompressionXZ},
		{"out", CompressionXZ},
	}
	for _, tt := range tests {
		if got := CompressionFor(tt.path); got != tt.want {
			t.Errorf("CompressionFor(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestReaderDetectsCompressionByMagic(t *testing.T) {
	dir := t.TempDir()
	gzPath := filepath.Join(dir, "job.tar.gz")
	if err := sampleBundle().Write(gzPath); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// A renamed bundle must still open; detection reads magic bytes.
	renamed := filepath.Join(dir, "job.bin")
	if err := os.Rename(gzPath, renamed); err != nil {
		t.Fatalf("rename: %v", err)
	}

	rep, err := ReadReport(renamed)
	if err != nil {
		t.Fatalf("ReadReport(renamed) error = %v", err)
	}
	if rep.JobID != "job-9" {
		t.Errorf("JobID = %q, want job-9", rep.JobID)
	}
}

func TestReadFileMissingEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.tar")
	if err := sampleBundle().Write(path); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := ReadFile(path, "nope.txt"); !rterrors.Is(err, rterrors.ErrNotFound) {
		t.Errorf("ReadFile(missing) error = %v, want ErrNotFound", err)
	}
}

func TestWriteValidation(t *testing.T) {
	dir := t.TempDir()

	b := &Bundle{}
	if err := b.Write(filepath.Join(dir, "a.tar")); !rterrors.Is(err, rterrors.ErrInvalidInput) {
		t.Errorf("Write(no report) error = %v, want ErrInvalidInput", err)
	}

	b = sampleBundle()
	b.DocumentName = ""
	if err := b.Write(filepath.Join(dir, "b.tar")); !rterrors.Is(err, rterrors.ErrInvalidInput) {
		t.Errorf("Write(unnamed document) error = %v, want ErrInvalidInput", err)
	}
}

func TestDocumentMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.tar")
	b := sampleBundle()
	b.Document = nil
	if err := b.Write(path); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, _, err := Document(path); !rterrors.Is(err, rterrors.ErrNotFound) {
		t.Errorf("Document(report-only) error = %v, want ErrNotFound", err)
	}
}

func writeRawBundle(t *testing.T, path string, m *Manifest, entries map[string][]byte) {
	t.Helper()
	mj, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tw := tar.NewWriter(f)
	if err := writeEntry(tw, ManifestName, mj); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	for name, data := range entries {
		if err := writeEntry(tw, name, data); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	data := []byte("payload")

	t.Run("digest mismatch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.tar")
		m := &Manifest{
			BundleVersion: FormatVersion,
			Files: []FileRecord{
				{Path: "doc.bin", SizeBytes: int64(len(data)), BLAKE3: strings.Repeat("00", 32)},
			},
		}
		writeRawBundle(t, path, m, map[string][]byte{"doc.bin": data})

		err := Verify(path)
		if !rterrors.Is(err, rterrors.ErrInvalidInput) {
			t.Fatalf("Verify() error = %v, want ErrInvalidInput", err)
		}
		if !strings.Contains(err.Error(), "digest") {
			t.Errorf("error = %v, want digest mismatch", err)
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.tar")
		m := &Manifest{
			BundleVersion: FormatVersion,
			Files: []FileRecord{
				{Path: "doc.bin", SizeBytes: 99, BLAKE3: Digest(data)},
			},
		}
		writeRawBundle(t, path, m, map[string][]byte{"doc.bin": data})

		err := Verify(path)
		if !rterrors.Is(err, rterrors.ErrInvalidInput) {
			t.Fatalf("Verify() error = %v, want ErrInvalidInput", err)
		}
		if !strings.Contains(err.Error(), "size") {
			t.Errorf("error = %v, want size mismatch", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.tar")
		m := &Manifest{
			BundleVersion: FormatVersion,
			Files: []FileRecord{
				{Path: "gone.bin", SizeBytes: int64(len(data)), BLAKE3: Digest(data)},
			},
		}
		writeRawBundle(t, path, m, nil)

		if err := Verify(path); !rterrors.Is(err, rterrors.ErrNotFound) {
			t.Errorf("Verify() error = %v, want ErrNotFound", err)
		}
	})
}
