// Package bundle exports a finished transfer job as a portable archive
// holding manifest.json, report.json, and the output document. The tar
// container is compressed with xz by default; the target extension can
// select gzip or no compression instead.
package bundle

import (
	"archive/tar"
	"compress/gzip"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	"github.com/crosslation/redline/core/errors"
	"github.com/crosslation/redline/core/report"
)

// FormatVersion is the current bundle format version.
const FormatVersion = "1.0.0"

// Well-known entry names. The output document keeps its own name.
const (
	ManifestName = "manifest.json"
	ReportName   = "report.json"
)

// Compression identifies the archive compression algorithm.
type Compression string

const (
	// CompressionXZ is the default (best ratio).
	CompressionXZ Compression = "xz"
	// CompressionGzip is the stdlib fallback (faster).
	CompressionGzip Compression = "gzip"
	// CompressionNone writes a plain tar.
	CompressionNone Compression = "none"
)

// CompressionFor picks the compression from the archive name. Anything
// without a recognized suffix gets xz.
func CompressionFor(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		return CompressionGzip
	case strings.HasSuffix(path, ".tar"):
		return CompressionNone
	default:
		return CompressionXZ
	}
}

// ToolInfo identifies the tool that wrote the bundle.
type ToolInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// FileRecord describes one bundled file.
type FileRecord struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	BLAKE3    string `json:"blake3"`
}

// Manifest is the bundle manifest (manifest.json).
type Manifest struct {
	BundleVersion string       `json:"bundle_version"`
	CreatedAt     string       `json:"created_at"`
	Tool          ToolInfo     `json:"tool"`
	JobID         string       `json:"job_id"`
	SourceLang    string       `json:"source_lang,omitempty"`
	TargetLang    string       `json:"target_lang,omitempty"`
	Files         []FileRecord `json:"files"`
}

// Bundle is the material for one job export.
type Bundle struct {
	Report       *report.Report
	Document     []byte
	DocumentName string
	Tool         ToolInfo
}

// Write packs the bundle at path, choosing compression by extension.
func (b *Bundle) Write(path string) error {
	if b.Report == nil {
		return errors.NewValidation("report", "bundle has no report")
	}
	if len(b.Document) > 0 && b.DocumentName == "" {
		return errors.NewValidation("document", "bundled document has no name")
	}

	reportJSON, err := json.MarshalIndent(b.Report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode report")
	}

	type entry struct {
		name string
		data []byte
	}
	files := []entry{{ReportName, reportJSON}}
	if len(b.Document) > 0 {
		files = append(files, entry{b.DocumentName, b.Document})
	}

	manifest := Manifest{
		BundleVersion: FormatVersion,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		Tool:          b.Tool,
		JobID:         b.Report.JobID,
		SourceLang:    b.Report.SourceLang,
		TargetLang:    b.Report.TargetLang,
	}
	for _, f := range files {
		manifest.Files = append(manifest.Files, FileRecord{
			Path:      f.name,
			SizeBytes: int64(len(f.data)),
			BLAKE3:    Digest(f.data),
		})
	}
	manifestJSON, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode manifest")
	}

	out, err := os.Create(path)
	if err != nil {
		return errors.NewIO("create", path, err)
	}

	var w io.Writer = out
	var compressor io.Closer
	switch CompressionFor(path) {
	case CompressionXZ:
		xw, err := xz.NewWriter(out)
		if err != nil {
			out.Close()
			return errors.NewIO("compress", path, err)
		}
		w, compressor = xw, xw
	case CompressionGzip:
		gw := gzip.NewWriter(out)
		w, compressor = gw, gw
	}

	tw := tar.NewWriter(w)
	werr := writeEntry(tw, ManifestName, manifestJSON)
	for _, f := range files {
		if werr != nil {
			break
		}
		werr = writeEntry(tw, f.name, f.data)
	}
	if err := tw.Close(); werr == nil {
		werr = err
	}
	if compressor != nil {
		if err := compressor.Close(); werr == nil {
			werr = err
		}
	}
	if err := out.Close(); werr == nil {
		werr = err
	}
	if werr != nil {
		return errors.NewIO("write", path, werr)
	}
	return nil
}

// Digest returns the hex blake3 digest used in manifest file records.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeEntry(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name: name,
		Mode: 0644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
