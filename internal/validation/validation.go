// Package validation checks user-supplied paths, filenames, and uploads
// before they reach the filesystem or the document pipeline. The API
// server routes every multipart filename through here; the CLI uses the
// path checks for its file arguments.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
)

// Limits guarding against resource exhaustion.
const (
	// MaxUploadSize is the maximum accepted document upload (256 MB).
	MaxUploadSize = 256 << 20
	// MaxFilenameLength is the maximum allowed filename length.
	MaxFilenameLength = 255
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
)

// Common validation errors.
var (
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrPathTooLong      = errors.New("path too long")
	ErrFilenameTooLong  = errors.New("filename too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrWrongFileType    = errors.New("file content does not match its type")
)

// ValidateFilename rejects filenames with path separators, control
// characters, null bytes, reserved names, and flag-like leading hyphens.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}
	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}
	if strings.Contains(filename, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidFilename)
	}
	for _, r := range filename {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
		}
	}
	if strings.HasPrefix(filename, "-") {
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}
	return nil
}

// ValidatePath checks a path argument for length limits and dangerous
// characters without binding it to a base directory.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}
	if strings.Contains(path, "\x00") {
		return fmt.Errorf("%w: null byte not allowed", ErrInvalidCharacter)
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}
	return nil
}

// FileType is a validated file type.
type FileType string

const (
	// FileTypeDocx is a Word document (a zip container).
	FileTypeDocx FileType = "docx"
	// FileTypeZip is a bare zip archive.
	FileTypeZip FileType = "zip"
	// Bundle archive forms.
	FileTypeTarXZ FileType = "tar.xz"
	FileTypeTarGZ FileType = "tar.gz"
	FileTypeTar   FileType = "tar"
	FileTypeGzip  FileType = "gzip"
	FileTypeXZ    FileType = "xz"
	// FileTypeSQLite is a ledger database.
	FileTypeSQLite FileType = "sqlite"
	// Text-like forms.
	FileTypeJSON     FileType = "json"
	FileTypeMarkdown FileType = "markdown"
	FileTypeText     FileType = "text"
	// FileTypeUnknown means detection failed.
	FileTypeUnknown FileType = "unknown"
)

// magicBytes maps content signatures to file types.
var magicBytes = []struct {
	fileType FileType
	magic    []byte
	offset   int
}{
	{FileTypeTar, []byte("ustar"), 257},
	{FileTypeGzip, []byte{0x1f, 0x8b}, 0},
	{FileTypeXZ, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}, 0},
	{FileTypeZip, []byte{0x50, 0x4b, 0x03, 0x04}, 0},
	{FileTypeSQLite, []byte("SQLite format 3"), 0},
}

// ValidateFileType verifies that content matches the type the filename
// extension claims, reading magic bytes from reader. A .docx upload must
// carry the zip signature; a .tar.xz bundle must start with the xz
// signature; text-like types get a printability check.
func ValidateFileType(reader io.Reader, filename string) (FileType, error) {
	// 512 bytes covers the tar ustar signature at offset 257.
	buf := make([]byte, 512)
	n, err := io.ReadFull(reader, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FileTypeUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	buf = buf[:n]

	detected := detectFromMagic(buf)
	expected := detectFromExtension(filename)

	switch {
	case detected == expected:
		return detected, nil
	// Containers: the outer signature is all the header shows.
	case expected == FileTypeDocx && detected == FileTypeZip:
		return FileTypeDocx, nil
	case expected == FileTypeTarXZ && detected == FileTypeXZ:
		return FileTypeTarXZ, nil
	case expected == FileTypeTarGZ && detected == FileTypeGzip:
		return FileTypeTarGZ, nil
	}

	if detected == FileTypeUnknown {
		if expected == FileTypeJSON || expected == FileTypeMarkdown || expected == FileTypeText {
			if isLikelyText(buf) {
				return expected, nil
			}
			return FileTypeUnknown, fmt.Errorf("%w: %s does not look like text", ErrWrongFileType, filename)
		}
		// Neither side identifiable: trust the extension.
		return expected, nil
	}

	if expected != FileTypeUnknown {
		return FileTypeUnknown, fmt.Errorf("%w: extension suggests %s but content is %s",
			ErrWrongFileType, expected, detected)
	}
	return detected, nil
}

func detectFromMagic(buf []byte) FileType {
	for _, sig := range magicBytes {
		if sig.offset+len(sig.magic) <= len(buf) &&
			bytes.Equal(buf[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			return sig.fileType
		}
	}
	return FileTypeUnknown
}

func detectFromExtension(filename string) FileType {
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".tar.xz") {
		return FileTypeTarXZ
	}
	if strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") {
		return FileTypeTarGZ
	}

	switch filepath.Ext(lower) {
	case ".docx":
		return FileTypeDocx
	case ".zip":
		return FileTypeZip
	case ".tar":
		return FileTypeTar
	case ".xz":
		return FileTypeXZ
	case ".gz":
		return FileTypeGzip
	case ".db", ".sqlite", ".sqlite3":
		return FileTypeSQLite
	case ".json":
		return FileTypeJSON
	case ".md":
		return FileTypeMarkdown
	case ".txt":
		return FileTypeText
	default:
		return FileTypeUnknown
	}
}

// isLikelyText reports whether buf looks like text: no null bytes and a
// high printable ratio.
func isLikelyText(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	if bytes.IndexByte(buf, 0) != -1 {
		return false
	}

	printable, control := 0, 0
	for _, b := range buf {
		switch {
		case b >= 0x20 && b <= 0x7e, b == '\t', b == '\n', b == '\r':
			printable++
		case b < 0x20:
			control++
		}
	}
	return printable > 0 && float64(printable)/float64(printable+control) > 0.95
}
