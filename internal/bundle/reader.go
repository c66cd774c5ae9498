package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/crosslation/redline/core/errors"
	"github.com/crosslation/redline/core/report"
)

// Magic prefixes for compression detection. Reads ignore the file
// extension so a renamed bundle still opens.
var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
)

// Reader iterates a bundle archive.
type Reader struct {
	*tar.Reader
	file         *os.File
	decompressor io.Closer
}

// NewReader opens the bundle at path, detecting compression from the
// leading magic bytes. Anything that is neither gzip nor xz is read as
// a plain tar.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}

	magic := make([]byte, len(xzMagic))
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		f.Close()
		return nil, errors.NewIO("read", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, errors.NewIO("read", path, err)
	}

	var reader io.Reader = f
	var decompressor io.Closer
	switch {
	case n >= len(xzMagic) && bytes.Equal(magic[:len(xzMagic)], xzMagic):
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.NewIO("decompress", path, err)
		}
		reader = xr
	case n >= len(gzipMagic) && bytes.Equal(magic[:len(gzipMagic)], gzipMagic):
		gr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.NewIO("decompress", path, err)
		}
		reader = gr
		decompressor = gr
	}

	return &Reader{
		Reader:       tar.NewReader(reader),
		file:         f,
		decompressor: decompressor,
	}, nil
}

// Close closes the reader and any decompressor.
func (r *Reader) Close() error {
	var first error
	if r.decompressor != nil {
		first = r.decompressor.Close()
	}
	if err := r.file.Close(); first == nil {
		first = err
	}
	return first
}

// Visitor is called for each archive entry. Return stop to end the walk
// early.
type Visitor func(header *tar.Header, content io.Reader) (stop bool, err error)

// Iterate walks the remaining entries.
func (r *Reader) Iterate(visitor Visitor) error {
	for {
		header, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read bundle entry")
		}
		stop, err := visitor(header, r)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// Walk opens a bundle and iterates its entries.
func Walk(path string, visitor Visitor) error {
	r, err := NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Iterate(visitor)
}

// ReadFile returns the named entry's content. Bundles are flat, but a
// leading directory segment from repacked archives is tolerated.
func ReadFile(path, name string) ([]byte, error) {
	var content []byte
	err := Walk(path, func(header *tar.Header, r io.Reader) (bool, error) {
		entryName := header.Name
		if idx := strings.Index(entryName, "/"); idx >= 0 {
			entryName = entryName[idx+1:]
		}
		if entryName == name || header.Name == name {
			var err error
			content, err = io.ReadAll(r)
			return true, err
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, errors.NewNotFound("bundle entry", name)
	}
	return content, nil
}

// ReadManifest returns the bundle manifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := ReadFile(path, ManifestName)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decode manifest")
	}
	return &m, nil
}

// ReadReport returns the bundled job report.
func ReadReport(path string) (*report.Report, error) {
	data, err := ReadFile(path, ReportName)
	if err != nil {
		return nil, err
	}
	var rep report.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, errors.Wrap(err, "decode report")
	}
	return &rep, nil
}

// Document returns the bundled output document's name and bytes.
func Document(path string) (string, []byte, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return "", nil, err
	}
	for _, f := range m.Files {
		if f.Path == ReportName || f.Path == ManifestName {
			continue
		}
		data, err := ReadFile(path, f.Path)
		if err != nil {
			return "", nil, err
		}
		return f.Path, data, nil
	}
	return "", nil, errors.NewNotFound("bundled document", path)
}

// Verify checks every manifest file record against the archive content:
// presence, size, and blake3 digest.
func Verify(path string) error {
	m, err := ReadManifest(path)
	if err != nil {
		return err
	}
	for _, f := range m.Files {
		data, err := ReadFile(path, f.Path)
		if err != nil {
			return err
		}
		if int64(len(data)) != f.SizeBytes {
			return errors.NewValidation(f.Path, "bundled file size does not match manifest")
		}
		if Digest(data) != f.BLAKE3 {
			return errors.NewValidation(f.Path, "bundled file digest does not match manifest")
		}
	}
	return nil
}
