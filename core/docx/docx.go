// Package docx reads and writes the DOCX container. Only the main
// document part is interpreted; every other entry in the archive passes
// through byte for byte. Paragraphs whose run model was not touched keep
// their original XML, so a transfer that skips a paragraph cannot disturb
// it.
package docx

import (
	"archive/zip"
	"bytes"
	"io"
	"os"

	"github.com/antchfx/xmlquery"

	"github.com/crosslation/redline/core/doc"
	"github.com/crosslation/redline/core/errors"
)

const documentPart = "word/document.xml"

// entry is one archive member, in original order. The main document part
// keeps nil data and is regenerated at save time.
type entry struct {
	name       string
	data       []byte
	isDocument bool
}

// paraState ties a model paragraph to its XML node. The snapshot is the
// run model's serialization at load time; a paragraph whose current
// serialization still matches it is written back untouched.
type paraState struct {
	node     *xmlquery.Node
	snapshot string
}

// Container is an opened DOCX file.
type Container struct {
	doc     *doc.Document
	root    *xmlquery.Node
	paras   []*paraState
	entries []entry
}

// Open reads the DOCX file at path.
func Open(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	c, err := FromBytes(data)
	if err != nil {
		var serr *errors.StructuralError
		if errors.As(err, &serr) && serr.Document == "" {
			serr.Document = path
		}
		return nil, err
	}
	return c, nil
}

// FromBytes reads a DOCX archive held in memory.
func FromBytes(data []byte) (*Container, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.NewStructural("", "not a DOCX archive", err)
	}

	c := &Container{}
	var docXML []byte
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, errors.NewStructural("", "unreadable archive entry "+f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errors.NewStructural("", "unreadable archive entry "+f.Name, err)
		}
		if f.Name == documentPart {
			docXML = body
			c.entries = append(c.entries, entry{name: f.Name, isDocument: true})
			continue
		}
		c.entries = append(c.entries, entry{name: f.Name, data: body})
	}
	if docXML == nil {
		return nil, errors.NewStructural("", "missing "+documentPart+" part", nil)
	}

	root, err := xmlquery.Parse(bytes.NewReader(docXML))
	if err != nil {
		return nil, errors.NewStructural("", "malformed "+documentPart, err)
	}
	c.root = root

	if err := c.parseBody(); err != nil {
		return nil, err
	}
	return c, nil
}

// Document returns the run model. The model and the container share
// paragraph state: mutate the model, then Save.
func (c *Container) Document() *doc.Document {
	return c.doc
}

// Save writes the archive. Entries keep their original order; the main
// document part is regenerated with dirty paragraphs rewritten.
func (c *Container) Save(w io.Writer) error {
	docXML, err := c.renderDocument()
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, e := range c.entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate})
		if err != nil {
			return errors.NewIO("write", e.name, err)
		}
		body := e.data
		if e.isDocument {
			body = docXML
		}
		if _, err := fw.Write(body); err != nil {
			return errors.NewIO("write", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return errors.NewIO("write", "archive", err)
	}
	return nil
}

// SaveFile writes the archive to path.
func (c *Container) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIO("create", path, err)
	}
	if err := c.Save(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.NewIO("close", path, err)
	}
	return nil
}
