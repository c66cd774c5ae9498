// Package doc holds the in-memory run model of a revisable document: ordered
// paragraphs of formatted runs, each run optionally enclosed by one revision
// wrapper. All character offsets in this package are rune offsets against a
// paragraph's full projection, which includes text retained inside deletion
// wrappers.
package doc

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/crosslation/redline/core/errors"
)

// RevisionKind distinguishes the two kinds of tracked change.
type RevisionKind string

const (
	// KindInsertion marks runs whose text was added by a revision.
	KindInsertion RevisionKind = "insertion"
	// KindDeletion marks runs whose text is struck but retained.
	KindDeletion RevisionKind = "deletion"
)

// Revision is a tracked-change marker enclosing one or more runs within a
// single paragraph. Revisions are immutable once created; runs reference
// them, never the other way around. Later edits may split a revision's
// span into non-adjacent groups; each maximal contiguous group renders as
// one wrapper element.
type Revision struct {
	ID     int64
	Author string
	Date   time.Time
	Kind   RevisionKind
}

// Run is a maximal span of text under one formatting descriptor. Props is
// the verbatim serialized descriptor and is copied, never interpreted, when
// a run splits. Rev is nil for ordinary text.
type Run struct {
	Text  string
	Props string
	Rev   *Revision
}

// Len returns the run's text length in runes.
func (r *Run) Len() int {
	return utf8.RuneCountInString(r.Text)
}

// Deleted reports whether the run is enclosed by a Deletion revision.
func (r *Run) Deleted() bool {
	return r.Rev != nil && r.Rev.Kind == KindDeletion
}

// Inserted reports whether the run is enclosed by an Insertion revision.
func (r *Run) Inserted() bool {
	return r.Rev != nil && r.Rev.Kind == KindInsertion
}

// Paragraph is an ordered run sequence with a stable index within its
// document. Concatenating the run texts in order yields the paragraph's
// full plain-text projection exactly.
type Paragraph struct {
	Index int
	Runs  []*Run
}

// Text returns the full projection: every run's text in order, including
// text retained inside deletions.
func (p *Paragraph) Text() string {
	var b strings.Builder
	for _, r := range p.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// VisibleText returns the projection a reader sees: deletion-enclosed runs
// are excluded.
func (p *Paragraph) VisibleText() string {
	var b strings.Builder
	for _, r := range p.Runs {
		if r.Deleted() {
			continue
		}
		b.WriteString(r.Text)
	}
	return b.String()
}

// OriginalText returns the pre-edit projection: insertion-enclosed runs
// are excluded and deleted text is retained. Applying revisions never
// changes this projection, which makes it a stable identity for a
// document under review.
func (p *Paragraph) OriginalText() string {
	var b strings.Builder
	for _, r := range p.Runs {
		if r.Inserted() {
			continue
		}
		b.WriteString(r.Text)
	}
	return b.String()
}

// Len returns the rune length of the full projection.
func (p *Paragraph) Len() int {
	n := 0
	for _, r := range p.Runs {
		n += r.Len()
	}
	return n
}

// MaxRevisionID returns the highest revision id present in the paragraph,
// or zero when it has none.
func (p *Paragraph) MaxRevisionID() int64 {
	var max int64
	for _, r := range p.Runs {
		if r.Rev != nil && r.Rev.ID > max {
			max = r.Rev.ID
		}
	}
	return max
}

// Validate checks the paragraph's structural invariant: no zero-length
// runs.
func (p *Paragraph) Validate() error {
	for _, r := range p.Runs {
		if r.Text == "" {
			return errors.NewValidation("run", "zero-length run in paragraph")
		}
	}
	return nil
}

// Document is an ordered paragraph sequence owned by one transfer job at a
// time. MaxRevID is the highest revision id found when the document was
// loaded; id allocation for new revisions starts above it.
type Document struct {
	Paragraphs []*Paragraph
	MaxRevID   int64
}

// Paragraph returns the paragraph at index i.
func (d *Document) Paragraph(i int) (*Paragraph, error) {
	if i < 0 || i >= len(d.Paragraphs) {
		return nil, errors.NewOutOfRange(i, 0, 0, len(d.Paragraphs))
	}
	return d.Paragraphs[i], nil
}

// MaxRevisionID scans every paragraph and returns the highest revision id
// present, falling back to the load-time value when the scan finds less.
func (d *Document) MaxRevisionID() int64 {
	max := d.MaxRevID
	for _, p := range d.Paragraphs {
		if m := p.MaxRevisionID(); m > max {
			max = m
		}
	}
	return max
}

// Validate reports a structural error for a document the engine cannot
// process at all.
func (d *Document) Validate() error {
	if len(d.Paragraphs) == 0 {
		return errors.NewStructural("", "document body contains no paragraphs", nil)
	}
	for _, p := range d.Paragraphs {
		if err := p.Validate(); err != nil {
			return errors.NewStructural("", "invalid paragraph run sequence", err)
		}
	}
	return nil
}
