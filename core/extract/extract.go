// Package extract walks a source document's run model and produces the
// ordered edit operations its revision markup describes.
package extract

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/crosslation/redline/core/doc"
)

// OpKind is the kind of a source-side edit operation.
type OpKind string

const (
	// OpInsert transfers text added on the source side.
	OpInsert OpKind = "insert"
	// OpDelete transfers text struck on the source side.
	OpDelete OpKind = "delete"
)

// Op is one normalized source-side tracked change: a maximal contiguous run
// group under a single revision. Offset and Length are rune positions in
// the source paragraph's full projection, so text retained inside earlier
// deletions still counts.
type Op struct {
	Kind      OpKind    `json:"kind"`
	Paragraph int       `json:"paragraph"`
	Offset    int       `json:"offset"`
	Length    int       `json:"length"`
	Text      string    `json:"text"`
	Author    string    `json:"author,omitempty"`
	Date      time.Time `json:"date,omitempty"`
	SourceRev int64     `json:"source_rev,omitempty"`
	Props     string    `json:"-"`
}

// Changes extracts every edit operation from the document, in document
// order: paragraph index ascending, then offset ascending. Adjacent runs
// enclosed by the same revision merge into one operation; adjacent runs
// under distinct revisions do not, even when the revisions share a kind.
func Changes(d *doc.Document) []Op {
	var ops []Op
	for _, p := range d.Paragraphs {
		ops = appendParagraphOps(ops, p)
	}
	return ops
}

func appendParagraphOps(ops []Op, p *doc.Paragraph) []Op {
	var (
		cur      *doc.Revision
		curStart int
		curProps string
		text     strings.Builder
	)
	cum := 0

	flush := func() {
		if cur == nil {
			return
		}
		op := Op{
			Paragraph: p.Index,
			Offset:    curStart,
			Text:      text.String(),
			Length:    utf8.RuneCountInString(text.String()),
			Author:    cur.Author,
			Date:      cur.Date,
			SourceRev: cur.ID,
			Props:     curProps,
		}
		switch cur.Kind {
		case doc.KindInsertion:
			op.Kind = OpInsert
		case doc.KindDeletion:
			op.Kind = OpDelete
		}
		ops = append(ops, op)
	}

	for _, r := range p.Runs {
		if r.Rev != cur {
			flush()
			cur = r.Rev
			curStart = cum
			curProps = r.Props
			text.Reset()
		}
		if cur != nil {
			text.WriteString(r.Text)
		}
		cum += r.Len()
	}
	flush()
	return ops
}
