package docx

import (
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/crosslation/redline/core/doc"
	"github.com/crosslation/redline/core/errors"
)

// revisionDate is the W3C datetime form Word stamps onto revision
// wrappers. Parsing accepts any RFC 3339 offset; output is always UTC.
const revisionDate = "2006-01-02T15:04:05Z"

// Queries are compiled once; documents with hundreds of paragraphs hit
// them in a loop. Word always binds the main namespace to the w prefix.
var (
	bodyQuery = xpath.MustCompile("//w:body")
	paraQuery = xpath.MustCompile(".//w:p")
	pprQuery  = xpath.MustCompile("w:pPr")
	idQuery   = xpath.MustCompile("//*[@w:id]")
)

// parseBody builds the run model from the parsed document part. Every
// w:p under the body is modeled, including paragraphs inside table
// cells, in document order.
func (c *Container) parseBody() error {
	body := xmlquery.QuerySelector(c.root, bodyQuery)
	if body == nil {
		return errors.NewStructural("", "document has no w:body", nil)
	}

	nodes := xmlquery.QuerySelectorAll(body, paraQuery)
	paragraphs := make([]*doc.Paragraph, 0, len(nodes))
	states := make([]*paraState, 0, len(nodes))
	for i, n := range nodes {
		p := &doc.Paragraph{Index: i, Runs: parseParagraph(n)}
		paragraphs = append(paragraphs, p)
		states = append(states, &paraState{node: n, snapshot: serializeRuns(p.Runs)})
	}

	c.doc = &doc.Document{Paragraphs: paragraphs, MaxRevID: maxPartID(body)}
	c.paras = states
	return nil
}

// parseParagraph collects the paragraph's runs. Only runs, revision
// wrappers and hyperlinks carry model text; properties, bookmarks and
// section marks stay in the XML tree.
func parseParagraph(p *xmlquery.Node) []*doc.Run {
	return appendWrapped(nil, p, nil)
}

// appendWrapped collects the runs under a container element: a w:p, a
// revision wrapper, or a w:hyperlink. Hyperlinks are transparent, their
// runs join the model under the enclosing revision. A w:del nested
// inside a w:ins takes the inner marker: the text is struck either way,
// and round-tripping it as a plain deletion keeps it out of the visible
// projection.
func appendWrapped(runs []*doc.Run, container *xmlquery.Node, rev *doc.Revision) []*doc.Run {
	for child := container.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != xmlquery.ElementNode {
			continue
		}
		switch child.Data {
		case "r":
			runs = appendRun(runs, child, rev)
		case "hyperlink":
			runs = appendWrapped(runs, child, rev)
		case "ins":
			runs = appendWrapped(runs, child, revisionFrom(child, doc.KindInsertion))
		case "del":
			runs = appendWrapped(runs, child, revisionFrom(child, doc.KindDeletion))
		}
	}
	return runs
}

// appendRun models one w:r. Tabs and breaks become the characters the
// run model uses for them. Runs with no text at all, field chars and
// anchored drawings among them, stay out of the model; they survive
// untouched as long as their paragraph is never rewritten.
func appendRun(runs []*doc.Run, r *xmlquery.Node, rev *doc.Revision) []*doc.Run {
	var props string
	var text strings.Builder
	for child := r.FirstChild; child != nil; child = child.NextSibling {
		if child.Type != xmlquery.ElementNode {
			continue
		}
		switch child.Data {
		case "rPr":
			props = child.OutputXML(true)
		case "t", "delText":
			text.WriteString(child.InnerText())
		case "tab":
			text.WriteByte('\t')
		case "br", "cr":
			text.WriteByte('\n')
		}
	}
	if text.Len() == 0 {
		return runs
	}
	return append(runs, &doc.Run{Text: text.String(), Props: props, Rev: rev})
}

// revisionFrom reads the wrapper's id, author and date attributes. A
// missing or malformed attribute leaves the zero value; the id floor
// from maxPartID keeps later allocations clear of it regardless.
func revisionFrom(el *xmlquery.Node, kind doc.RevisionKind) *doc.Revision {
	rev := &doc.Revision{Kind: kind, Author: el.SelectAttr("w:author")}
	if id, err := strconv.ParseInt(el.SelectAttr("w:id"), 10, 64); err == nil {
		rev.ID = id
	}
	if d, err := time.Parse(time.RFC3339, el.SelectAttr("w:date")); err == nil {
		rev.Date = d
	}
	return rev
}

// maxPartID scans every w:id in the part. Ids from bookmarks and
// comments share the scan; treating them as revision ids only raises
// the allocation floor.
func maxPartID(body *xmlquery.Node) int64 {
	var max int64
	for _, n := range xmlquery.QuerySelectorAll(body, idQuery) {
		if id, err := strconv.ParseInt(n.SelectAttr("w:id"), 10, 64); err == nil && id > max {
			max = id
		}
	}
	return max
}
