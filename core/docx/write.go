package docx

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/crosslation/redline/core/doc"
	"github.com/crosslation/redline/core/encoding"
	"github.com/crosslation/redline/core/errors"
)

// serializeRuns renders a run sequence as paragraph-inner markup.
// Consecutive runs sharing one revision collapse into a single wrapper,
// so a revision split by later edits renders as one wrapper per
// contiguous group.
func serializeRuns(runs []*doc.Run) string {
	var b strings.Builder
	for i := 0; i < len(runs); {
		r := runs[i]
		if r.Rev == nil {
			writeRun(&b, r, "w:t")
			i++
			continue
		}
		j := i
		for j < len(runs) && runs[j].Rev == r.Rev {
			j++
		}
		tag, textTag := "w:ins", "w:t"
		if r.Rev.Kind == doc.KindDeletion {
			tag, textTag = "w:del", "w:delText"
		}
		fmt.Fprintf(&b, `<%s w:id="%d"`, tag, r.Rev.ID)
		if r.Rev.Author != "" {
			fmt.Fprintf(&b, ` w:author="%s"`, encoding.EscapeXMLAttr(r.Rev.Author))
		}
		if !r.Rev.Date.IsZero() {
			fmt.Fprintf(&b, ` w:date="%s"`, r.Rev.Date.UTC().Format(revisionDate))
		}
		b.WriteByte('>')
		for ; i < j; i++ {
			writeRun(&b, runs[i], textTag)
		}
		fmt.Fprintf(&b, "</%s>", tag)
	}
	return b.String()
}

// writeRun renders one w:r. Tab and newline characters in the model
// text map back to their dedicated elements; everything else lands in
// text elements with whitespace preserved.
func writeRun(b *strings.Builder, r *doc.Run, textTag string) {
	b.WriteString("<w:r>")
	b.WriteString(r.Props)
	flush := func(seg string) {
		if seg == "" {
			return
		}
		b.WriteString("<" + textTag + ` xml:space="preserve">`)
		b.WriteString(encoding.EscapeXMLText(seg))
		b.WriteString("</" + textTag + ">")
	}
	start := 0
	for i, ch := range r.Text {
		switch ch {
		case '\t':
			flush(r.Text[start:i])
			b.WriteString("<w:tab/>")
			start = i + 1
		case '\n':
			flush(r.Text[start:i])
			b.WriteString("<w:br/>")
			start = i + 1
		}
	}
	flush(r.Text[start:])
	b.WriteString("</w:r>")
}

// rebuildParagraph renders a dirty paragraph: the original element
// attributes and paragraph properties, regenerated run content. Content
// outside the run model, field chars and drawings among it, is not
// carried over.
func rebuildParagraph(state *paraState, runs []*doc.Run) string {
	var b strings.Builder
	b.WriteString("<w:p")
	for _, a := range state.node.Attr {
		b.WriteByte(' ')
		if a.Name.Space != "" {
			b.WriteString(a.Name.Space + ":" + a.Name.Local)
		} else {
			b.WriteString(a.Name.Local)
		}
		b.WriteString(`="` + encoding.EscapeXMLAttr(a.Value) + `"`)
	}
	b.WriteByte('>')
	if pPr := xmlquery.QuerySelector(state.node, pprQuery); pPr != nil {
		b.WriteString(pPr.OutputXML(true))
	}
	b.WriteString(serializeRuns(runs))
	b.WriteString("</w:p>")
	return b.String()
}

// renderDocument serializes the document part, splicing regenerated XML
// over every paragraph whose run model changed since load. Untouched
// paragraphs keep their original nodes.
func (c *Container) renderDocument() ([]byte, error) {
	for i, state := range c.paras {
		cur := serializeRuns(c.doc.Paragraphs[i].Runs)
		if cur == state.snapshot {
			continue
		}
		repl, err := c.parseFragment(rebuildParagraph(state, c.doc.Paragraphs[i].Runs))
		if err != nil {
			return nil, err
		}
		replaceNode(state.node, repl)
		state.node = repl
		state.snapshot = cur
	}
	return []byte(c.root.OutputXML(true)), nil
}

// parseFragment parses a paragraph fragment under the document root's
// own namespace declarations, so prefixes resolve exactly as they do in
// the surrounding part.
func (c *Container) parseFragment(frag string) (*xmlquery.Node, error) {
	var decls strings.Builder
	if root := rootElement(c.root); root != nil {
		for _, a := range root.Attr {
			if a.Name.Space != "xmlns" && a.Name.Local != "xmlns" {
				continue
			}
			decls.WriteByte(' ')
			if a.Name.Space != "" {
				decls.WriteString(a.Name.Space + ":" + a.Name.Local)
			} else {
				decls.WriteString(a.Name.Local)
			}
			decls.WriteString(`="` + encoding.EscapeXMLAttr(a.Value) + `"`)
		}
	}

	parsed, err := xmlquery.Parse(strings.NewReader("<frag" + decls.String() + ">" + frag + "</frag>"))
	if err != nil {
		return nil, errors.NewStructural("", "cannot rebuild paragraph", err)
	}
	wrap := rootElement(parsed)
	if wrap == nil {
		return nil, errors.NewStructural("", "cannot rebuild paragraph", nil)
	}
	for n := wrap.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n, nil
		}
	}
	return nil, errors.NewStructural("", "cannot rebuild paragraph", nil)
}

// rootElement returns the first element child of a document node.
func rootElement(root *xmlquery.Node) *xmlquery.Node {
	for n := root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}

// replaceNode swaps repl in for old in old's sibling chain.
func replaceNode(old, repl *xmlquery.Node) {
	repl.Parent = old.Parent
	repl.PrevSibling = old.PrevSibling
	repl.NextSibling = old.NextSibling
	if old.PrevSibling != nil {
		old.PrevSibling.NextSibling = repl
	} else if old.Parent != nil {
		old.Parent.FirstChild = repl
	}
	if old.NextSibling != nil {
		old.NextSibling.PrevSibling = repl
	} else if old.Parent != nil {
		old.Parent.LastChild = repl
	}
}
