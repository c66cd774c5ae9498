package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/crosslation/redline/core/align"
	"github.com/crosslation/redline/core/errors"
	"github.com/crosslation/redline/core/extract"
)

// Oracle answers semantic-matching questions with a language model. It
// implements align.Oracle; all gating of its answers happens in the
// aligner.
type Oracle struct {
	provider Provider
}

// NewOracle wraps a provider as the semantic oracle.
func NewOracle(p Provider) *Oracle {
	return &Oracle{provider: p}
}

const (
	// structuredConfidence stands in when a JSON answer omits the
	// confidence field.
	structuredConfidence = 0.75
	// extractedConfidence scores a number dug out of conversational
	// noise instead of a structured answer.
	extractedConfidence = 0.6

	sourceClip    = 300
	candidateClip = 100
	contextClip   = 200
)

var firstNumber = regexp.MustCompile(`-?\d+`)

// AlignParagraph asks which numbered candidate corresponds to the source
// paragraph.
func (o *Oracle) AlignParagraph(ctx context.Context, sourceText string, candidates []string) (int, float64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Find the paragraph in the numbered list that corresponds to this source paragraph.\n\n")
	fmt.Fprintf(&b, "Source paragraph: %q\n\nNumbered paragraphs:\n", clipRunes(sourceText, sourceClip))
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d: %s\n", i, clipRunes(c, candidateClip))
	}
	fmt.Fprintf(&b, "\nAnswer with JSON {\"index\": <number>, \"confidence\": <0 to 1>}.")

	resp, err := o.provider.Complete(ctx, b.String())
	if err != nil {
		return 0, 0, err
	}
	idx, conf, ok := parseNumberAnswer(resp, "index")
	if !ok {
		return 0, 0, errors.NewParse("oracle answer", "", fmt.Sprintf("no index in %q", clipRunes(resp, 80)))
	}
	return idx, conf, nil
}

// LocateSpan asks where an operation lands in the target paragraph. For
// insertions the model names a character position; for deletions it
// quotes the corresponding target text, which is then located in the
// paragraph with exact-or-fuzzy matching so near-quotes still snap to a
// real span.
func (o *Oracle) LocateSpan(ctx context.Context, req align.SpanRequest) (align.SpanAnswer, error) {
	if req.Kind == extract.OpDelete {
		return o.locateDeletion(ctx, req)
	}
	return o.locateInsertion(ctx, req)
}

func (o *Oracle) locateInsertion(ctx context.Context, req align.SpanRequest) (align.SpanAnswer, error) {
	limit := utf8.RuneCountInString(req.ParagraphText)

	var b strings.Builder
	fmt.Fprintf(&b, "Determine the character position in the paragraph where the new text belongs.\n\n")
	fmt.Fprintf(&b, "Paragraph: %q\n", req.ParagraphText)
	fmt.Fprintf(&b, "New text: %q\n", req.SpanText)
	if req.Context != "" {
		fmt.Fprintf(&b, "Source context: %q\n", clipRunes(req.Context, contextClip))
	}
	fmt.Fprintf(&b, "\nThe position is a number from 0 (start) to %d (end).\n", limit)
	fmt.Fprintf(&b, "Answer with JSON {\"offset\": <number>, \"confidence\": <0 to 1>}.")

	resp, err := o.provider.Complete(ctx, b.String())
	if err != nil {
		return align.SpanAnswer{}, err
	}
	off, conf, ok := parseNumberAnswer(resp, "offset")
	if !ok {
		return align.SpanAnswer{}, errors.NewParse("oracle answer", "", fmt.Sprintf("no offset in %q", clipRunes(resp, 80)))
	}
	return align.SpanAnswer{Offset: off, Confidence: conf}, nil
}

func (o *Oracle) locateDeletion(ctx context.Context, req align.SpanRequest) (align.SpanAnswer, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Identify the exact text inside the paragraph that corresponds to the deleted source text.\n\n")
	fmt.Fprintf(&b, "Paragraph: %q\n", req.ParagraphText)
	fmt.Fprintf(&b, "Deleted source text: %q\n", req.SpanText)
	if req.Context != "" {
		fmt.Fprintf(&b, "Source context: %q\n", clipRunes(req.Context, contextClip))
	}
	fmt.Fprintf(&b, "\nAnswer with only the exact text copied from the paragraph.")

	resp, err := o.provider.Complete(ctx, b.String())
	if err != nil {
		return align.SpanAnswer{}, err
	}
	quoted := strings.TrimSpace(resp)
	if quoted == "" {
		return align.SpanAnswer{}, errors.NewParse("oracle answer", "", "empty deletion quote")
	}

	off, length, ratio := align.Fuzzy(req.ParagraphText, quoted)
	return align.SpanAnswer{Offset: off, Length: length, Confidence: ratio}, nil
}

// parseNumberAnswer reads a numeric field from a model answer. It accepts
// a JSON object with the named field, a bare number, or a number embedded
// in prose, with decreasing confidence.
func parseNumberAnswer(s, field string) (value int, confidence float64, ok bool) {
	if v := gjson.Get(s, field); v.Exists() {
		conf := structuredConfidence
		if c := gjson.Get(s, "confidence"); c.Exists() {
			conf = clampUnit(c.Float())
		}
		return int(v.Int()), conf, true
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return n, structuredConfidence, true
	}
	if m := firstNumber.FindString(s); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n, extractedConfidence, true
		}
	}
	return 0, 0, false
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func clipRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
