// Package align maps source-language edit sites onto a target-language
// document. The semantic oracle behind it is treated as unreliable
// infrastructure: every answer is bounds-checked and confidence-gated, and
// a deterministic structural fallback stands in whenever the oracle fails
// or hedges.
package align

import (
	"context"
	"math"
	"unicode/utf8"

	"github.com/crosslation/redline/core/errors"
	"github.com/crosslation/redline/core/extract"
	"github.com/crosslation/redline/internal/retry"
)

// Oracle is the external semantic-matching service. Implementations decide
// transport and prompt format; callers only see indexes, offsets, and
// confidences.
type Oracle interface {
	// AlignParagraph picks the candidate that best corresponds to the
	// source text. Index is a position in candidates.
	AlignParagraph(ctx context.Context, sourceText string, candidates []string) (index int, confidence float64, err error)
	// LocateSpan finds where in the target paragraph an operation lands.
	LocateSpan(ctx context.Context, req SpanRequest) (SpanAnswer, error)
}

// SpanRequest describes one span-location question.
type SpanRequest struct {
	Paragraph     int            // target paragraph index, for error context
	ParagraphText string         // target paragraph visible text
	Kind          extract.OpKind // insert or delete
	SpanText      string         // text to place (insertions) or find (deletions)
	Context       string         // source-side surroundings of the edit
	SourceRatio   float64        // edit offset relative to source paragraph length, in [0,1]
}

// SpanAnswer is the oracle's raw span answer. Offset and Length are rune
// positions in the request's paragraph text.
type SpanAnswer struct {
	Offset     int
	Length     int
	Confidence float64
}

// ParagraphMatch is a resolved paragraph alignment. Fallback marks answers
// produced structurally rather than by the oracle.
type ParagraphMatch struct {
	Index      int
	Confidence float64
	Fallback   bool
}

// SpanMatch is a resolved span location within a paragraph's visible text.
type SpanMatch struct {
	Offset     int
	Length     int
	Confidence float64
	Fallback   bool
}

// Config tunes the acceptance thresholds and the retry budget for oracle
// calls.
type Config struct {
	MinConfidence float64 // oracle answers below this trigger the fallback
	FuzzyFloor    float64 // fuzzy matches below this are rejected outright
	Retry         retry.Policy
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.5,
		FuzzyFloor:    0.3,
		Retry:         retry.DefaultPolicy(),
	}
}

// Aligner gates oracle answers and supplies fallbacks. A nil oracle puts
// it in fallback-only mode.
type Aligner struct {
	oracle Oracle
	cfg    Config
}

// New builds an Aligner. Zero config fields fall back to DefaultConfig
// values.
func New(oracle Oracle, cfg Config) *Aligner {
	def := DefaultConfig()
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.FuzzyFloor <= 0 {
		cfg.FuzzyFloor = def.FuzzyFloor
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = def.Retry.Attempts
	}
	if cfg.Retry.Backoff <= 0 {
		cfg.Retry.Backoff = def.Retry.Backoff
	}
	return &Aligner{oracle: oracle, cfg: cfg}
}

// Config returns the aligner's effective configuration.
func (a *Aligner) Config() Config {
	return a.cfg
}

// AlignParagraph resolves the target paragraph for a source paragraph.
// It never fails: when the oracle is absent, errors out, or answers below
// the confidence threshold, alignment degrades to the paragraph at the
// same relative position, scored by length similarity.
func (a *Aligner) AlignParagraph(ctx context.Context, sourceText string, sourceIndex, sourceCount int, candidates []string) ParagraphMatch {
	if len(candidates) == 0 {
		return ParagraphMatch{Index: -1, Fallback: true}
	}

	if a.oracle != nil {
		var idx int
		var conf float64
		err := retry.Do(ctx, a.cfg.Retry, func(ctx context.Context) error {
			i, c, e := a.oracle.AlignParagraph(ctx, sourceText, candidates)
			if e == nil {
				idx, conf = i, c
			}
			return e
		})
		if err == nil && idx >= 0 && idx < len(candidates) && conf >= a.cfg.MinConfidence {
			return ParagraphMatch{Index: idx, Confidence: conf}
		}
	}

	idx := relativeIndex(sourceIndex, sourceCount, len(candidates))
	return ParagraphMatch{
		Index:      idx,
		Confidence: lengthRatio(sourceText, candidates[idx]),
		Fallback:   true,
	}
}

// LocateSpan resolves where an operation lands in the target paragraph.
// Oracle answers are accepted only when inside the paragraph and at or
// above the confidence threshold. The fallback for insertions places the
// caret at the source edit's relative position; the fallback for deletions
// is a fuzzy search for the span text, which fails with a
// no-plausible-span error below the floor.
func (a *Aligner) LocateSpan(ctx context.Context, req SpanRequest) (SpanMatch, error) {
	textLen := utf8.RuneCountInString(req.ParagraphText)

	if a.oracle != nil {
		var ans SpanAnswer
		err := retry.Do(ctx, a.cfg.Retry, func(ctx context.Context) error {
			r, e := a.oracle.LocateSpan(ctx, req)
			if e == nil {
				ans = r
			}
			return e
		})
		if err == nil && plausibleAnswer(ans, req.Kind, textLen) && ans.Confidence >= a.cfg.MinConfidence {
			if req.Kind == extract.OpInsert {
				ans.Length = 0
			}
			return SpanMatch{Offset: ans.Offset, Length: ans.Length, Confidence: ans.Confidence}, nil
		}
	}

	if req.Kind == extract.OpInsert {
		off := int(math.Round(req.SourceRatio * float64(textLen)))
		if off < 0 {
			off = 0
		}
		if off > textLen {
			off = textLen
		}
		return SpanMatch{Offset: off, Fallback: true}, nil
	}
	return a.FuzzyLocate(req.Paragraph, req.ParagraphText, req.SpanText)
}

// FuzzyLocate finds the best fuzzy occurrence of span inside text and
// applies the acceptance floor. The returned match is always marked as a
// fallback.
func (a *Aligner) FuzzyLocate(paragraph int, text, span string) (SpanMatch, error) {
	off, length, ratio := Fuzzy(text, span)
	if ratio < a.cfg.FuzzyFloor {
		return SpanMatch{}, errors.NewNoPlausibleSpan(paragraph, span, ratio, a.cfg.FuzzyFloor)
	}
	return SpanMatch{Offset: off, Length: length, Confidence: ratio, Fallback: true}, nil
}

func plausibleAnswer(ans SpanAnswer, kind extract.OpKind, textLen int) bool {
	if ans.Offset < 0 || ans.Offset > textLen {
		return false
	}
	if kind == extract.OpDelete {
		return ans.Length > 0 && ans.Offset+ans.Length <= textLen
	}
	return true
}

// relativeIndex scales a source paragraph index to the target paragraph
// count, so parallel documents align one-to-one and differently sized
// documents align proportionally.
func relativeIndex(sourceIndex, sourceCount, targetCount int) int {
	if sourceCount <= 1 || targetCount <= 1 {
		return 0
	}
	idx := int(math.Round(float64(sourceIndex) * float64(targetCount-1) / float64(sourceCount-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= targetCount {
		idx = targetCount - 1
	}
	return idx
}

// lengthRatio scores how comparable two texts are by rune length alone,
// in [0,1].
func lengthRatio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 && lb == 0 {
		return 1
	}
	if la == 0 || lb == 0 {
		return 0
	}
	if la > lb {
		la, lb = lb, la
	}
	return float64(la) / float64(lb)
}
