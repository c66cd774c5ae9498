// Package revise mutates a target paragraph's run model to express one edit
// operation as revision markup. Both operations validate before they touch
// the paragraph and mutate atomically: a failed call leaves the paragraph
// exactly as it was.
package revise

import (
	"time"

	"github.com/crosslation/redline/core/doc"
	"github.com/crosslation/redline/core/errors"
)

// Attribution is the authorship stamped onto revisions created by this
// package.
type Attribution struct {
	Author string
	Date   time.Time
}

// DeletionResult describes what a deletion actually covered. Skipped counts
// runes the span crossed that were already enclosed by a revision and were
// left untouched; OverlapIDs lists the ids of those revisions.
type DeletionResult struct {
	Wrapped    int
	Skipped    int
	OverlapIDs []int64
}

// Partial reports whether part of the requested span was skipped.
func (r *DeletionResult) Partial() bool {
	return r.Skipped > 0
}

// ApplyInsertion places text at the rune offset of the paragraph's full
// projection, wrapped in a fresh Insertion revision. A mid-run offset
// splits the run; the split halves keep their own enclosing revision, so
// inserting inside an existing wrapper yields adjacent wrappers rather than
// merged attribution. The new run inherits the formatting of the run left
// of the insertion point, falling back to propsHint in an empty paragraph.
func ApplyInsertion(p *doc.Paragraph, offset int, text, propsHint string, attr Attribution, id int64) (*doc.Run, error) {
	if text == "" {
		return nil, errors.NewValidation("text", "insertion text is empty")
	}
	segs, err := p.LocateSpan(offset, 0)
	if err != nil {
		return nil, err
	}

	rev := &doc.Revision{ID: id, Author: attr.Author, Date: attr.Date, Kind: doc.KindInsertion}
	newRun := &doc.Run{Text: text, Props: propsHint, Rev: rev}

	if len(segs) == 0 {
		p.Runs = append(p.Runs, newRun)
		return newRun, nil
	}

	seg := segs[0]
	inherited := seg.Run.Props
	if seg.Start == 0 && seg.RunIndex > 0 {
		inherited = p.Runs[seg.RunIndex-1].Props
	}
	if inherited != "" {
		newRun.Props = inherited
	}

	left, right, err := p.SplitRunAt(seg.Run, seg.Start)
	if err != nil {
		return nil, err
	}

	var at int
	switch {
	case left == nil:
		at = seg.RunIndex
	case right == nil:
		at = seg.RunIndex + 1
	default:
		at = seg.RunIndex + 1
	}
	if err := p.InsertRun(at, newRun); err != nil {
		return nil, err
	}
	return newRun, nil
}

// ApplyDeletion wraps the rune span [offset, offset+length) of the full
// projection in a fresh Deletion revision. Text is retained, never erased.
// Partial runs at the span edges are split so wrapping lands exactly on run
// boundaries. Sub-ranges already enclosed by a revision are skipped and
// reported in the result; when the whole span is enclosed, nothing changes
// and an overlap error is returned.
func ApplyDeletion(p *doc.Paragraph, offset, length int, attr Attribution, id int64) (*DeletionResult, error) {
	if length <= 0 {
		return nil, errors.NewValidation("length", "deletion length must be positive")
	}
	segs, err := p.LocateSpan(offset, length)
	if err != nil {
		return nil, err
	}

	rev := &doc.Revision{ID: id, Author: attr.Author, Date: attr.Date, Kind: doc.KindDeletion}
	res := &DeletionResult{}

	staged := make([]*doc.Run, 0, len(p.Runs)+2)
	segAt := 0
	for i, r := range p.Runs {
		if segAt >= len(segs) || segs[segAt].RunIndex != i {
			staged = append(staged, r)
			continue
		}
		seg := segs[segAt]
		segAt++

		if r.Rev != nil {
			res.Skipped += seg.End - seg.Start
			if n := len(res.OverlapIDs); n == 0 || res.OverlapIDs[n-1] != r.Rev.ID {
				res.OverlapIDs = append(res.OverlapIDs, r.Rev.ID)
			}
			staged = append(staged, r)
			continue
		}

		runes := []rune(r.Text)
		if seg.Start > 0 {
			staged = append(staged, &doc.Run{Text: string(runes[:seg.Start]), Props: r.Props})
		}
		staged = append(staged, &doc.Run{Text: string(runes[seg.Start:seg.End]), Props: r.Props, Rev: rev})
		if seg.End < len(runes) {
			staged = append(staged, &doc.Run{Text: string(runes[seg.End:]), Props: r.Props})
		}
		res.Wrapped += seg.End - seg.Start
	}

	if res.Wrapped == 0 {
		var overlapID int64
		if len(res.OverlapIDs) > 0 {
			overlapID = res.OverlapIDs[0]
		}
		return nil, errors.NewOverlap(p.Index, offset, length, overlapID)
	}

	p.Runs = staged
	return res, nil
}
