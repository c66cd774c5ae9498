package doc

import (
	"github.com/crosslation/redline/core/errors"
)

// Segment addresses the portion of one run covered by a located span.
// Start and End are rune offsets local to the run; Start == End only for a
// zero-length caret span.
type Segment struct {
	Run      *Run
	RunIndex int
	Start    int
	End      int
}

// LocateSpan maps the absolute rune range [offset, offset+length) of the
// paragraph's full projection to the ordered run segments it crosses.
// A zero length locates a caret: the result is a single segment with
// Start == End, or no segments when the paragraph has no runs. The span
// must lie within the projection or an out-of-range error is returned.
func (p *Paragraph) LocateSpan(offset, length int) ([]Segment, error) {
	total := p.Len()
	if offset < 0 || length < 0 || offset+length > total {
		return nil, errors.NewOutOfRange(p.Index, offset, length, total)
	}

	if length == 0 {
		if len(p.Runs) == 0 {
			return []Segment{}, nil
		}
		if offset == total {
			i := len(p.Runs) - 1
			r := p.Runs[i]
			return []Segment{{Run: r, RunIndex: i, Start: r.Len(), End: r.Len()}}, nil
		}
		cum := 0
		for i, r := range p.Runs {
			rl := r.Len()
			if offset < cum+rl {
				return []Segment{{Run: r, RunIndex: i, Start: offset - cum, End: offset - cum}}, nil
			}
			cum += rl
		}
		// Unreachable: offset < total was checked above.
		return nil, errors.NewOutOfRange(p.Index, offset, length, total)
	}

	var segs []Segment
	cum := 0
	end := offset + length
	for i, r := range p.Runs {
		rl := r.Len()
		s := offset
		if cum > s {
			s = cum
		}
		e := end
		if cum+rl < e {
			e = cum + rl
		}
		if s < e {
			segs = append(segs, Segment{Run: r, RunIndex: i, Start: s - cum, End: e - cum})
		}
		cum += rl
		if cum >= end {
			break
		}
	}
	return segs, nil
}

// SplitRunAt partitions r's text at the local rune offset, replacing r in
// the paragraph's run sequence with the two halves. Both halves copy the
// formatting descriptor verbatim and keep r's enclosing revision, if any.
// An offset of 0 or r.Len() is a no-op; the run stays in place and is
// returned as the non-empty side with nil for the other.
func (p *Paragraph) SplitRunAt(r *Run, local int) (left, right *Run, err error) {
	idx := -1
	for i, cand := range p.Runs {
		if cand == r {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, errors.NewValidation("run", "run not part of paragraph")
	}

	rl := r.Len()
	if local < 0 || local > rl {
		return nil, nil, errors.NewOutOfRange(p.Index, local, 0, rl)
	}
	if local == 0 {
		return nil, r, nil
	}
	if local == rl {
		return r, nil, nil
	}

	runes := []rune(r.Text)
	left = &Run{Text: string(runes[:local]), Props: r.Props, Rev: r.Rev}
	right = &Run{Text: string(runes[local:]), Props: r.Props, Rev: r.Rev}

	out := make([]*Run, 0, len(p.Runs)+1)
	out = append(out, p.Runs[:idx]...)
	out = append(out, left, right)
	out = append(out, p.Runs[idx+1:]...)
	p.Runs = out
	return left, right, nil
}

// InsertRun places r at position i in the run sequence.
func (p *Paragraph) InsertRun(i int, r *Run) error {
	if i < 0 || i > len(p.Runs) {
		return errors.NewOutOfRange(p.Index, i, 0, len(p.Runs))
	}
	out := make([]*Run, 0, len(p.Runs)+1)
	out = append(out, p.Runs[:i]...)
	out = append(out, r)
	out = append(out, p.Runs[i:]...)
	p.Runs = out
	return nil
}

// VisibleLen returns the rune length of the visible projection.
func (p *Paragraph) VisibleLen() int {
	n := 0
	for _, r := range p.Runs {
		if r.Deleted() {
			continue
		}
		n += r.Len()
	}
	return n
}

// FullOffset maps a caret position in the visible projection to the
// earliest equivalent position in the full projection, so an insertion at
// a point adjacent to deleted text lands before the deletion.
func (p *Paragraph) FullOffset(visible int) (int, error) {
	vTotal := p.VisibleLen()
	if visible < 0 || visible > vTotal {
		return 0, errors.NewOutOfRange(p.Index, visible, 0, vTotal)
	}
	if visible == 0 {
		return 0, nil
	}
	full, vis := 0, 0
	for _, r := range p.Runs {
		rl := r.Len()
		if r.Deleted() {
			full += rl
			continue
		}
		if visible <= vis+rl {
			return full + (visible - vis), nil
		}
		vis += rl
		full += rl
	}
	return full, nil
}

// FullSpan maps a visible-projection span to the full-projection range
// covering the same characters. Deleted runs lying inside the mapped range
// stay inside it; the revision writer skips them as overlap. Length zero
// degenerates to FullOffset.
func (p *Paragraph) FullSpan(visOffset, visLength int) (offset, length int, err error) {
	if visLength == 0 {
		off, err := p.FullOffset(visOffset)
		return off, 0, err
	}
	vTotal := p.VisibleLen()
	if visOffset < 0 || visLength < 0 || visOffset+visLength > vTotal {
		return 0, 0, errors.NewOutOfRange(p.Index, visOffset, visLength, vTotal)
	}
	start := p.fullIndexOfVisibleChar(visOffset)
	end := p.fullIndexOfVisibleChar(visOffset+visLength-1) + 1
	return start, end - start, nil
}

// fullIndexOfVisibleChar returns the full-projection index of the visible
// character at index v. The caller has bounds-checked v.
func (p *Paragraph) fullIndexOfVisibleChar(v int) int {
	full, vis := 0, 0
	for _, r := range p.Runs {
		rl := r.Len()
		if r.Deleted() {
			full += rl
			continue
		}
		if v < vis+rl {
			return full + (v - vis)
		}
		vis += rl
		full += rl
	}
	return full
}
