// Package engine orchestrates a transfer job end to end: extract the
// source document's tracked changes, align each edit site onto the target
// document, and apply every edit as revision markup. External services are
// consulted concurrently up front; all mutation of the target happens on
// one goroutine, in extraction order.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crosslation/redline/core/align"
	"github.com/crosslation/redline/core/doc"
	"github.com/crosslation/redline/core/errors"
	"github.com/crosslation/redline/core/extract"
	"github.com/crosslation/redline/core/report"
	"github.com/crosslation/redline/core/revise"
	"github.com/crosslation/redline/core/translate"
	"github.com/crosslation/redline/internal/logging"
)

const (
	// DefaultAuthor is stamped onto created revisions when the job does
	// not name an author.
	DefaultAuthor = "redline"
	// DefaultConcurrency bounds concurrent oracle and translator calls.
	DefaultConcurrency = 4
)

// Config carries job-level settings. Zero values fall back to defaults.
type Config struct {
	SourceLang  string       // language tag of the source document
	TargetLang  string       // language tag of the target document
	Author      string       // author stamped onto created revisions
	Concurrency int          // bound on concurrent external calls
	SourceName  string       // source label for the report
	TargetName  string       // target label for the report
	Memory      Memory       // optional transfer ledger
	Progress    ProgressFunc // optional progress sink
}

// Engine runs transfer jobs. One Engine may run many jobs, but a given
// document pair belongs to at most one running job at a time.
type Engine struct {
	aligner    *align.Aligner
	translator translate.Translator
	cfg        Config
}

// New builds an Engine. A nil aligner degrades to fallback-only
// alignment; a nil translator degrades to passthrough.
func New(aligner *align.Aligner, translator translate.Translator, cfg Config) *Engine {
	if aligner == nil {
		aligner = align.New(nil, align.Config{})
	}
	if translator == nil {
		translator = translate.Passthrough{}
	}
	if cfg.Author == "" {
		cfg.Author = DefaultAuthor
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.SourceLang == "" {
		cfg.SourceLang = "en"
	}
	if cfg.TargetLang == "" {
		cfg.TargetLang = "zh"
	}
	return &Engine{aligner: aligner, translator: translator, cfg: cfg}
}

// plan is the per-operation working state resolved before application.
type plan struct {
	op          extract.Op
	fingerprint string
	duplicate   bool
	translated  string
	transErr    error
}

// Run transfers every tracked change in source onto target and returns
// the job report. The target document is mutated in place; the caller
// decides whether to persist it. A structural problem with either
// document or a cancelled context aborts the job with an error and no
// report.
func (e *Engine) Run(ctx context.Context, source, target *doc.Document) (*report.Report, error) {
	jobID := uuid.NewString()
	started := time.Now().UTC()

	if err := source.Validate(); err != nil {
		return nil, e.abort(jobID, errors.NewStructural("source", "cannot process source document", err))
	}
	if err := target.Validate(); err != nil {
		return nil, e.abort(jobID, errors.NewStructural("target", "cannot process target document", err))
	}

	rep := report.New(jobID, e.cfg.SourceName, e.cfg.TargetName, started)
	rep.SourceLang = e.cfg.SourceLang
	rep.TargetLang = e.cfg.TargetLang

	e.progress(Progress{State: StateExtracting, Message: "extracting tracked changes"})
	logging.JobEvent(jobID, string(StateExtracting))

	ops := extract.Changes(source)
	if len(ops) == 0 {
		rep.Finish(time.Now().UTC())
		e.progress(Progress{State: StateDone, Message: "source has no tracked changes"})
		logging.JobEvent(jobID, string(StateDone), "operations", 0)
		return rep, nil
	}

	plans := e.dedup(ctx, jobID, ops, target)

	e.progress(Progress{State: StateAligning, Total: len(plans), Message: "aligning paragraphs"})
	logging.JobEvent(jobID, string(StateAligning), "operations", len(plans))

	matches := e.alignAll(ctx, plans, source, target)
	e.translateAll(ctx, plans, source)

	if err := ctx.Err(); err != nil {
		return nil, e.abort(jobID, errors.Wrap(err, "transfer aborted"))
	}

	e.progress(Progress{State: StateApplying, Total: len(plans), Message: "applying revisions"})
	logging.JobEvent(jobID, string(StateApplying))

	attr := revise.Attribution{Author: e.cfg.Author, Date: started}
	alloc := &idAllocator{next: target.MaxRevisionID() + 1}

	for i := range plans {
		if err := ctx.Err(); err != nil {
			return nil, e.abort(jobID, errors.Wrap(err, "transfer aborted"))
		}
		out := e.apply(ctx, jobID, &plans[i], matches, source, target, attr, alloc)
		rep.Add(out)
		logging.OperationOutcome(jobID, i, out.Kind, string(out.Status), out.Reason)
		e.progress(Progress{State: StateApplying, Step: i + 1, Total: len(plans)})
		if out.Status == report.StatusApplied {
			e.remember(ctx, plans[i].fingerprint)
		}
	}

	rep.Finish(time.Now().UTC())
	e.progress(Progress{State: StateDone, Step: len(plans), Total: len(plans)})
	logging.JobEvent(jobID, string(StateDone),
		"applied", rep.Summary.Applied,
		"skipped", rep.Summary.Skipped,
		"failed", rep.Summary.Failed)
	return rep, nil
}

// dedup fingerprints every operation and consults the transfer ledger.
// Ledger errors downgrade to a cache miss; duplicate detection is an
// optimization, not a correctness gate.
func (e *Engine) dedup(ctx context.Context, jobID string, ops []extract.Op, target *doc.Document) []plan {
	plans := make([]plan, len(ops))
	tid := targetIdentity(target)
	for i, op := range ops {
		plans[i] = plan{op: op, fingerprint: opFingerprint(op, tid)}
		if e.cfg.Memory == nil {
			continue
		}
		seen, err := e.cfg.Memory.Transferred(ctx, plans[i].fingerprint)
		if err != nil {
			logging.Warn("transfer ledger lookup failed", "job_id", jobID, "error", err)
			continue
		}
		plans[i].duplicate = seen
	}
	return plans
}

// alignAll resolves the target paragraph for every distinct source
// paragraph, concurrently. Candidates are snapshotted before any mutation,
// and each goroutine writes only its own result slot.
func (e *Engine) alignAll(ctx context.Context, plans []plan, source, target *doc.Document) map[int]align.ParagraphMatch {
	seen := make(map[int]bool)
	distinct := make([]int, 0, len(plans))
	for _, pl := range plans {
		if pl.duplicate || seen[pl.op.Paragraph] {
			continue
		}
		seen[pl.op.Paragraph] = true
		distinct = append(distinct, pl.op.Paragraph)
	}

	candidates := make([]string, len(target.Paragraphs))
	for i, p := range target.Paragraphs {
		candidates[i] = p.VisibleText()
	}

	results := make([]align.ParagraphMatch, len(distinct))
	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup
	for slot, idx := range distinct {
		wg.Add(1)
		go func(slot, idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			text := source.Paragraphs[idx].OriginalText()
			results[slot] = e.aligner.AlignParagraph(ctx, text, idx, len(source.Paragraphs), candidates)
		}(slot, idx)
	}
	wg.Wait()

	matches := make(map[int]align.ParagraphMatch, len(distinct))
	for slot, idx := range distinct {
		matches[idx] = results[slot]
	}
	return matches
}

// translateAll resolves insertion translations, concurrently. Deletions
// are translated lazily, only if their raw text cannot be located. When
// source and target language agree, every operation keeps its own text.
func (e *Engine) translateAll(ctx context.Context, plans []plan, source *doc.Document) {
	if translate.Same(e.cfg.SourceLang, e.cfg.TargetLang) {
		for i := range plans {
			plans[i].translated = plans[i].op.Text
		}
		return
	}

	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := range plans {
		pl := &plans[i]
		if pl.duplicate || pl.op.Kind != extract.OpInsert {
			continue
		}
		wg.Add(1)
		go func(pl *plan) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			pl.translated, pl.transErr = e.translator.Translate(ctx, translate.Request{
				Text:       pl.op.Text,
				SourceLang: e.cfg.SourceLang,
				TargetLang: e.cfg.TargetLang,
				Context:    source.Paragraphs[pl.op.Paragraph].OriginalText(),
			})
		}(pl)
	}
	wg.Wait()
}

// apply carries one operation through location and revision writing and
// produces its report entry.
func (e *Engine) apply(ctx context.Context, jobID string, pl *plan, matches map[int]align.ParagraphMatch, source, target *doc.Document, attr revise.Attribution, alloc *idAllocator) report.Operation {
	out := report.Operation{
		Kind:            string(pl.op.Kind),
		SourceParagraph: pl.op.Paragraph,
		TargetParagraph: -1,
		Offset:          pl.op.Offset,
		Length:          pl.op.Length,
		Text:            pl.op.Text,
	}

	if pl.duplicate {
		out.Status = report.StatusSkipped
		out.Reason = "already transferred"
		return out
	}

	match, ok := matches[pl.op.Paragraph]
	if !ok || match.Index < 0 {
		out.Status = report.StatusFailed
		out.Reason = "no target paragraph"
		return out
	}
	if match.Fallback {
		logging.OracleFallback(jobID, "align_paragraph",
			"source_paragraph", pl.op.Paragraph, "target_paragraph", match.Index)
	}
	out.TargetParagraph = match.Index
	out.Fallback = match.Fallback

	p, err := target.Paragraph(match.Index)
	if err != nil {
		out.Status = report.StatusFailed
		out.Reason = err.Error()
		return out
	}

	srcPara := source.Paragraphs[pl.op.Paragraph]
	visible := p.VisibleText()
	req := align.SpanRequest{
		Paragraph:     match.Index,
		ParagraphText: visible,
		Kind:          pl.op.Kind,
		Context:       srcPara.OriginalText(),
		SourceRatio:   sourceRatio(pl.op.Offset, srcPara.Len()),
	}

	switch pl.op.Kind {
	case extract.OpInsert:
		return e.applyInsert(ctx, jobID, pl, p, req, attr, alloc, out)
	case extract.OpDelete:
		return e.applyDelete(ctx, jobID, pl, p, req, attr, alloc, out)
	}
	out.Status = report.StatusFailed
	out.Reason = "unknown operation kind"
	return out
}

// applyInsert places the translated text. Translation failure fails the
// operation outright: writing untranslated source text into the target
// silently is worse than not writing at all.
func (e *Engine) applyInsert(ctx context.Context, jobID string, pl *plan, p *doc.Paragraph, req align.SpanRequest, attr revise.Attribution, alloc *idAllocator, out report.Operation) report.Operation {
	if pl.transErr != nil {
		out.Status = report.StatusFailed
		out.Reason = pl.transErr.Error()
		return out
	}
	text := pl.translated
	if text != pl.op.Text {
		out.Translated = text
	}

	req.SpanText = text
	sm, err := e.aligner.LocateSpan(ctx, req)
	if err != nil {
		out.Status = report.StatusFailed
		out.Reason = err.Error()
		return out
	}
	if sm.Fallback {
		logging.OracleFallback(jobID, "locate_insertion", "target_paragraph", req.Paragraph)
	}

	fullOff, err := p.FullOffset(sm.Offset)
	if err != nil {
		out.Status = report.StatusFailed
		out.Reason = err.Error()
		return out
	}

	id := alloc.Next()
	if _, err := revise.ApplyInsertion(p, fullOff, text, pl.op.Props, attr, id); err != nil {
		out.Status = report.StatusFailed
		out.Reason = err.Error()
		return out
	}

	out.Status = report.StatusApplied
	out.Offset = sm.Offset
	out.Length = 0
	out.Fallback = out.Fallback || sm.Fallback
	out.Confidence = sm.Confidence
	out.RevisionID = id
	return out
}

// applyDelete locates the span to strike. The raw source text is tried
// first; when it cannot be found, the text is translated and the search
// repeats against the translation. A span that still cannot be located
// skips the operation, and a span already fully struck skips it too.
func (e *Engine) applyDelete(ctx context.Context, jobID string, pl *plan, p *doc.Paragraph, req align.SpanRequest, attr revise.Attribution, alloc *idAllocator, out report.Operation) report.Operation {
	req.SpanText = pl.op.Text
	sm, err := e.aligner.LocateSpan(ctx, req)
	if err != nil {
		translated, terr := e.rescueTranslation(ctx, pl, req.Context)
		if terr != nil {
			out.Status = report.StatusFailed
			out.Reason = terr.Error()
			return out
		}
		if translated == pl.op.Text {
			out.Status = report.StatusSkipped
			out.Reason = err.Error()
			return out
		}
		sm, err = e.aligner.FuzzyLocate(req.Paragraph, req.ParagraphText, translated)
		if err != nil {
			out.Status = report.StatusSkipped
			out.Reason = err.Error()
			return out
		}
		out.Translated = translated
	}
	if sm.Fallback {
		logging.OracleFallback(jobID, "locate_deletion", "target_paragraph", req.Paragraph)
	}

	fullOff, fullLen, err := p.FullSpan(sm.Offset, sm.Length)
	if err != nil {
		out.Status = report.StatusFailed
		out.Reason = err.Error()
		return out
	}

	id := alloc.Next()
	res, err := revise.ApplyDeletion(p, fullOff, fullLen, attr, id)
	if err != nil {
		if errors.Is(err, errors.ErrOverlap) {
			out.Status = report.StatusSkipped
		} else {
			out.Status = report.StatusFailed
		}
		out.Reason = err.Error()
		return out
	}

	out.Status = report.StatusApplied
	out.Offset = sm.Offset
	out.Length = sm.Length
	out.Fallback = out.Fallback || sm.Fallback
	out.Confidence = sm.Confidence
	out.RevisionID = id
	out.SkippedRunes = res.Skipped
	if res.Partial() {
		out.Reason = "partly overlapped existing revisions"
	}
	return out
}

// rescueTranslation returns the operation's translation, reusing the
// up-front result when one exists.
func (e *Engine) rescueTranslation(ctx context.Context, pl *plan, srcContext string) (string, error) {
	if pl.translated != "" || pl.transErr != nil {
		return pl.translated, pl.transErr
	}
	pl.translated, pl.transErr = e.translator.Translate(ctx, translate.Request{
		Text:       pl.op.Text,
		SourceLang: e.cfg.SourceLang,
		TargetLang: e.cfg.TargetLang,
		Context:    srcContext,
	})
	return pl.translated, pl.transErr
}

func (e *Engine) remember(ctx context.Context, fingerprint string) {
	if e.cfg.Memory == nil {
		return
	}
	if err := e.cfg.Memory.MarkTransferred(ctx, fingerprint); err != nil {
		logging.Warn("transfer ledger update failed", "error", err)
	}
}

func (e *Engine) abort(jobID string, err error) error {
	e.progress(Progress{State: StateAborted, Message: err.Error()})
	logging.JobEvent(jobID, string(StateAborted), "error", err.Error())
	return err
}

func (e *Engine) progress(p Progress) {
	if e.cfg.Progress != nil {
		e.cfg.Progress(p)
	}
}

// sourceRatio is the edit's relative position in its source paragraph's
// full projection, in [0,1].
func sourceRatio(offset, length int) float64 {
	if length <= 0 {
		return 0
	}
	r := float64(offset) / float64(length)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// idAllocator hands out revision ids above everything already present in
// the target.
type idAllocator struct {
	next int64
}

func (a *idAllocator) Next() int64 {
	id := a.next
	a.next++
	return id
}
