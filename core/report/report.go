// Package report records what happened to every extracted revision during
// a transfer job and renders the result as JSON, Markdown, or HTML.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// markdown renders with table support so the operation listing survives
// conversion.
var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// Status classifies one operation's outcome.
type Status string

const (
	// StatusApplied means the revision was written into the target.
	StatusApplied Status = "applied"
	// StatusSkipped means the operation was intentionally not applied,
	// for example because an earlier run already transferred it.
	StatusSkipped Status = "skipped"
	// StatusFailed means the operation could not be applied.
	StatusFailed Status = "failed"
)

// Operation is the outcome record for one extracted revision.
type Operation struct {
	Index           int     `json:"index"`
	Kind            string  `json:"kind"`
	SourceParagraph int     `json:"source_paragraph"`
	TargetParagraph int     `json:"target_paragraph"`
	Offset          int     `json:"offset"`
	Length          int     `json:"length,omitempty"`
	Text            string  `json:"text"`
	Translated      string  `json:"translated,omitempty"`
	Status          Status  `json:"status"`
	Reason          string  `json:"reason,omitempty"`
	Fallback        bool    `json:"fallback,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	RevisionID      int64   `json:"revision_id,omitempty"`
	SkippedRunes    int     `json:"skipped_runes,omitempty"`
}

// Summary aggregates operation outcomes.
type Summary struct {
	Total      int `json:"total"`
	Applied    int `json:"applied"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Insertions int `json:"insertions"`
	Deletions  int `json:"deletions"`
	Fallbacks  int `json:"fallbacks"`
}

// Report is the full job record.
type Report struct {
	JobID      string      `json:"job_id"`
	Source     string      `json:"source"`
	Target     string      `json:"target"`
	Output     string      `json:"output"`
	SourceLang string      `json:"source_lang,omitempty"`
	TargetLang string      `json:"target_lang,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Operations []Operation `json:"operations"`
	Summary    Summary     `json:"summary"`
}

// New starts a report for a job.
func New(jobID, source, target string, started time.Time) *Report {
	return &Report{
		JobID:     jobID,
		Source:    source,
		Target:    target,
		StartedAt: started,
	}
}

// Add appends one operation outcome.
func (r *Report) Add(op Operation) {
	op.Index = len(r.Operations)
	r.Operations = append(r.Operations, op)
}

// Finish stamps the end time and computes the summary.
func (r *Report) Finish(now time.Time) {
	r.FinishedAt = now
	r.Summary = summarize(r.Operations)
}

// Duration is the wall time between start and finish.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func summarize(ops []Operation) Summary {
	s := Summary{Total: len(ops)}
	for _, op := range ops {
		switch op.Status {
		case StatusApplied:
			s.Applied++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
		switch op.Kind {
		case "insert":
			s.Insertions++
		case "delete":
			s.Deletions++
		}
		if op.Fallback {
			s.Fallbacks++
		}
	}
	return s
}

// JSON renders the report as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Markdown renders the report as a human-readable Markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# Revision transfer report\n\n")
	fmt.Fprintf(&b, "- Job: `%s`\n", r.JobID)
	fmt.Fprintf(&b, "- Source: `%s`", r.Source)
	if r.SourceLang != "" {
		fmt.Fprintf(&b, " (%s)", r.SourceLang)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- Target: `%s`", r.Target)
	if r.TargetLang != "" {
		fmt.Fprintf(&b, " (%s)", r.TargetLang)
	}
	b.WriteString("\n")
	if r.Output != "" {
		fmt.Fprintf(&b, "- Output: `%s`\n", r.Output)
	}
	if d := r.Duration(); d > 0 {
		fmt.Fprintf(&b, "- Duration: %s\n", d.Round(time.Millisecond))
	}

	b.WriteString("\n## Summary\n\n")
	b.WriteString("| Outcome | Count |\n|---|---|\n")
	fmt.Fprintf(&b, "| Applied | %d |\n", r.Summary.Applied)
	fmt.Fprintf(&b, "| Skipped | %d |\n", r.Summary.Skipped)
	fmt.Fprintf(&b, "| Failed | %d |\n", r.Summary.Failed)
	fmt.Fprintf(&b, "| Fallbacks used | %d |\n", r.Summary.Fallbacks)

	if len(r.Operations) > 0 {
		b.WriteString("\n## Operations\n\n")
		b.WriteString("| # | Kind | Source ¶ | Target ¶ | Text | Status | Notes |\n")
		b.WriteString("|---|---|---|---|---|---|---|\n")
		for _, op := range r.Operations {
			target := "-"
			if op.TargetParagraph >= 0 {
				target = fmt.Sprintf("%d", op.TargetParagraph)
			}
			text := op.Text
			if op.Translated != "" && op.Translated != op.Text {
				text = op.Text + " => " + op.Translated
			}
			fmt.Fprintf(&b, "| %d | %s | %d | %s | %s | %s | %s |\n",
				op.Index, op.Kind, op.SourceParagraph, target,
				cell(text, 40), op.Status, cell(op.Reason, 60))
		}
	}
	return b.String()
}

// HTML renders the Markdown report as HTML.
func (r *Report) HTML() ([]byte, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(r.Markdown()), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// cell makes a string safe for a Markdown table cell and clips it.
func cell(s string, max int) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
