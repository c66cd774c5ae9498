// Command redline propagates tracked changes from an edited source
// document onto its translated counterpart as revision markup.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/crosslation/redline/core/align"
	"github.com/crosslation/redline/core/doc"
	"github.com/crosslation/redline/core/docx"
	"github.com/crosslation/redline/core/engine"
	"github.com/crosslation/redline/core/extract"
	"github.com/crosslation/redline/core/report"
	"github.com/crosslation/redline/core/translate"
	"github.com/crosslation/redline/internal/api"
	"github.com/crosslation/redline/internal/bundle"
	"github.com/crosslation/redline/internal/ledger"
	"github.com/crosslation/redline/internal/llm"
	"github.com/crosslation/redline/internal/logging"
	"github.com/crosslation/redline/internal/retry"
	"github.com/crosslation/redline/internal/validation"
)

const version = "0.1.0"

// CLI defines the command-line interface for redline.
var CLI struct {
	// Global flags
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)" env:"REDLINE_LOG_LEVEL" default:"info"`
	LogFormat string `name:"log-format" help:"Log format (text, json)" env:"REDLINE_LOG_FORMAT" default:"text"`

	Transfer TransferCmd `cmd:"" help:"Transfer tracked changes from a source document onto a target document"`
	Extract  ExtractCmd  `cmd:"" help:"List a document's tracked changes as JSON"`
	Inspect  InspectCmd  `cmd:"" help:"List a document's paragraphs and revisions"`
	Report   ReportCmd   `cmd:"" help:"Render a job report from a ledger or bundle"`
	Serve    ServeCmd    `cmd:"" help:"Start the REST API server"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

// TransferCmd runs one transfer job end to end.
type TransferCmd struct {
	Source      string `required:"" help:"Edited document carrying tracked changes" type:"existingfile"`
	Target      string `required:"" help:"Translated document to revise" type:"existingfile"`
	Out         string `help:"Output path (default: <target>_updated.docx)" type:"path"`
	SourceLang  string `name:"source-lang" help:"Source document language tag" default:"en"`
	TargetLang  string `name:"target-lang" help:"Target document language tag" default:"zh"`
	Provider    string `help:"Semantic oracle provider" enum:"auto,openai,ollama,none" default:"auto"`
	Model       string `help:"Model name override"`
	BaseURL     string `name:"base-url" help:"Provider endpoint override"`
	APIKey      string `name:"api-key" help:"API key for the openai provider" env:"REDLINE_API_KEY"`
	Author      string `help:"Author stamped onto created revisions" default:"redline"`
	Ledger      string `help:"Transfer ledger database path" type:"path"`
	Bundle      string `help:"Pack report and output into this bundle (.tar.xz, .tar.gz, .tar)" type:"path"`
	Report      string `help:"Write the job report to this path (.json, .md, .html)" type:"path"`
	DryRun      bool   `name:"dry-run" help:"Plan and report without writing the output document"`
	Concurrency int    `help:"Concurrent oracle calls" default:"4"`
}

func (c *TransferCmd) Run() error {
	if err := validation.ValidatePath(c.Source); err != nil {
		return fmt.Errorf("invalid source path: %w", err)
	}
	if err := validation.ValidatePath(c.Target); err != nil {
		return fmt.Errorf("invalid target path: %w", err)
	}
	out := c.Out
	if out == "" {
		out = outputName(c.Target)
	}
	if err := validation.ValidatePath(out); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}

	srcLang, err := translate.Normalize(c.SourceLang)
	if err != nil {
		return fmt.Errorf("source language: %w", err)
	}
	tgtLang, err := translate.Normalize(c.TargetLang)
	if err != nil {
		return fmt.Errorf("target language: %w", err)
	}

	src, err := docx.Open(c.Source)
	if err != nil {
		return fmt.Errorf("source document: %w", err)
	}
	tgt, err := docx.Open(c.Target)
	if err != nil {
		return fmt.Errorf("target document: %w", err)
	}

	var store *ledger.Store
	if c.Ledger != "" {
		store, err = ledger.Open(c.Ledger)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer store.Close()
	}

	cfg := engine.Config{
		SourceLang:  srcLang,
		TargetLang:  tgtLang,
		Author:      c.Author,
		Concurrency: c.Concurrency,
		SourceName:  filepath.Base(c.Source),
		TargetName:  filepath.Base(c.Target),
		Progress:    progressPrinter(),
	}
	if store != nil {
		cfg.Memory = store
		if c.DryRun {
			cfg.Memory = dryRunMemory{store}
		}
	}

	eng, err := buildEngine(c.Provider, llm.Config{Model: c.Model, BaseURL: c.BaseURL, APIKey: c.APIKey}, cfg)
	if err != nil {
		return err
	}

	rep, err := eng.Run(context.Background(), src.Document(), tgt.Document())
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	rep.Output = out

	// Render once; the file write and the bundle share the bytes.
	var outBuf bytes.Buffer
	if err := tgt.Save(&outBuf); err != nil {
		return fmt.Errorf("render output: %w", err)
	}
	if !c.DryRun {
		if err := os.WriteFile(out, outBuf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}

	if store != nil && !c.DryRun {
		if err := store.SaveReport(context.Background(), rep); err != nil {
			logging.Error("save report to ledger", "error", err)
		}
	}
	if c.Report != "" {
		if err := writeReport(rep, c.Report); err != nil {
			return err
		}
	}
	if c.Bundle != "" {
		b := bundle.Bundle{
			Report: rep,
			Tool:   bundle.ToolInfo{Name: "redline", Version: version},
		}
		if !c.DryRun {
			b.Document = outBuf.Bytes()
			b.DocumentName = filepath.Base(out)
		}
		if err := b.Write(c.Bundle); err != nil {
			return fmt.Errorf("write bundle: %w", err)
		}
	}

	s := rep.Summary
	fmt.Printf("Transferred %d/%d operations (%d skipped, %d failed) in %s\n",
		s.Applied, s.Total, s.Skipped, s.Failed, rep.Duration().Round(time.Millisecond))
	if c.DryRun {
		fmt.Println("Dry run: output not written")
	} else {
		fmt.Printf("Output: %s\n", out)
	}
	if c.Bundle != "" {
		fmt.Printf("Bundle: %s\n", c.Bundle)
	}
	return nil
}

// dryRunMemory reads the ledger but records nothing, so a dry run can
// predict duplicate skips without marking operations as transferred.
type dryRunMemory struct{ engine.Memory }

func (dryRunMemory) MarkTransferred(context.Context, string) error { return nil }

// ExtractCmd prints a document's tracked changes as JSON.
type ExtractCmd struct {
	Path string `arg:"" help:"Document or job bundle to read tracked changes from" type:"existingfile"`
}

func (c *ExtractCmd) Run() error {
	if err := validation.ValidatePath(c.Path); err != nil {
		return fmt.Errorf("invalid input path: %w", err)
	}
	cont, _, err := openDocument(c.Path)
	if err != nil {
		return err
	}
	ops := extract.Changes(cont.Document())
	if ops == nil {
		ops = []extract.Op{}
	}
	data, err := json.MarshalIndent(ops, "", "  ")
	if err != nil {
		return fmt.Errorf("encode operations: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// InspectCmd lists a document's paragraphs with their revision spans.
type InspectCmd struct {
	Path      string `arg:"" help:"Document or job bundle to inspect" type:"existingfile"`
	Revisions bool   `help:"List only paragraphs carrying revisions"`
}

func (c *InspectCmd) Run() error {
	if err := validation.ValidatePath(c.Path); err != nil {
		return fmt.Errorf("invalid input path: %w", err)
	}
	cont, name, err := openDocument(c.Path)
	if err != nil {
		return err
	}
	d := cont.Document()
	fmt.Printf("%s: %d paragraphs, %d tracked changes, max revision id %d\n",
		name, len(d.Paragraphs), len(extract.Changes(d)), d.MaxRevID)
	for _, p := range d.Paragraphs {
		spans := revisionSpans(p)
		if c.Revisions && len(spans) == 0 {
			continue
		}
		fmt.Printf("[%d] %s\n", p.Index, p.VisibleText())
		for _, s := range spans {
			fmt.Printf("    %s #%d %s: %q\n", s.rev.Kind, s.rev.ID, s.rev.Author, s.text)
		}
	}
	return nil
}

// revisionSpan is one revision's contiguous text within a paragraph.
type revisionSpan struct {
	rev  *doc.Revision
	text string
}

func revisionSpans(p *doc.Paragraph) []revisionSpan {
	var spans []revisionSpan
	for _, r := range p.Runs {
		if r.Rev == nil {
			continue
		}
		if n := len(spans); n > 0 && spans[n-1].rev == r.Rev {
			spans[n-1].text += r.Text
			continue
		}
		spans = append(spans, revisionSpan{rev: r.Rev, text: r.Text})
	}
	return spans
}

// ReportCmd renders a stored job report.
type ReportCmd struct {
	JobID  string `arg:"" optional:"" help:"Job id (default: most recent)"`
	Ledger string `help:"Transfer ledger database path" type:"path"`
	Bundle string `help:"Read the report from a job bundle instead" type:"path"`
	Format string `help:"Output format" enum:"json,markdown,html" default:"markdown"`
	List   bool   `help:"List recorded jobs instead of rendering one report"`
}

func (c *ReportCmd) Run() error {
	if c.Bundle != "" {
		if err := bundle.Verify(c.Bundle); err != nil {
			return fmt.Errorf("bundle failed verification: %w", err)
		}
		rep, err := bundle.ReadReport(c.Bundle)
		if err != nil {
			return fmt.Errorf("read bundle: %w", err)
		}
		return c.print(rep)
	}
	if c.Ledger == "" {
		return fmt.Errorf("either --ledger or --bundle is required")
	}
	store, err := ledger.OpenReadOnly(c.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if c.List {
		jobs, err := store.Jobs(ctx)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs recorded")
			return nil
		}
		for _, j := range jobs {
			fmt.Printf("%s  %s -> %s  applied=%d skipped=%d failed=%d  %s\n",
				j.ID, j.Source, j.Target, j.Applied, j.Skipped, j.Failed,
				j.FinishedAt.Format(time.RFC3339))
		}
		return nil
	}

	var rep *report.Report
	if c.JobID == "" {
		rep, err = store.LastReport(ctx)
	} else {
		rep, err = store.LoadReport(ctx, c.JobID)
	}
	if err != nil {
		return err
	}
	return c.print(rep)
}

func (c *ReportCmd) print(rep *report.Report) error {
	data, err := renderReport(rep, c.Format)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	os.Stdout.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

// ServeCmd starts the REST API server.
type ServeCmd struct {
	Port        int    `help:"HTTP server port" default:"8080"`
	Ledger      string `help:"Transfer ledger database path" type:"path"`
	Author      string `help:"Fallback author for jobs that do not name one" default:"redline"`
	Concurrency int    `help:"Concurrent oracle calls per job" default:"4"`
	Provider    string `help:"Semantic oracle provider" enum:"auto,openai,ollama,none" default:"auto"`
	Model       string `help:"Model name override"`
	BaseURL     string `name:"base-url" help:"Provider endpoint override"`
	APIKey      string `name:"api-key" help:"API key for the openai provider" env:"REDLINE_API_KEY"`
	AuthKey     string `name:"auth-key" help:"Require this X-API-Key on non-public endpoints" env:"REDLINE_AUTH_KEY"`
}

func (c *ServeCmd) Run() error {
	oracle := llm.Config{Model: c.Model, BaseURL: c.BaseURL, APIKey: c.APIKey}
	if c.Provider != "auto" {
		oracle.Provider = c.Provider
	}
	cfg := api.Config{
		Port:        c.Port,
		LedgerPath:  c.Ledger,
		Author:      c.Author,
		Concurrency: c.Concurrency,
		Oracle:      oracle,
		Auth:        api.AuthConfig{Enabled: c.AuthKey != "", APIKey: c.AuthKey},
	}
	return api.Start(cfg)
}

// VersionCmd prints the tool version and the compiled ledger driver.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("redline version %s\n", version)
	fmt.Printf("ledger driver: %s (%s)\n", ledger.DriverName(), ledger.DriverType())
	return nil
}

// Helper functions

// buildEngine assembles the engine for one run. Provider "none" skips
// the oracle entirely and leaves the deterministic fallbacks in charge.
func buildEngine(provider string, oc llm.Config, cfg engine.Config) (*engine.Engine, error) {
	if provider == api.ProviderNone {
		return engine.New(nil, nil, cfg), nil
	}
	if provider != "auto" {
		oc.Provider = provider
	}
	p, err := llm.New(oc)
	if err != nil {
		return nil, err
	}
	aligner := align.New(llm.NewOracle(p), align.DefaultConfig())
	translator := translate.WithRetry(llm.NewTranslator(p), retry.DefaultPolicy())
	return engine.New(aligner, translator, cfg), nil
}

// progressPrinter reports phase transitions on stderr so stdout stays
// clean for report output.
func progressPrinter() engine.ProgressFunc {
	var last engine.State
	return func(p engine.Progress) {
		if p.State == last {
			return
		}
		last = p.State
		switch p.State {
		case engine.StateExtracting:
			fmt.Fprintln(os.Stderr, "extracting changes...")
		case engine.StateAligning:
			fmt.Fprintf(os.Stderr, "aligning %d operations...\n", p.Total)
		case engine.StateApplying:
			fmt.Fprintln(os.Stderr, "applying revisions...")
		}
	}
}

func outputName(target string) string {
	ext := filepath.Ext(target)
	return strings.TrimSuffix(target, ext) + "_updated" + ext
}

// openDocument reads a document for inspection, reaching into a job
// bundle for its output document when handed one.
func openDocument(path string) (*docx.Container, string, error) {
	if isBundlePath(path) {
		name, data, err := bundle.Document(path)
		if err != nil {
			return nil, "", fmt.Errorf("read bundle: %w", err)
		}
		cont, err := docx.FromBytes(data)
		if err != nil {
			return nil, "", err
		}
		return cont, name, nil
	}
	cont, err := docx.Open(path)
	if err != nil {
		return nil, "", err
	}
	return cont, filepath.Base(path), nil
}

func isBundlePath(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range []string{".tar.xz", ".tar.gz", ".tgz", ".tar"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func renderReport(rep *report.Report, format string) ([]byte, error) {
	switch format {
	case "json":
		return rep.JSON()
	case "html":
		return rep.HTML()
	default:
		return []byte(rep.Markdown()), nil
	}
}

// writeReport picks the report format from the path extension; anything
// unrecognized gets JSON.
func writeReport(rep *report.Report, path string) error {
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		format = "markdown"
	case ".html", ".htm":
		format = "html"
	}
	data, err := renderReport(rep, format)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		logging.Warn(".env file not loaded", "error", err)
	} else {
		logging.Info("environment loaded from .env")
	}
	logging.SetupFromEnv()
	ctx := kong.Parse(&CLI,
		kong.Name("redline"),
		kong.Description("Redline - tracked-change transfer between translated documents"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	logging.InitLogger(logging.ParseLevel(CLI.LogLevel), logging.ParseFormat(CLI.LogFormat))
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
