// Package ledger persists transfer outcomes in SQLite: one row per job
// with the full report, one row per operation for SQL-side inspection,
// and a fingerprint table that makes re-runs idempotent.
//
// Build modes:
//   - default: pure Go driver (modernc.org/sqlite)
//   - -tags cgo_sqlite with CGO_ENABLED=1: mattn/go-sqlite3
//
// Use Open instead of sql.Open so the right driver is selected.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/crosslation/redline/core/errors"
	"github.com/crosslation/redline/core/report"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	target      TEXT NOT NULL,
	output      TEXT NOT NULL DEFAULT '',
	source_lang TEXT NOT NULL DEFAULT '',
	target_lang TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	total       INTEGER NOT NULL,
	applied     INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	report      BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS operations (
	job_id           TEXT NOT NULL,
	idx              INTEGER NOT NULL,
	kind             TEXT NOT NULL,
	source_paragraph INTEGER NOT NULL,
	target_paragraph INTEGER NOT NULL,
	span_offset      INTEGER NOT NULL,
	span_length      INTEGER NOT NULL,
	text             TEXT NOT NULL,
	translated       TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	reason           TEXT NOT NULL DEFAULT '',
	fallback         INTEGER NOT NULL DEFAULT 0,
	confidence       REAL NOT NULL DEFAULT 0,
	revision_id      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (job_id, idx)
);
CREATE TABLE IF NOT EXISTS transfers (
	fingerprint TEXT PRIMARY KEY,
	recorded_at TEXT NOT NULL
);
`

// DriverName returns the database/sql driver name in use.
func DriverName() string {
	return driverName
}

// DriverType identifies the underlying implementation: "purego" for
// modernc.org/sqlite, "cgo" for mattn/go-sqlite3.
func DriverType() string {
	return driverType
}

// Store is an open ledger database. It satisfies the engine's transfer
// memory and keeps the audit trail the report command renders from.
type Store struct {
	db *sql.DB
}

// Open opens the ledger at path, creating the schema when missing.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.NewValidation("path", "ledger path is empty")
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.NewIO("initialize", path, err)
	}
	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing ledger without touching the schema.
func OpenReadOnly(path string) (*Store, error) {
	if path == "" {
		return nil, errors.NewValidation("path", "ledger path is empty")
	}
	db, err := sql.Open(driverName, path+"?mode=ro")
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Transferred reports whether a fingerprint was recorded by any earlier
// run.
func (s *Store) Transferred(ctx context.Context, fingerprint string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM transfers WHERE fingerprint = ?`, fingerprint).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "ledger lookup")
	}
	return true, nil
}

// MarkTransferred records a fingerprint. Recording the same fingerprint
// twice is not an error.
func (s *Store) MarkTransferred(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO transfers (fingerprint, recorded_at) VALUES (?, ?)`,
		fingerprint, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, "ledger update")
	}
	return nil
}

// SaveReport stores the job row and its operation rows. Saving the same
// job id again replaces the previous record.
func (s *Store) SaveReport(ctx context.Context, rep *report.Report) error {
	blob, err := json.Marshal(rep)
	if err != nil {
		return errors.Wrap(err, "encode report")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "ledger transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO jobs
		(id, source, target, output, source_lang, target_lang,
		 started_at, finished_at, total, applied, skipped, failed, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.JobID, rep.Source, rep.Target, rep.Output,
		rep.SourceLang, rep.TargetLang,
		rep.StartedAt.UTC().Format(time.RFC3339Nano),
		rep.FinishedAt.UTC().Format(time.RFC3339Nano),
		rep.Summary.Total, rep.Summary.Applied, rep.Summary.Skipped,
		rep.Summary.Failed, blob)
	if err != nil {
		return errors.Wrap(err, "save job")
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM operations WHERE job_id = ?`, rep.JobID); err != nil {
		return errors.Wrap(err, "save job")
	}
	for _, op := range rep.Operations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO operations
			(job_id, idx, kind, source_paragraph, target_paragraph,
			 span_offset, span_length, text, translated, status, reason,
			 fallback, confidence, revision_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rep.JobID, op.Index, op.Kind, op.SourceParagraph,
			op.TargetParagraph, op.Offset, op.Length, op.Text,
			op.Translated, string(op.Status), op.Reason,
			op.Fallback, op.Confidence, op.RevisionID)
		if err != nil {
			return errors.Wrapf(err, "save operation %d", op.Index)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "ledger transaction")
	}
	return nil
}

// LoadReport returns the stored report for a job id.
func (s *Store) LoadReport(ctx context.Context, jobID string) (*report.Report, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM jobs WHERE id = ?`, jobID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("job", jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "ledger lookup")
	}
	return decodeReport(blob)
}

// LastReport returns the most recently started job's report.
func (s *Store) LastReport(ctx context.Context) (*report.Report, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM jobs ORDER BY started_at DESC, id DESC LIMIT 1`).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("job", "latest")
	}
	if err != nil {
		return nil, errors.Wrap(err, "ledger lookup")
	}
	return decodeReport(blob)
}

func decodeReport(blob []byte) (*report.Report, error) {
	var rep report.Report
	if err := json.Unmarshal(blob, &rep); err != nil {
		return nil, errors.Wrap(err, "decode report")
	}
	return &rep, nil
}

// JobSummary is one row of the job listing.
type JobSummary struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Applied    int       `json:"applied"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
}

// Jobs lists stored jobs, most recent first.
func (s *Store) Jobs(ctx context.Context) ([]JobSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, target, started_at, finished_at,
		       applied, skipped, failed
		FROM jobs ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "ledger lookup")
	}
	defer rows.Close()

	var jobs []JobSummary
	for rows.Next() {
		var j JobSummary
		var started, finished string
		if err := rows.Scan(&j.ID, &j.Source, &j.Target, &started,
			&finished, &j.Applied, &j.Skipped, &j.Failed); err != nil {
			return nil, errors.Wrap(err, "ledger lookup")
		}
		j.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		j.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "ledger lookup")
	}
	return jobs, nil
}
