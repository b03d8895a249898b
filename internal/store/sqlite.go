// Package store persists reconciliation records in SQLite so that discrepancies
// can be listed by day and moved through investigation to resolution.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"commerce-reconciliation-service/internal/models"
	"commerce-reconciliation-service/internal/reconciler"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

const dateLayout = "2006-01-02"

// ErrNotFound is returned when no record has the requested id
var ErrNotFound = fmt.Errorf("record not found")

// StoredRecord is a persisted reconciliation record with its review state
type StoredRecord struct {
	Record         *models.ReconciliationRecord `json:"record"`
	RunID          string                       `json:"run_id"`
	Status         models.ReconciliationStatus  `json:"status"`
	ResolutionNote string                       `json:"resolution_note,omitempty"`
	CreatedAt      time.Time                    `json:"created_at"`
	UpdatedAt      time.Time                    `json:"updated_at"`
	ResolvedAt     *time.Time                   `json:"resolved_at,omitempty"`
}

// SQLiteStore keeps one row per record id. Re-running a day overwrites the
// computed figures but keeps a manual review status.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

// Open opens (or creates) a SQLite database at dsn and ensures the schema
// exists. Pass ":memory:" for an in-memory database.
func Open(dsn string, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// a second connection to ":memory:" would see an empty database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: log.WithComponent("store"),
		now:    time.Now,
	}, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reconciliation_records (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			perspective TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			timezone TEXT NOT NULL,
			expected_amount TEXT NOT NULL,
			actual_amount TEXT NOT NULL,
			variance TEXT NOT NULL,
			status TEXT NOT NULL,
			partial INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			resolution_note TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			resolved_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_dates ON reconciliation_records(start_date, end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_records_status ON reconciliation_records(status)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Publish saves every record of the report. It implements reconciler.Sink.
func (s *SQLiteStore) Publish(ctx context.Context, report *reconciler.Report) error {
	if report == nil {
		return errors.InternalError("store_publish", fmt.Errorf("report cannot be nil"))
	}
	n, err := s.SaveRecords(ctx, report.RunID, report.Records)
	if err != nil {
		return errors.InternalError("store_publish", err)
	}
	s.logger.WithFields(logger.Fields{
		logger.FieldRunID: report.RunID,
		"records":         n,
	}).Info("Records stored")
	return nil
}

// SaveRecords upserts records in one transaction and returns how many rows were written
func (s *SQLiteStore) SaveRecords(ctx context.Context, runID string, records []*models.ReconciliationRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reconciliation_records
		(id, run_id, perspective, start_date, end_date, timezone, expected_amount,
		 actual_amount, variance, status, partial, payload, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			expected_amount = excluded.expected_amount,
			actual_amount = excluded.actual_amount,
			variance = excluded.variance,
			partial = excluded.partial,
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			status = CASE
				WHEN reconciliation_records.status IN ('investigating', 'resolved')
				THEN reconciliation_records.status
				ELSE excluded.status
			END`,
	)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC().Format(time.RFC3339)
	written := 0
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return written, fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
		partial := 0
		if rec.Partial {
			partial = 1
		}
		res, err := stmt.ExecContext(ctx,
			rec.ID, runID, string(rec.PerspectiveName),
			rec.DateRange.Start.Format(dateLayout), rec.DateRange.End.Format(dateLayout),
			timezoneOf(rec.DateRange),
			rec.ExpectedAmount.String(), rec.ActualAmount.String(), rec.Variance.String(),
			string(rec.Status), partial, string(payload), now, now,
		)
		if err != nil {
			return written, fmt.Errorf("upsert %s: %w", rec.ID, err)
		}
		ra, _ := res.RowsAffected()
		written += int(ra)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

const selectRecords = `SELECT payload, run_id, status, resolution_note, created_at, updated_at, resolved_at
	FROM reconciliation_records`

// Get returns the record with id
func (s *SQLiteStore) Get(ctx context.Context, id string) (*StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRecords+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return records[0], nil
}

// ListByDate returns the records whose date range covers day (YYYY-MM-DD),
// ordered by range start then perspective.
func (s *SQLiteStore) ListByDate(ctx context.Context, day string) ([]*StoredRecord, error) {
	if _, err := time.Parse(dateLayout, day); err != nil {
		return nil, fmt.Errorf("invalid date '%s': %w", day, err)
	}

	rows, err := s.db.QueryContext(ctx,
		selectRecords+" WHERE start_date <= ? AND end_date >= ? ORDER BY start_date, end_date, perspective",
		day, day,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListOpen returns records still awaiting review, oldest range first
func (s *SQLiteStore) ListOpen(ctx context.Context) ([]*StoredRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectRecords+" WHERE status IN ('discrepancy', 'investigating') ORDER BY start_date, end_date, perspective",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// MarkInvestigating moves a discrepancy under investigation
func (s *SQLiteStore) MarkInvestigating(ctx context.Context, id string) (*StoredRecord, error) {
	return s.transition(ctx, id, models.StatusInvestigating, "")
}

// MarkResolved closes a discrepancy with an optional note
func (s *SQLiteStore) MarkResolved(ctx context.Context, id, note string) (*StoredRecord, error) {
	return s.transition(ctx, id, models.StatusResolved, note)
}

func (s *SQLiteStore) transition(ctx context.Context, id string, next models.ReconciliationStatus, note string) (*StoredRecord, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("record %s cannot move from %s to %s", id, current.Status, next)
	}

	now := s.now().UTC()
	var resolvedAt interface{}
	if next == models.StatusResolved {
		resolvedAt = now.Format(time.RFC3339)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reconciliation_records
		SET status = ?, resolution_note = ?, updated_at = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(next), note, now.Format(time.RFC3339), resolvedAt, id, string(current.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	if ra, _ := res.RowsAffected(); ra == 0 {
		return nil, fmt.Errorf("record %s changed concurrently", id)
	}

	s.logger.WithFields(logger.Fields{
		logger.FieldRecordID: id,
		"from":               current.Status,
		"to":                 next,
	}).Info("Record status changed")

	return s.Get(ctx, id)
}

func scanRecords(rows *sql.Rows) ([]*StoredRecord, error) {
	var out []*StoredRecord
	for rows.Next() {
		var (
			payload, runID, status, note, created, updated string
			resolved                                       sql.NullString
		)
		if err := rows.Scan(&payload, &runID, &status, &note, &created, &updated, &resolved); err != nil {
			return nil, err
		}

		rec := &models.ReconciliationRecord{}
		if err := json.Unmarshal([]byte(payload), rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		rec.Status = models.ReconciliationStatus(status)

		sr := &StoredRecord{
			Record:         rec,
			RunID:          runID,
			Status:         rec.Status,
			ResolutionNote: note,
		}
		var err error
		if sr.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if sr.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		if resolved.Valid {
			t, err := parseTime(resolved.String)
			if err != nil {
				return nil, err
			}
			sr.ResolvedAt = &t
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func timezoneOf(r models.DateRange) string {
	if r.Location == nil {
		return "UTC"
	}
	return r.Location.String()
}
