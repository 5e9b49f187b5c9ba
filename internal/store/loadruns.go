package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/lox/aviationstats/internal/dataset"
)

// LoadRun is one attempt to load a dataset source.
type LoadRun struct {
	ID              int64          `json:"id"`
	SnapshotID      string         `json:"snapshot_id,omitempty"`
	Source          string         `json:"source"`
	Location        string         `json:"location"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	RowsRead        int            `json:"rows_read"`
	RowsLoaded      int            `json:"rows_loaded"`
	RowsSkipped     int            `json:"rows_skipped"`
	MalformedFields int            `json:"malformed_fields"`
	Fingerprint     string         `json:"fingerprint,omitempty"`
	Success         bool           `json:"success"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Skips           map[string]int `json:"skips,omitempty"`
}

// RecordLoad stores the outcome of loading src. diag is nil when the
// source could not be read at all.
func (s *Store) RecordLoad(snapshotID string, src dataset.Source, diag *dataset.Diagnostics, loadErr error) error {
	run := LoadRun{
		SnapshotID: snapshotID,
		Source:     string(src.Kind),
		Location:   src.Location,
		StartedAt:  time.Now().UTC(),
		Success:    loadErr == nil,
	}
	if diag != nil {
		if !diag.StartedAt.IsZero() {
			run.StartedAt = diag.StartedAt.UTC()
		}
		if !diag.FinishedAt.IsZero() {
			t := diag.FinishedAt.UTC()
			run.FinishedAt = &t
		}
		run.RowsRead = diag.RowsRead
		run.RowsLoaded = diag.RowsLoaded
		run.RowsSkipped = diag.RowsSkipped()
		run.MalformedFields = diag.MalformedFields()
		run.Fingerprint = diag.Fingerprint
		run.Skips = diag.Skipped
	}
	if loadErr != nil {
		run.ErrorMessage = loadErr.Error()
	}
	_, err := s.InsertLoadRun(run)
	return err
}

// InsertLoadRun writes run and its skip tallies in one transaction.
func (s *Store) InsertLoadRun(run LoadRun) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var finished sql.NullTime
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: *run.FinishedAt, Valid: true}
	}
	result, err := tx.Exec(`
		INSERT INTO load_runs (snapshot_id, source, location, started_at, finished_at,
			rows_read, rows_loaded, rows_skipped, malformed_fields, fingerprint, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullString(run.SnapshotID), run.Source, run.Location, run.StartedAt, finished,
		run.RowsRead, run.RowsLoaded, run.RowsSkipped, run.MalformedFields,
		nullString(run.Fingerprint), run.Success, nullString(run.ErrorMessage))
	if err != nil {
		return 0, fmt.Errorf("insert load run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	reasons := make([]string, 0, len(run.Skips))
	for r := range run.Skips {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		if _, err := tx.Exec(
			"INSERT INTO load_run_skips (run_id, reason, count) VALUES (?, ?, ?)",
			id, reason, run.Skips[reason],
		); err != nil {
			return 0, fmt.Errorf("insert skip %s: %w", reason, err)
		}
	}
	return id, tx.Commit()
}

// ListLoadRuns returns the most recent runs, newest first.
func (s *Store) ListLoadRuns(limit int) ([]LoadRun, error) {
	rows, err := s.db.Query(`
		SELECT id, snapshot_id, source, location, started_at, finished_at,
			   rows_read, rows_loaded, rows_skipped, malformed_fields,
			   fingerprint, success, error_message
		FROM load_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []LoadRun{}
	for rows.Next() {
		var r LoadRun
		var snapshotID, fingerprint, errMsg sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &snapshotID, &r.Source, &r.Location, &r.StartedAt, &finished,
			&r.RowsRead, &r.RowsLoaded, &r.RowsSkipped, &r.MalformedFields,
			&fingerprint, &r.Success, &errMsg); err != nil {
			return nil, err
		}
		r.SnapshotID = snapshotID.String
		r.Fingerprint = fingerprint.String
		r.ErrorMessage = errMsg.String
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		skips, err := s.loadRunSkips(runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Skips = skips
	}
	return runs, nil
}

func (s *Store) loadRunSkips(runID int64) (map[string]int, error) {
	rows, err := s.db.Query("SELECT reason, count FROM load_run_skips WHERE run_id = ?", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var skips map[string]int
	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		if skips == nil {
			skips = make(map[string]int)
		}
		skips[reason] = count
	}
	return skips, rows.Err()
}

// LoadHealthSummary is a daily roll-up of load runs for one source.
type LoadHealthSummary struct {
	Date           string `json:"date"`
	Source         string `json:"source"`
	TotalRuns      int    `json:"total_runs"`
	SuccessRuns    int    `json:"success_runs"`
	FailedRuns     int    `json:"failed_runs"`
	RowsLoaded     int64  `json:"rows_loaded"`
	RowsSkipped    int64  `json:"rows_skipped"`
	MalformedTotal int64  `json:"malformed_fields"`
}

// GetLoadHealth summarises load runs from the last N days.
func (s *Store) GetLoadHealth(days int) ([]LoadHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			source,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			COALESCE(SUM(rows_loaded), 0) as rows_loaded,
			COALESCE(SUM(rows_skipped), 0) as rows_skipped,
			COALESCE(SUM(malformed_fields), 0) as malformed_fields
		FROM load_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, source
		ORDER BY date DESC, source
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LoadHealthSummary
	for rows.Next() {
		var h LoadHealthSummary
		if err := rows.Scan(&h.Date, &h.Source, &h.TotalRuns, &h.SuccessRuns, &h.FailedRuns,
			&h.RowsLoaded, &h.RowsSkipped, &h.MalformedTotal); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
