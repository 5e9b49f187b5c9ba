package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/aviationstats/internal/dataset"
	"github.com/lox/aviationstats/internal/models"
	"github.com/lox/aviationstats/internal/predict"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Each :memory: connection is its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	v, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("version = %d, want %d", v, len(migrations))
	}
}

func TestRecordLoadSuccess(t *testing.T) {
	store := setupTestStore(t)

	started := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	diag := &dataset.Diagnostics{
		Kind:        models.SourceNTSB,
		Location:    "data/ntsb.csv",
		RowsRead:    10,
		RowsLoaded:  7,
		Skipped:     map[string]int{dataset.SkipBadDate: 2, dataset.SkipMalformedRow: 1},
		Malformed:   map[string]int{"total_fatal_injuries": 4},
		Fingerprint: "abc123",
		StartedAt:   started,
		FinishedAt:  started.Add(2 * time.Second),
	}
	src := dataset.Source{Kind: models.SourceNTSB, Location: "data/ntsb.csv"}
	if err := store.RecordLoad("snap-1", src, diag, nil); err != nil {
		t.Fatalf("RecordLoad: %v", err)
	}

	runs, err := store.ListLoadRuns(10)
	if err != nil {
		t.Fatalf("ListLoadRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	r := runs[0]
	if r.SnapshotID != "snap-1" || r.Source != "ntsb" || r.Location != "data/ntsb.csv" {
		t.Errorf("identity = %q %q %q", r.SnapshotID, r.Source, r.Location)
	}
	if r.RowsRead != 10 || r.RowsLoaded != 7 || r.RowsSkipped != 3 || r.MalformedFields != 4 {
		t.Errorf("counts = %d/%d/%d/%d", r.RowsRead, r.RowsLoaded, r.RowsSkipped, r.MalformedFields)
	}
	if !r.Success || r.ErrorMessage != "" {
		t.Errorf("success = %v, error = %q", r.Success, r.ErrorMessage)
	}
	if r.Fingerprint != "abc123" {
		t.Errorf("Fingerprint = %q", r.Fingerprint)
	}
	if !r.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", r.StartedAt, started)
	}
	if r.FinishedAt == nil || !r.FinishedAt.Equal(started.Add(2*time.Second)) {
		t.Errorf("FinishedAt = %v", r.FinishedAt)
	}
	if r.Skips[dataset.SkipBadDate] != 2 || r.Skips[dataset.SkipMalformedRow] != 1 {
		t.Errorf("Skips = %v", r.Skips)
	}
}

func TestRecordLoadFailure(t *testing.T) {
	store := setupTestStore(t)

	src := dataset.Source{Kind: models.SourceAirlineAccidents, Location: "missing.csv"}
	if err := store.RecordLoad("", src, nil, errors.New("open missing.csv: no such file")); err != nil {
		t.Fatalf("RecordLoad: %v", err)
	}

	runs, err := store.ListLoadRuns(10)
	if err != nil {
		t.Fatalf("ListLoadRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].Success {
		t.Error("expected failed run")
	}
	if runs[0].ErrorMessage != "open missing.csv: no such file" {
		t.Errorf("ErrorMessage = %q", runs[0].ErrorMessage)
	}
	if runs[0].SnapshotID != "" || runs[0].FinishedAt != nil || runs[0].Skips != nil {
		t.Errorf("unexpected fields on failed run: %+v", runs[0])
	}
}

func TestListLoadRunsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if _, err := store.InsertLoadRun(LoadRun{
			Source:    "ntsb",
			Location:  "n.csv",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Success:   true,
		}); err != nil {
			t.Fatalf("InsertLoadRun: %v", err)
		}
	}

	runs, err := store.ListLoadRuns(3)
	if err != nil {
		t.Fatalf("ListLoadRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("len(runs) = %d, want 3", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if !runs[i-1].StartedAt.After(runs[i].StartedAt) {
			t.Errorf("runs not newest first at %d", i)
		}
	}
}

func TestGetLoadHealth(t *testing.T) {
	store := setupTestStore(t)
	now := time.Now().UTC()
	for _, ok := range []bool{true, true, false} {
		run := LoadRun{Source: "airline_accidents", Location: "a.csv", StartedAt: now, Success: ok, RowsLoaded: 10, RowsSkipped: 1}
		if _, err := store.InsertLoadRun(run); err != nil {
			t.Fatalf("InsertLoadRun: %v", err)
		}
	}

	health, err := store.GetLoadHealth(7)
	if err != nil {
		t.Fatalf("GetLoadHealth: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("len(health) = %d, want 1", len(health))
	}
	h := health[0]
	if h.TotalRuns != 3 || h.SuccessRuns != 2 || h.FailedRuns != 1 {
		t.Errorf("runs = %d/%d/%d", h.TotalRuns, h.SuccessRuns, h.FailedRuns)
	}
	if h.RowsLoaded != 30 || h.RowsSkipped != 3 {
		t.Errorf("rows = %d/%d", h.RowsLoaded, h.RowsSkipped)
	}
}

func TestPredictionLog(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	entries := []predict.LogEntry{
		{RequestedAt: at, Model: "placeholder", Airline: "Qantas", AircraftType: "A330", RiskScore: 20, SeverityScore: 2, Confidence: 50},
		{RequestedAt: at.Add(time.Minute), Model: "placeholder", Airline: "Jetstar", AircraftType: "A320", RiskScore: 40, SeverityScore: 4, Confidence: 50},
		{RequestedAt: at.Add(2 * time.Minute), Model: "linear_regression", Airline: "Virgin", AircraftType: "B738", RiskScore: 70, SeverityScore: 7, Confidence: 71.5},
	}
	for _, e := range entries {
		if err := store.LogPrediction(ctx, e); err != nil {
			t.Fatalf("LogPrediction: %v", err)
		}
	}

	usage, err := store.PredictionUsage(at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PredictionUsage: %v", err)
	}
	if len(usage) != 2 {
		t.Fatalf("len(usage) = %d, want 2", len(usage))
	}
	if usage[0].Model != "linear_regression" || usage[0].Predictions != 1 {
		t.Errorf("usage[0] = %+v", usage[0])
	}
	if usage[1].Model != "placeholder" || usage[1].Predictions != 2 || usage[1].MeanRiskScore != 30 {
		t.Errorf("usage[1] = %+v", usage[1])
	}
	if !usage[1].LastAt.Equal(at.Add(time.Minute)) {
		t.Errorf("LastAt = %v, want %v", usage[1].LastAt, at.Add(time.Minute))
	}

	later, err := store.PredictionUsage(at.Add(time.Hour))
	if err != nil {
		t.Fatalf("PredictionUsage: %v", err)
	}
	if len(later) != 0 {
		t.Errorf("expected no usage after the last entry, got %+v", later)
	}
}

func TestStoreSatisfiesInterfaces(t *testing.T) {
	var _ predict.PredictionLogger = (*Store)(nil)
}
