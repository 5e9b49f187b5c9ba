package store

import (
	"context"
	"time"

	"github.com/lox/aviationstats/internal/predict"
)

func (s *Store) LogPrediction(ctx context.Context, e predict.LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prediction_log (requested_at, model, airline, aircraft_type, risk_score, severity_score, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.RequestedAt.UTC(), e.Model, e.Airline, e.AircraftType, e.RiskScore, e.SeverityScore, e.Confidence)
	return err
}

// ModelUsage counts logged predictions per model.
type ModelUsage struct {
	Model         string    `json:"model"`
	Predictions   int       `json:"predictions"`
	MeanRiskScore float64   `json:"mean_risk_score"`
	LastAt        time.Time `json:"last_at"`
}

// PredictionUsage summarises the prediction log since the given time.
func (s *Store) PredictionUsage(since time.Time) ([]ModelUsage, error) {
	rows, err := s.db.Query(`
		SELECT model, COUNT(*), AVG(risk_score), MAX(requested_at)
		FROM prediction_log
		WHERE requested_at >= ?
		GROUP BY model
		ORDER BY model
	`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usage []ModelUsage
	for rows.Next() {
		var u ModelUsage
		var last string
		if err := rows.Scan(&u.Model, &u.Predictions, &u.MeanRiskScore, &last); err != nil {
			return nil, err
		}
		u.LastAt = parseSQLiteTime(last)
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// parseSQLiteTime reads the text form of an aggregated DATETIME, which
// loses its column type and comes back as a string.
func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
