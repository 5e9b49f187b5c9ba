// Package predict exposes a fixed prediction contract over whichever
// model is loaded.
package predict

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/lox/aviationstats/internal/metrics"
	"github.com/lox/aviationstats/internal/recordstore"
)

const (
	messageTrained     = "Prediction generated successfully"
	messagePlaceholder = "Placeholder prediction: no trained model is loaded, values are fixed filler. Run the training script to enable real predictions."
)

type Prediction struct {
	RiskScore       float64 `json:"risk_score"`
	DelayPrediction float64 `json:"delay_prediction"`
	Confidence      float64 `json:"confidence"`
	SeverityClass   string  `json:"severity_class"`
	SeverityScore   float64 `json:"severity_score"`
	RiskLevel       string  `json:"risk_level"`
	Model           string  `json:"model"`
}

type Response struct {
	Message    string     `json:"message"`
	Input      Request    `json:"input"`
	Prediction Prediction `json:"prediction"`
}

// LogEntry is one served prediction.
type LogEntry struct {
	RequestedAt   time.Time
	Model         string
	Airline       string
	AircraftType  string
	RiskScore     float64
	SeverityScore float64
	Confidence    float64
}

type PredictionLogger interface {
	LogPrediction(ctx context.Context, e LogEntry) error
}

type Service struct {
	registry *Registry
	logger   PredictionLogger
	now      func() time.Time
}

func NewService(registry *Registry) *Service {
	return &Service{registry: registry, now: time.Now}
}

// SetLogger records every prediction served by Predict. Failures to log
// are reported but never fail the request.
func (s *Service) SetLogger(l PredictionLogger) {
	s.logger = l
}

// Predict validates req, runs the primary model and logs the result.
func (s *Service) Predict(ctx context.Context, snap *recordstore.Snapshot, req Request) (Response, error) {
	resp, err := s.Estimate(snap, req)
	if err != nil {
		return Response{}, err
	}
	if s.logger != nil {
		entry := LogEntry{
			RequestedAt:   s.now().UTC(),
			Model:         resp.Prediction.Model,
			Airline:       resp.Input.Airline,
			AircraftType:  resp.Input.AircraftType,
			RiskScore:     resp.Prediction.RiskScore,
			SeverityScore: resp.Prediction.SeverityScore,
			Confidence:    resp.Prediction.Confidence,
		}
		if err := s.logger.LogPrediction(ctx, entry); err != nil {
			log.Printf("predict: log prediction: %v", err)
		}
	}
	return resp, nil
}

// Estimate is Predict without the prediction log.
func (s *Service) Estimate(snap *recordstore.Snapshot, req Request) (Response, error) {
	req, in, err := req.normalize()
	if err != nil {
		return Response{}, err
	}

	m := s.registry.For(snap)
	est, err := m.Primary.Predict(m.Encoder.Input(in))
	if err != nil {
		return Response{}, fmt.Errorf("predict with %s: %w", m.Primary.Name(), err)
	}
	metrics.Predictions.WithLabelValues(m.Primary.Name()).Inc()

	msg := messageTrained
	if !m.Primary.Trained() {
		msg = messagePlaceholder
	}
	return Response{Message: msg, Input: req, Prediction: derive(est, m.Primary.Name())}, nil
}

// derive turns a raw estimate into the published fields.
func derive(est Estimate, model string) Prediction {
	score := math.Max(0, est.SeverityScore)
	return Prediction{
		RiskScore:       round2(math.Min(100, score*10)),
		DelayPrediction: round2(score * 5),
		Confidence:      round2(clamp(est.Confidence, 0, 100)),
		SeverityClass:   SeverityClass(score),
		SeverityScore:   round2(score),
		RiskLevel:       RiskLevel(score),
		Model:           model,
	}
}

func RiskLevel(score float64) string {
	switch {
	case score > 10:
		return "High"
	case score > 5:
		return "Medium"
	default:
		return "Low"
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
