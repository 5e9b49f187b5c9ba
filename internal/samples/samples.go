// Package samples serves per-category feature rows with actual and
// predicted severity scores, for model transparency.
package samples

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/lox/aviationstats/internal/apperr"
	"github.com/lox/aviationstats/internal/features"
	"github.com/lox/aviationstats/internal/models"
	"github.com/lox/aviationstats/internal/predict"
	"github.com/lox/aviationstats/internal/recordstore"
)

const (
	DefaultPerCategory = 5
	MaxPerCategory     = 50

	// Fatal categories above this count are outliers the training data
	// drops, so they are not sampled either.
	maxSampledFatalities = 17
)

type Sample struct {
	Index           int                `json:"index"`
	Features        map[string]float64 `json:"features"`
	Actual          float64            `json:"actual"`
	PredictedLinear float64            `json:"predicted_linear"`
	PredictedRF     float64            `json:"predicted_rf"`
}

// CategorySummary averages the samples drawn for one category.
type CategorySummary struct {
	Count               int     `json:"count"`
	MeanActual          float64 `json:"mean_actual"`
	MeanPredictedLinear float64 `json:"mean_predicted_linear"`
	MeanPredictedRF     float64 `json:"mean_predicted_rf"`
}

type Result struct {
	FeatureNames []string                   `json:"feature_names"`
	LabelCounts  map[string]int             `json:"label_counts"` // distinct labels per encoded feature
	Categories   map[string][]Sample        `json:"categories"`
	Summary      map[string]CategorySummary `json:"summary"`
}

// ParsePerCategory reads ?n=, defaulting to DefaultPerCategory and
// clamping to MaxPerCategory.
func ParsePerCategory(v url.Values) (int, error) {
	s := strings.TrimSpace(v.Get("n"))
	if s == "" {
		return DefaultPerCategory, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperr.Invalid("n", "%q is not an integer", s)
	}
	if n <= 0 {
		return 0, apperr.Invalid("n", "must be positive, got %d", n)
	}
	return min(n, MaxPerCategory), nil
}

// Sampled reports whether records of severity s are eligible.
func Sampled(s models.Severity) bool {
	switch s.Kind {
	case models.SeverityNonFatal, models.SeverityIncident:
		return true
	case models.SeverityFatal:
		return s.Fatalities <= maxSampledFatalities
	}
	return false
}

// ByCategory draws the first n records of every eligible severity in
// load order, so repeated calls on one snapshot return identical rows.
func ByCategory(snap *recordstore.Snapshot, m *predict.Models, n int) (*Result, error) {
	if n <= 0 {
		return nil, apperr.Invalid("n", "must be positive, got %d", n)
	}
	res := &Result{
		FeatureNames: features.NameList(),
		LabelCounts:  m.Encoder.Size(),
		Categories:   map[string][]Sample{},
		Summary:      map[string]CategorySummary{},
	}

	for category, positions := range snap.IndexBy(recordstore.BySeverity) {
		if len(positions) == 0 || !Sampled(snap.At(positions[0]).InjurySeverity) {
			continue
		}
		positions = positions[:min(n, len(positions))]
		rows := make([]Sample, 0, len(positions))
		for _, i := range positions {
			r := snap.At(i)
			v := m.Encoder.Record(r)
			linear, err := m.Linear.Predict(v)
			if err != nil {
				return nil, fmt.Errorf("samples: %s: %w", m.Linear.Name(), err)
			}
			rf, err := m.Ensemble.Predict(v)
			if err != nil {
				return nil, fmt.Errorf("samples: %s: %w", m.Ensemble.Name(), err)
			}
			rows = append(rows, Sample{
				Index:           i,
				Features:        v.Map(),
				Actual:          float64(r.SeverityScore()),
				PredictedLinear: round2(linear.SeverityScore),
				PredictedRF:     round2(rf.SeverityScore),
			})
		}
		res.Categories[category] = rows
		res.Summary[category] = summarize(rows)
	}
	return res, nil
}

func summarize(rows []Sample) CategorySummary {
	actual := make([]float64, len(rows))
	linear := make([]float64, len(rows))
	rf := make([]float64, len(rows))
	for i, s := range rows {
		actual[i] = s.Actual
		linear[i] = s.PredictedLinear
		rf[i] = s.PredictedRF
	}
	return CategorySummary{
		Count:               len(rows),
		MeanActual:          round2(stat.Mean(actual, nil)),
		MeanPredictedLinear: round2(stat.Mean(linear, nil)),
		MeanPredictedRF:     round2(stat.Mean(rf, nil)),
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
