package predict

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lox/aviationstats/internal/aggregate"
	"github.com/lox/aviationstats/internal/features"
	"github.com/lox/aviationstats/internal/recordstore"
)

// Estimate is what a model infers for one feature vector.
type Estimate struct {
	SeverityScore float64
	Confidence    float64 // 0..100
}

// Model is any estimator of the severity score. The HTTP contract does
// not change with the implementation behind it.
type Model interface {
	Name() string
	Trained() bool
	Predict(v features.Vector) (Estimate, error)
}

// NullModel is the placeholder used until a trained model is available.
// It returns the same filler estimate for every input.
type NullModel struct{}

const (
	nullScore      = 2.5
	nullConfidence = 50
)

func (NullModel) Name() string  { return "placeholder" }
func (NullModel) Trained() bool { return false }

func (NullModel) Predict(features.Vector) (Estimate, error) {
	return Estimate{SeverityScore: nullScore, Confidence: nullConfidence}, nil
}

const linearModelFile = "linear_model.json"

// LinearModel is an ordinary least squares regressor exported by the
// training script.
type LinearModel struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	FeatureNames []string  `json:"feature_names"`
	RMSE         float64   `json:"rmse"`
}

// LoadLinearModel reads <dir>/linear_model.json. A missing file returns
// os.ErrNotExist.
func LoadLinearModel(dir string) (*LinearModel, error) {
	path := filepath.Join(dir, linearModelFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m LinearModel
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(m.Coefficients) != features.Len {
		return nil, fmt.Errorf("%s: expected %d coefficients, got %d", path, features.Len, len(m.Coefficients))
	}
	if m.FeatureNames != nil {
		for i, name := range m.FeatureNames {
			if i >= features.Len || name != features.Names[i] {
				return nil, fmt.Errorf("%s: feature %d is %q, want %q", path, i, name, features.Names[min(i, features.Len-1)])
			}
		}
	}
	return &m, nil
}

func (m *LinearModel) Name() string  { return "linear_regression" }
func (m *LinearModel) Trained() bool { return true }

func (m *LinearModel) Predict(v features.Vector) (Estimate, error) {
	score := m.Intercept + floats.Dot(m.Coefficients, v[:])
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return Estimate{}, errors.New("linear model produced a non-finite score")
	}
	return Estimate{
		SeverityScore: math.Max(0, score),
		Confidence:    clamp(100-10*m.RMSE, 0, 100),
	}, nil
}

// BaselineModel predicts the mean severity score of loaded records that
// share the request's weather and phase, falling back to weather only and
// then to the overall mean. It is fitted in-process from a snapshot.
type BaselineModel struct {
	overall     float64
	byWeather   map[float64]float64
	weatherSize map[float64]int
	byPair      map[[2]float64]float64
	pairSize    map[[2]float64]int
	total       int
}

func NewBaselineModel(snap *recordstore.Snapshot, enc *features.Encoder) *BaselineModel {
	m := &BaselineModel{
		byWeather:   map[float64]float64{},
		weatherSize: map[float64]int{},
		byPair:      map[[2]float64]float64{},
		pairSize:    map[[2]float64]int{},
		total:       snap.Len(),
	}
	all := make([]float64, 0, snap.Len())
	weather := map[float64][]float64{}
	pairs := map[[2]float64][]float64{}
	for i := 0; i < snap.Len(); i++ {
		r := snap.At(i)
		v := enc.Record(r)
		score := float64(r.SeverityScore())
		all = append(all, score)
		weather[v[features.WeatherEncoded]] = append(weather[v[features.WeatherEncoded]], score)
		key := [2]float64{v[features.WeatherEncoded], v[features.PhaseEncoded]}
		pairs[key] = append(pairs[key], score)
	}
	if len(all) > 0 {
		m.overall = stat.Mean(all, nil)
	}
	for k, scores := range weather {
		m.byWeather[k] = stat.Mean(scores, nil)
		m.weatherSize[k] = len(scores)
	}
	for k, scores := range pairs {
		m.byPair[k] = stat.Mean(scores, nil)
		m.pairSize[k] = len(scores)
	}
	return m
}

func (m *BaselineModel) Name() string  { return "group_mean_baseline" }
func (m *BaselineModel) Trained() bool { return m.total > 0 }

// Predict reports confidence as the share of loaded records backing the
// estimate.
func (m *BaselineModel) Predict(v features.Vector) (Estimate, error) {
	key := [2]float64{v[features.WeatherEncoded], v[features.PhaseEncoded]}
	if mean, ok := m.byPair[key]; ok {
		return Estimate{SeverityScore: mean, Confidence: m.share(m.pairSize[key])}, nil
	}
	if mean, ok := m.byWeather[v[features.WeatherEncoded]]; ok {
		return Estimate{SeverityScore: mean, Confidence: m.share(m.weatherSize[v[features.WeatherEncoded]])}, nil
	}
	return Estimate{SeverityScore: m.overall}, nil
}

func (m *BaselineModel) share(n int) float64 {
	if m.total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(m.total)
}

// SeverityClass names the score bucket an estimate falls in.
func SeverityClass(score float64) string {
	return aggregate.ScoreRanges[aggregate.ScoreBucket(uint(math.Round(math.Max(0, score))))].Label
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
