// Package features encodes records and prediction inputs as the fixed
// numeric vector consumed by models and the explainability samples.
package features

import (
	"sort"
	"strings"

	"github.com/lox/aviationstats/internal/models"
	"github.com/lox/aviationstats/internal/recordstore"
)

// Vector positions.
const (
	Year = iota
	Month
	DayOfWeek
	NumberOfEngines
	CountryEncoded
	WeatherEncoded
	PhaseEncoded
	EngineTypeEncoded
	Len
)

// Names are the feature names in vector order, as published by the
// samples and model-performance endpoints.
var Names = [Len]string{
	"Year",
	"Month",
	"DayOfWeek",
	"Number of Engines",
	"Country_encoded",
	"Weather Condition_encoded",
	"Broad Phase of Flight_encoded",
	"Engine Type_encoded",
}

// NameList returns Names as a fresh slice.
func NameList() []string {
	out := make([]string, Len)
	copy(out, Names[:])
	return out
}

type Vector [Len]float64

// Map returns v keyed by feature name.
func (v Vector) Map() map[string]float64 {
	m := make(map[string]float64, Len)
	for i, name := range Names {
		m[name] = v[i]
	}
	return m
}

// Input is the subset of a prediction request the vector needs.
type Input struct {
	Country          string
	WeatherCondition string
	FlightPhase      string
	NumberOfEngines  int
	EngineType       string
}

// Prediction requests carry no date, so a fixed mid-year reference is
// used.
const (
	RequestYear      = 2024
	RequestMonth     = 6
	RequestDayOfWeek = 3
)

// labels assigns each distinct value its position in sorted order.
type labels map[string]int

func newLabels(values map[string]struct{}) labels {
	sorted := make([]string, 0, len(values))
	for v := range values {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)
	l := make(labels, len(sorted))
	for i, v := range sorted {
		l[v] = i
	}
	return l
}

func (l labels) code(v string) float64 {
	// Unseen values encode as 0 like an untrained encoder would.
	return float64(l[v])
}

// Encoder is built once per snapshot and is safe for concurrent use.
type Encoder struct {
	country    labels
	weather    labels
	phase      labels
	engineType labels
}

func NewEncoder(snap *recordstore.Snapshot) *Encoder {
	country := map[string]struct{}{}
	weather := map[string]struct{}{}
	phase := map[string]struct{}{}
	engine := map[string]struct{}{}
	for _, r := range snap.All() {
		country[models.NormalizeCountry(r.Country)] = struct{}{}
		weather[string(r.WeatherCondition)] = struct{}{}
		phase[normalizeLabel(r.BroadPhaseOfFlight)] = struct{}{}
		engine[normalizeLabel(r.EngineType)] = struct{}{}
	}
	return &Encoder{
		country:    newLabels(country),
		weather:    newLabels(weather),
		phase:      newLabels(phase),
		engineType: newLabels(engine),
	}
}

// Record encodes a loaded record.
func (e *Encoder) Record(r *models.AccidentRecord) Vector {
	var v Vector
	v[Year] = float64(r.EventDate.Year())
	v[Month] = float64(r.EventDate.Month())
	// Monday is 0.
	v[DayOfWeek] = float64((int(r.EventDate.Weekday()) + 6) % 7)
	v[NumberOfEngines] = float64(r.NumberOfEngines)
	v[CountryEncoded] = e.country.code(models.NormalizeCountry(r.Country))
	v[WeatherEncoded] = e.weather.code(string(r.WeatherCondition))
	v[PhaseEncoded] = e.phase.code(normalizeLabel(r.BroadPhaseOfFlight))
	v[EngineTypeEncoded] = e.engineType.code(normalizeLabel(r.EngineType))
	return v
}

// Input encodes a prediction request.
func (e *Encoder) Input(in Input) Vector {
	var v Vector
	v[Year] = RequestYear
	v[Month] = RequestMonth
	v[DayOfWeek] = RequestDayOfWeek
	v[NumberOfEngines] = float64(in.NumberOfEngines)
	if e == nil {
		return v
	}
	weather, _ := models.ParseWeather(in.WeatherCondition)
	v[CountryEncoded] = e.country.code(models.NormalizeCountry(in.Country))
	v[WeatherEncoded] = e.weather.code(string(weather))
	v[PhaseEncoded] = e.phase.code(normalizeLabel(in.FlightPhase))
	v[EngineTypeEncoded] = e.engineType.code(normalizeLabel(in.EngineType))
	return v
}

// Size reports the number of distinct labels per categorical feature.
func (e *Encoder) Size() map[string]int {
	return map[string]int{
		Names[CountryEncoded]:    len(e.country),
		Names[WeatherEncoded]:    len(e.weather),
		Names[PhaseEncoded]:      len(e.phase),
		Names[EngineTypeEncoded]: len(e.engineType),
	}
}

// normalizeLabel folds case so "Cruise" and "CRUISE" share a code.
func normalizeLabel(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
