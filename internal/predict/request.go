package predict

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/lox/aviationstats/internal/apperr"
	"github.com/lox/aviationstats/internal/features"
	"github.com/lox/aviationstats/internal/models"
)

const (
	DefaultWeather    = "VMC"
	DefaultPhase      = "CRUISE"
	DefaultEngines    = 2
	DefaultEngineType = "Jet"
	MaxEngines        = 8
)

// EngineCount accepts a JSON number or a numeric string; the dashboard
// form posts the select value as a string.
type EngineCount struct {
	raw string
	set bool
}

func Engines(n int) EngineCount {
	return EngineCount{raw: strconv.Itoa(n), set: true}
}

func (e *EngineCount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*e = EngineCount{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = EngineCount{raw: strings.TrimSpace(s), set: strings.TrimSpace(s) != ""}
		return nil
	}
	*e = EngineCount{raw: string(b), set: true}
	return nil
}

func (e EngineCount) MarshalJSON() ([]byte, error) {
	if !e.set {
		return []byte("null"), nil
	}
	if n, err := strconv.Atoi(e.raw); err == nil {
		return json.Marshal(n)
	}
	return json.Marshal(e.raw)
}

func (e EngineCount) value() (int, error) {
	if !e.set {
		return DefaultEngines, nil
	}
	n, err := strconv.Atoi(e.raw)
	if err != nil {
		return 0, apperr.Invalid("number_of_engines", "%q is not an integer", e.raw)
	}
	if n < 0 || n > MaxEngines {
		return 0, apperr.Invalid("number_of_engines", "must be between 0 and %d, got %d", MaxEngines, n)
	}
	return n, nil
}

// Request is the body of POST /api/predict.
type Request struct {
	Airline          string      `json:"airline"`
	AircraftType     string      `json:"aircraft_type"`
	DepartureAirport string      `json:"departure_airport"`
	ArrivalAirport   string      `json:"arrival_airport"`
	WeatherCondition string      `json:"weather_condition,omitempty"`
	FlightPhase      string      `json:"flight_phase,omitempty"`
	NumberOfEngines  EngineCount `json:"number_of_engines"`
	EngineType       string      `json:"engine_type,omitempty"`
}

// normalize validates r and fills defaults. Required fields are checked
// in declaration order so the first missing one is reported.
func (r Request) normalize() (Request, features.Input, error) {
	required := []struct {
		name  string
		value *string
	}{
		{"airline", &r.Airline},
		{"aircraft_type", &r.AircraftType},
		{"departure_airport", &r.DepartureAirport},
		{"arrival_airport", &r.ArrivalAirport},
	}
	for _, f := range required {
		*f.value = strings.TrimSpace(*f.value)
		if *f.value == "" {
			return r, features.Input{}, apperr.Invalid(f.name, "is required")
		}
	}

	r.WeatherCondition = orDefault(r.WeatherCondition, DefaultWeather)
	r.FlightPhase = orDefault(r.FlightPhase, DefaultPhase)
	r.EngineType = orDefault(r.EngineType, DefaultEngineType)
	if _, ok := models.ParseWeather(r.WeatherCondition); !ok {
		return r, features.Input{}, apperr.Invalid("weather_condition", "unknown condition %q", r.WeatherCondition)
	}

	engines, err := r.NumberOfEngines.value()
	if err != nil {
		return r, features.Input{}, err
	}
	r.NumberOfEngines = Engines(engines)

	return r, features.Input{
		WeatherCondition: r.WeatherCondition,
		FlightPhase:      r.FlightPhase,
		NumberOfEngines:  engines,
		EngineType:       r.EngineType,
	}, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
