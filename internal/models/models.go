package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Source string

const (
	SourceAirlineAccidents Source = "airline_accidents"
	SourceNTSB             Source = "ntsb"
)

// Sources lists every source in the order stats are reported.
var Sources = []Source{SourceAirlineAccidents, SourceNTSB}

// ParseSource accepts the canonical names plus the dataset titles.
func ParseSource(s string) (Source, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "airline_accidents", "airline-accidents", "airline accidents", "airline":
		return SourceAirlineAccidents, true
	case "ntsb", "ntsb_data":
		return SourceNTSB, true
	}
	return "", false
}

type WeatherCondition string

const (
	WeatherVMC     WeatherCondition = "VMC"
	WeatherIMC     WeatherCondition = "IMC"
	WeatherUnknown WeatherCondition = "Unknown"
)

// ParseWeather maps raw dataset values to a condition. The second return
// is false when the value was present but not recognised.
func ParseWeather(s string) (WeatherCondition, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VMC", "VISUAL":
		return WeatherVMC, true
	case "IMC", "INSTRUMENT":
		return WeatherIMC, true
	case "", "UNK", "UNKNOWN", "UNKNOWN/UNAVAILABLE":
		return WeatherUnknown, true
	}
	return WeatherUnknown, false
}

type SeverityKind uint8

const (
	SeverityUnknown SeverityKind = iota
	SeverityNonFatal
	SeverityIncident
	SeverityFatal
)

// Severity is the derived injury class. Fatalities is only set for
// SeverityFatal.
type Severity struct {
	Kind       SeverityKind
	Fatalities uint
}

func Fatal(n uint) Severity { return Severity{Kind: SeverityFatal, Fatalities: n} }

var (
	NonFatal        = Severity{Kind: SeverityNonFatal}
	Incident        = Severity{Kind: SeverityIncident}
	UnknownSeverity = Severity{Kind: SeverityUnknown}
)

func (s Severity) String() string {
	switch s.Kind {
	case SeverityFatal:
		return fmt.Sprintf("Fatal(%d)", s.Fatalities)
	case SeverityNonFatal:
		return "Non-Fatal"
	case SeverityIncident:
		return "Incident"
	default:
		return "Unknown"
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// DeriveSeverity classifies a record from its injury counts. rawLabel is
// the dataset's own severity or event-type text; anyCount reports whether
// at least one injury column held a value.
func DeriveSeverity(fatal uint, rawLabel string, anyCount bool) Severity {
	if fatal > 0 {
		return Fatal(fatal)
	}
	label := strings.ToLower(strings.TrimSpace(rawLabel))
	if strings.Contains(label, "incident") {
		return Incident
	}
	if !anyCount && (label == "" || label == "unavailable" || label == "unknown") {
		return UnknownSeverity
	}
	return NonFatal
}

// Date is a calendar date rendered as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format("2006-01-02")
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// NormalizeCountry is the key used for exact country matching.
func NormalizeCountry(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

type AccidentRecord struct {
	EventID              string           `json:"event_id,omitempty"`
	EventDate            Date             `json:"event_date"`
	Location             string           `json:"location"`
	Country              string           `json:"country"`
	Make                 string           `json:"make"`
	Model                string           `json:"model"`
	InjurySeverity       Severity         `json:"injury_severity"`
	TotalFatalInjuries   uint             `json:"total_fatal_injuries"`
	TotalSeriousInjuries uint             `json:"total_serious_injuries"`
	TotalMinorInjuries   uint             `json:"total_minor_injuries"`
	BroadPhaseOfFlight   string           `json:"broad_phase_of_flight"`
	WeatherCondition     WeatherCondition `json:"weather_condition"`
	NumberOfEngines      uint8            `json:"number_of_engines"`
	EngineType           string           `json:"engine_type"`
	Source               Source           `json:"source"`
}

// SeverityScore is the regression target: 3×fatal + 2×serious + minor.
func (r *AccidentRecord) SeverityScore() uint {
	return 3*r.TotalFatalInjuries + 2*r.TotalSeriousInjuries + r.TotalMinorInjuries
}

type DateRange struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

type DatasetStats struct {
	TotalRecords       int       `json:"total_records"`
	DateRange          DateRange `json:"date_range"`
	TotalFatalInjuries uint      `json:"total_fatal_injuries"`
	RowsRead           int       `json:"rows_read"`
	RowsSkipped        int       `json:"rows_skipped"`
	MalformedFields    int       `json:"malformed_fields"`
	Columns            []string  `json:"columns"`
}

// Flight is one live flight from the external feed.
type Flight struct {
	FlightNumber string `json:"flight_number"`
	FlightDate   string `json:"flight_date"`
	Status       string `json:"status"`
	Airline      string `json:"airline"`
	Departure    string `json:"departure"`
	Arrival      string `json:"arrival"`
	AircraftType string `json:"aircraft_type"`
	Aircraft     string `json:"aircraft"`
}
