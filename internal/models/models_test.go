package models

import (
	"encoding/json"
	"testing"
)

func TestDeriveSeverity(t *testing.T) {
	tests := []struct {
		name     string
		fatal    uint
		raw      string
		anyCount bool
		want     string
	}{
		{"fatal count wins over label", 3, "Incident", true, "Fatal(3)"},
		{"single fatality", 1, "", true, "Fatal(1)"},
		{"incident label", 0, "Incident", true, "Incident"},
		{"incident label case-insensitive", 0, "  INCIDENT ", false, "Incident"},
		{"non-fatal from counts", 0, "Non-Fatal", true, "Non-Fatal"},
		{"zero counts no label", 0, "", true, "Non-Fatal"},
		{"nothing known", 0, "", false, "Unknown"},
		{"unavailable label no counts", 0, "Unavailable", false, "Unknown"},
		{"accident label no counts", 0, "Accident", false, "Non-Fatal"},
	}

	for _, tt := range tests {
		got := DeriveSeverity(tt.fatal, tt.raw, tt.anyCount).String()
		if got != tt.want {
			t.Errorf("%s: DeriveSeverity(%d, %q, %v) = %q, want %q", tt.name, tt.fatal, tt.raw, tt.anyCount, got, tt.want)
		}
	}
}

func TestSeverityScore(t *testing.T) {
	r := AccidentRecord{TotalFatalInjuries: 2, TotalSeriousInjuries: 3, TotalMinorInjuries: 4}
	if got := r.SeverityScore(); got != 16 {
		t.Errorf("SeverityScore() = %d, want 16", got)
	}
}

func TestRecordJSON(t *testing.T) {
	r := AccidentRecord{
		EventDate:        NewDate(2010, 3, 7),
		Country:          "France",
		InjurySeverity:   Fatal(2),
		WeatherCondition: WeatherIMC,
		Source:           SourceNTSB,
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["event_date"] != "2010-03-07" {
		t.Errorf("event_date = %v, want 2010-03-07", got["event_date"])
	}
	if got["injury_severity"] != "Fatal(2)" {
		t.Errorf("injury_severity = %v, want Fatal(2)", got["injury_severity"])
	}
	if got["source"] != "ntsb" {
		t.Errorf("source = %v, want ntsb", got["source"])
	}
}

func TestParseWeather(t *testing.T) {
	tests := []struct {
		in   string
		want WeatherCondition
		ok   bool
	}{
		{"VMC", WeatherVMC, true},
		{"imc", WeatherIMC, true},
		{"UNK", WeatherUnknown, true},
		{"", WeatherUnknown, true},
		{"foggy", WeatherUnknown, false},
	}
	for _, tt := range tests {
		got, ok := ParseWeather(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseWeather(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
