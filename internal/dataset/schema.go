package dataset

import (
	"strings"
)

type field int

const (
	fieldEventID field = iota
	fieldEventDate
	fieldLocation
	fieldCity
	fieldState
	fieldCountry
	fieldMake
	fieldModel
	fieldSeverity
	fieldEventType
	fieldFatal
	fieldSerious
	fieldMinor
	fieldPhase
	fieldWeather
	fieldEngines
	fieldEngineType
	fieldCount
)

var fieldNames = [fieldCount]string{
	fieldEventID:    "event_id",
	fieldEventDate:  "event_date",
	fieldLocation:   "location",
	fieldCity:       "city",
	fieldState:      "state",
	fieldCountry:    "country",
	fieldMake:       "make",
	fieldModel:      "model",
	fieldSeverity:   "injury_severity",
	fieldEventType:  "event_type",
	fieldFatal:      "total_fatal_injuries",
	fieldSerious:    "total_serious_injuries",
	fieldMinor:      "total_minor_injuries",
	fieldPhase:      "broad_phase_of_flight",
	fieldWeather:    "weather_condition",
	fieldEngines:    "number_of_engines",
	fieldEngineType: "engine_type",
}

func (f field) String() string { return fieldNames[f] }

// aliases lists the header spellings each field is known under. The
// Airline Accidents export uses title-case names; the NTSB/FAA extracts
// use upper-snake column codes.
var aliases = map[field][]string{
	fieldEventID:    {"Event Id", "EventId", "EV_ID", "NTSB_NO", "AIDS_REPORT_NBR"},
	fieldEventDate:  {"Event Date", "EVENT_LCL_DATE", "EV_DATE", "Date"},
	fieldLocation:   {"Location"},
	fieldCity:       {"LOC_CITY_NAME", "EV_CITY", "City"},
	fieldState:      {"LOC_STATE_NAME", "EV_STATE", "State"},
	fieldCountry:    {"Country", "LOC_CNTRY_NAME", "EV_COUNTRY"},
	fieldMake:       {"Make", "ACFT_MAKE_NAME", "ACFT_MAKE"},
	fieldModel:      {"Model", "ACFT_MODEL_NAME", "ACFT_MODEL"},
	fieldSeverity:   {"Injury Severity", "EV_HIGHEST_INJURY", "INJ_SEVERITY"},
	fieldEventType:  {"Investigation Type", "EVENT_TYPE_DESC", "EV_TYPE"},
	fieldFatal:      {"Total Fatal Injuries", "INJ_TOT_F", "TOTAL_FATAL_INJURIES", "FATAL_INJURIES", "TOTAL_FATALITIES"},
	fieldSerious:    {"Total Serious Injuries", "INJ_TOT_S", "TOTAL_SERIOUS_INJURIES", "SERIOUS_INJURIES"},
	fieldMinor:      {"Total Minor Injuries", "INJ_TOT_M", "TOTAL_MINOR_INJURIES", "MINOR_INJURIES"},
	fieldPhase:      {"Broad Phase of Flight", "FLT_PHASE", "PHASE_FLT_SPEC"},
	fieldWeather:    {"Weather Condition", "WX_COND", "WX_COND_BASIC"},
	fieldEngines:    {"Number of Engines", "NUM_ENG", "NBR_ENG"},
	fieldEngineType: {"Engine Type", "ENG_TYPE", "ACFT_ENG_TYPE"},
}

var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]field {
	idx := make(map[string]field)
	for f, names := range aliases {
		for _, n := range names {
			idx[normalizeHeader(n)] = f
		}
	}
	return idx
}

// normalizeHeader folds "Total Fatal Injuries" and "TOTAL_FATAL_INJURIES"
// to the same key.
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(h)
}

// columnMap holds the CSV column position of each field, or -1.
type columnMap [fieldCount]int

func mapColumns(headers []string) (columnMap, int) {
	var cm columnMap
	for i := range cm {
		cm[i] = -1
	}
	mapped := 0
	for i, h := range headers {
		f, ok := aliasIndex[normalizeHeader(h)]
		if !ok || cm[f] >= 0 {
			continue
		}
		cm[f] = i
		mapped++
	}
	return cm, mapped
}

func (cm *columnMap) has(f field) bool { return cm[f] >= 0 }

func (cm *columnMap) get(row []string, f field) (string, bool) {
	i := cm[f]
	if i < 0 || i >= len(row) {
		return "", false
	}
	return strings.TrimSpace(row[i]), true
}
