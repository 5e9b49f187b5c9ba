package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Row-level skip reasons.
const (
	SkipMalformedRow = "malformed_row"
	SkipBadDate      = "bad_date"
	SkipDateRange    = "date_out_of_range"
)

// MinEventDate is the earliest event date accepted at load.
var MinEventDate = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

const (
	maxEngines = 24
	// maxInjuryCount is far above any recorded accident; larger cells are
	// data errors.
	maxInjuryCount = 100_000
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"02-Jan-2006",
	"02-Jan-06",
	"20060102",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// parseCount reads a non-negative injury count. present is false for an
// empty cell; ok is false when the cell held something unusable.
func parseCount(s string) (n uint, present, ok bool) {
	if s == "" {
		return 0, false, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f > maxInjuryCount || f != math.Trunc(f) {
		return 0, true, false
	}
	return uint(f), true, true
}

func parseEngines(s string) (uint8, bool) {
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < 0 || f > maxEngines || f != math.Trunc(f) {
		return 0, false
	}
	return uint8(f), true
}

// makeCanonicalizer folds "CESSNA" and "Cessna" to one spelling so
// grouping by make does not split manufacturers on case. A Caser is
// stateful, so each parse gets its own.
type makeCanonicalizer struct {
	caser cases.Caser
}

func newMakeCanonicalizer() *makeCanonicalizer {
	return &makeCanonicalizer{caser: cases.Title(language.English)}
}

func (m *makeCanonicalizer) canonical(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "Unknown"
	}
	return m.caser.String(s)
}

func canonicalCountry(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "Unknown"
	}
	return s
}
