// Package query answers filtered, paginated record queries against a
// snapshot. Results are always in load order.
package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/lox/aviationstats/internal/apperr"
	"github.com/lox/aviationstats/internal/models"
	"github.com/lox/aviationstats/internal/recordstore"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Filter composes with logical AND. Zero values are unrestricted.
type Filter struct {
	Country  string // exact match on the normalised country name
	Severity string // case-insensitive substring of the severity rendering
	Year     int
}

func (f Filter) IsEmpty() bool {
	return f.Country == "" && f.Severity == "" && f.Year == 0
}

// Params is a validated /api/accidents request.
type Params struct {
	Filter Filter
	Limit  int
	Offset int
}

// ParseParams validates query-string values. Bad numbers are rejected,
// never coerced; limit above MaxLimit is clamped.
func ParseParams(v url.Values) (Params, error) {
	p := Params{Limit: DefaultLimit}

	if s := strings.TrimSpace(v.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Params{}, apperr.Invalid("limit", "%q is not an integer", s)
		}
		if n <= 0 {
			return Params{}, apperr.Invalid("limit", "must be positive, got %d", n)
		}
		p.Limit = min(n, MaxLimit)
	}

	if s := strings.TrimSpace(v.Get("offset")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Params{}, apperr.Invalid("offset", "%q is not an integer", s)
		}
		if n < 0 {
			return Params{}, apperr.Invalid("offset", "must not be negative, got %d", n)
		}
		p.Offset = n
	}

	if s := strings.TrimSpace(v.Get("year")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Params{}, apperr.Invalid("year", "%q is not an integer", s)
		}
		if n <= 0 {
			return Params{}, apperr.Invalid("year", "must be positive, got %d", n)
		}
		p.Filter.Year = n
	}

	p.Filter.Country = strings.TrimSpace(v.Get("country"))
	p.Filter.Severity = strings.TrimSpace(v.Get("severity"))
	return p, nil
}

// Page is one slice of a filtered result.
type Page struct {
	Data   []models.AccidentRecord `json:"data"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// Run returns records [offset, offset+limit) of the filtered set, and
// the filtered total before pagination.
func Run(snap *recordstore.Snapshot, f Filter, limit, offset int) (Page, error) {
	if limit <= 0 {
		return Page{}, apperr.Invalid("limit", "must be positive, got %d", limit)
	}
	if offset < 0 {
		return Page{}, apperr.Invalid("offset", "must not be negative, got %d", offset)
	}
	limit = min(limit, MaxLimit)

	page := Page{Data: []models.AccidentRecord{}, Limit: limit, Offset: offset}
	matches := Match(snap, f)
	if matches == nil {
		page.Total = snap.Len()
		for i := offset; i < snap.Len() && len(page.Data) < limit; i++ {
			page.Data = append(page.Data, *snap.At(i))
		}
		return page, nil
	}

	page.Total = len(matches)
	if offset >= len(matches) {
		return page, nil
	}
	end := min(offset+limit, len(matches))
	for _, i := range matches[offset:end] {
		page.Data = append(page.Data, *snap.At(i))
	}
	return page, nil
}

// Match returns the positions of matching records in load order, or nil
// when the filter is empty and every record matches.
func Match(snap *recordstore.Snapshot, f Filter) []int {
	if f.IsEmpty() {
		return nil
	}

	candidates, indexed := candidatePositions(snap, f)
	severity := strings.ToLower(f.Severity)
	country := models.NormalizeCountry(f.Country)

	matches := []int{}
	check := func(i int) {
		r := snap.At(i)
		if f.Year != 0 && r.EventDate.Year() != f.Year {
			return
		}
		if country != "" && models.NormalizeCountry(r.Country) != country {
			return
		}
		if severity != "" && !strings.Contains(strings.ToLower(r.InjurySeverity.String()), severity) {
			return
		}
		matches = append(matches, i)
	}

	if indexed {
		for _, i := range candidates {
			check(i)
		}
		return matches
	}
	for i := 0; i < snap.Len(); i++ {
		check(i)
	}
	return matches
}

// candidatePositions picks the smallest index list among the indexed
// filters. Severity is a substring match and cannot use an index.
func candidatePositions(snap *recordstore.Snapshot, f Filter) ([]int, bool) {
	var best []int
	found := false
	consider := func(positions []int) {
		if !found || len(positions) < len(best) {
			best = positions
			found = true
		}
	}
	if f.Country != "" {
		consider(snap.IndexBy(recordstore.ByCountry)[models.NormalizeCountry(f.Country)])
	}
	if f.Year != 0 {
		consider(snap.IndexBy(recordstore.ByYear)[strconv.Itoa(f.Year)])
	}
	return best, found
}
