// Package aggregate computes the grouped statistics behind the dashboard.
// Every function is a pure read of one snapshot.
package aggregate

import (
	"sort"
	"strconv"

	"github.com/lox/aviationstats/internal/apperr"
	"github.com/lox/aviationstats/internal/models"
	"github.com/lox/aviationstats/internal/recordstore"
)

const (
	DefaultTop = 20
	MaxTop     = 500
)

type YearBucket struct {
	Year            int  `json:"year"`
	TotalAccidents  int  `json:"total_accidents"`
	FatalInjuries   uint `json:"fatal_injuries"`
	SeriousInjuries uint `json:"serious_injuries"`
	MinorInjuries   uint `json:"minor_injuries"`
}

type MakeCount struct {
	Make            string `json:"make"`
	TotalAccidents  int    `json:"total_accidents"`
	TotalFatalities uint   `json:"total_fatalities"`
}

type CountryCount struct {
	Country         string `json:"country"`
	TotalAccidents  int    `json:"total_accidents"`
	TotalFatalities uint   `json:"total_fatalities"`
}

type SeverityCount struct {
	Severity string `json:"severity"`
	Count    int    `json:"count"`
}

type ScoreRangeCount struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

type TargetDistributions struct {
	InjurySeverity []SeverityCount   `json:"injury_severity"`
	SeverityScores []ScoreRangeCount `json:"severity_scores"`
}

// ByYear returns one bucket per year present, ascending.
func ByYear(snap *recordstore.Snapshot) ([]YearBucket, error) {
	idx := snap.IndexBy(recordstore.ByYear)
	out := make([]YearBucket, 0, len(idx))
	for key, positions := range idx {
		year, err := strconv.Atoi(key)
		if err != nil {
			return nil, &apperr.InternalAggregationError{Op: "by-year", Err: err}
		}
		b := YearBucket{Year: year, TotalAccidents: len(positions)}
		for _, i := range positions {
			r := snap.At(i)
			b.FatalInjuries += r.TotalFatalInjuries
			b.SeriousInjuries += r.TotalSeriousInjuries
			b.MinorInjuries += r.TotalMinorInjuries
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out, nil
}

type group struct {
	name       string
	accidents  int
	fatalities uint
}

// grouped rolls an index up to totals per keyName(key), ordered by
// accidents descending then name.
func grouped(snap *recordstore.Snapshot, d recordstore.Dimension, keyName func(string) string) []group {
	byName := map[string]*group{}
	for key, positions := range snap.IndexBy(d) {
		name := keyName(key)
		g, ok := byName[name]
		if !ok {
			g = &group{name: name}
			byName[name] = g
		}
		g.accidents += len(positions)
		for _, i := range positions {
			g.fatalities += snap.At(i).TotalFatalInjuries
		}
	}
	out := make([]group, 0, len(byName))
	for _, g := range byName {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].accidents != out[j].accidents {
			return out[i].accidents > out[j].accidents
		}
		return out[i].name < out[j].name
	})
	return out
}

func limitTop[T any](rows []T, top int) []T {
	if top > 0 && len(rows) > top {
		return rows[:top]
	}
	return rows
}

// ByMake returns accident counts per manufacturer. top <= 0 returns
// every make.
func ByMake(snap *recordstore.Snapshot, top int) []MakeCount {
	groups := limitTop(grouped(snap, recordstore.ByMake, orUnknown), top)
	out := make([]MakeCount, len(groups))
	for i, g := range groups {
		out[i] = MakeCount{Make: g.name, TotalAccidents: g.accidents, TotalFatalities: g.fatalities}
	}
	return out
}

// ByCountry returns accident counts per country. Countries differing
// only in case are counted together under the first spelling loaded.
func ByCountry(snap *recordstore.Snapshot, top int) []CountryCount {
	display := func(key string) string {
		positions := snap.IndexBy(recordstore.ByCountry)[key]
		if len(positions) == 0 {
			return orUnknown(key)
		}
		return orUnknown(snap.At(positions[0]).Country)
	}
	groups := limitTop(grouped(snap, recordstore.ByCountry, display), top)
	out := make([]CountryCount, len(groups))
	for i, g := range groups {
		out[i] = CountryCount{Country: g.name, TotalAccidents: g.accidents, TotalFatalities: g.fatalities}
	}
	return out
}

// SeverityDistribution counts every observed severity value. Counts sum
// to the snapshot size.
func SeverityDistribution(snap *recordstore.Snapshot) ([]SeverityCount, error) {
	groups := grouped(snap, recordstore.BySeverity, func(k string) string { return k })
	out := make([]SeverityCount, len(groups))
	total := 0
	for i, g := range groups {
		out[i] = SeverityCount{Severity: g.name, Count: g.accidents}
		total += g.accidents
	}
	if total != snap.Len() {
		return nil, &apperr.InternalAggregationError{
			Op:  "severity-distribution",
			Err: errCountMismatch{got: total, want: snap.Len()},
		}
	}
	return out, nil
}

// ScoreRange is a closed interval of severity scores. Max < 0 means
// unbounded.
type ScoreRange struct {
	Label string
	Min   uint
	Max   int
}

func (r ScoreRange) contains(score uint) bool {
	return score >= r.Min && (r.Max < 0 || score <= uint(r.Max))
}

// ScoreRanges are the fixed severity score buckets, in display order.
var ScoreRanges = []ScoreRange{
	{Label: "0 (No Injuries)", Min: 0, Max: 0},
	{Label: "1-5 (Minor)", Min: 1, Max: 5},
	{Label: "6-15 (Moderate)", Min: 6, Max: 15},
	{Label: "16-30 (Serious)", Min: 16, Max: 30},
	{Label: "31+ (Severe)", Min: 31, Max: -1},
}

// ScoreBucket returns the index into ScoreRanges for score.
func ScoreBucket(score uint) int {
	for i, r := range ScoreRanges {
		if r.contains(score) {
			return i
		}
	}
	return len(ScoreRanges) - 1
}

// Targets computes the distributions of both model targets.
func Targets(snap *recordstore.Snapshot) (TargetDistributions, error) {
	sev, err := SeverityDistribution(snap)
	if err != nil {
		return TargetDistributions{}, err
	}
	scores := make([]ScoreRangeCount, len(ScoreRanges))
	for i, r := range ScoreRanges {
		scores[i].Range = r.Label
	}
	for _, r := range snap.All() {
		scores[ScoreBucket(r.SeverityScore())].Count++
	}
	return TargetDistributions{InjurySeverity: sev, SeverityScores: scores}, nil
}

// Summary returns dataset statistics for every known source, including
// sources that loaded no records.
func Summary(snap *recordstore.Snapshot) map[models.Source]models.DatasetStats {
	out := make(map[models.Source]models.DatasetStats, len(models.Sources))
	for _, src := range models.Sources {
		st := snap.Stats(src)
		if st.Columns == nil {
			st.Columns = []string{}
		}
		out[src] = st
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
