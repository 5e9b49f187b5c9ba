package recordstore

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lox/aviationstats/internal/dataset"
	"github.com/lox/aviationstats/internal/models"
)

// Dimension identifies a precomputed index.
type Dimension uint8

const (
	ByYear Dimension = iota
	ByCountry
	ByMake
	ByMakeModel
	BySeverity
	bySource
	dimensionCount
)

var dimensionNames = [dimensionCount]string{
	ByYear:      "year",
	ByCountry:   "country",
	ByMake:      "make",
	ByMakeModel: "make_model",
	BySeverity:  "severity",
	bySource:    "source",
}

func (d Dimension) String() string {
	if d < dimensionCount {
		return dimensionNames[d]
	}
	return "unknown"
}

// Index maps a dimension key to record positions in load order.
type Index map[string][]int

// Snapshot is an immutable, fully indexed record set. Nothing may
// modify it after Build returns.
type Snapshot struct {
	id      string
	builtAt time.Time
	records []models.AccidentRecord
	indexes [dimensionCount]Index
	stats   map[models.Source]models.DatasetStats
	diags   []*dataset.Diagnostics
}

// Build takes ownership of records.
func Build(records []models.AccidentRecord, diags []*dataset.Diagnostics) *Snapshot {
	s := &Snapshot{
		id:      uuid.NewString(),
		builtAt: time.Now().UTC(),
		records: records,
		diags:   diags,
	}
	for d := range s.indexes {
		s.indexes[d] = make(Index)
	}
	for i := range records {
		r := &records[i]
		for d := Dimension(0); d < dimensionCount; d++ {
			key := keyFor(r, d)
			s.indexes[d][key] = append(s.indexes[d][key], i)
		}
	}
	s.stats = computeStats(records, diags)
	return s
}

// keyFor returns the index key of r for dimension d. Country keys are
// normalised so lookups can use models.NormalizeCountry.
func keyFor(r *models.AccidentRecord, d Dimension) string {
	switch d {
	case ByYear:
		return strconv.Itoa(r.EventDate.Year())
	case ByCountry:
		return models.NormalizeCountry(r.Country)
	case ByMake:
		return r.Make
	case ByMakeModel:
		return r.Make + "/" + r.Model
	case BySeverity:
		return r.InjurySeverity.String()
	case bySource:
		return string(r.Source)
	}
	panic(fmt.Sprintf("recordstore: unknown dimension %d", d))
}

func (s *Snapshot) ID() string                      { return s.id }
func (s *Snapshot) BuiltAt() time.Time              { return s.builtAt }
func (s *Snapshot) Len() int                        { return len(s.records) }
func (s *Snapshot) At(i int) *models.AccidentRecord { return &s.records[i] }

// All returns the records in load order. The slice is shared; callers
// must treat it as read-only.
func (s *Snapshot) All() []models.AccidentRecord {
	return s.records[:len(s.records):len(s.records)]
}

// IndexBy returns the index for d. The map is shared and read-only.
func (s *Snapshot) IndexBy(d Dimension) Index {
	if d >= dimensionCount {
		return nil
	}
	return s.indexes[d]
}

// Keys returns the sorted keys of the index for d.
func (s *Snapshot) Keys(d Dimension) []string {
	idx := s.IndexBy(d)
	keys := make([]string, 0, len(idx))
	for k := range idx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Snapshot) Stats(src models.Source) models.DatasetStats {
	return s.stats[src]
}

func (s *Snapshot) Diagnostics() []*dataset.Diagnostics {
	return s.diags
}

func computeStats(records []models.AccidentRecord, diags []*dataset.Diagnostics) map[models.Source]models.DatasetStats {
	stats := make(map[models.Source]models.DatasetStats)
	for i := range records {
		r := &records[i]
		st := stats[r.Source]
		st.TotalRecords++
		st.TotalFatalInjuries += r.TotalFatalInjuries
		if st.DateRange.Start.IsZero() || r.EventDate.Before(st.DateRange.Start.Time) {
			st.DateRange.Start = r.EventDate
		}
		if st.DateRange.End.IsZero() || r.EventDate.After(st.DateRange.End.Time) {
			st.DateRange.End = r.EventDate
		}
		stats[r.Source] = st
	}
	for _, d := range diags {
		st := stats[d.Kind]
		st.RowsRead += d.RowsRead
		st.RowsSkipped += d.RowsSkipped()
		st.MalformedFields += d.MalformedFields()
		st.Columns = append(st.Columns, d.Columns...)
		stats[d.Kind] = st
	}
	return stats
}
