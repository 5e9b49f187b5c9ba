package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/lox/aviationstats/internal/metrics"
	"github.com/lox/aviationstats/internal/models"
)

// ErrUnmappableSchema is returned when a source has none of the expected
// columns, or lacks the event date every record needs.
var ErrUnmappableSchema = errors.New("schema cannot be mapped")

// Diagnostics records what happened while loading one source.
type Diagnostics struct {
	Kind        models.Source
	Location    string
	Columns     []string
	RowsRead    int
	RowsLoaded  int
	Skipped     map[string]int // reason -> rows
	Malformed   map[string]int // field -> cells defaulted
	Fingerprint string         // sha256 of the raw bytes
	StartedAt   time.Time
	FinishedAt  time.Time
}

func newDiagnostics(src Source) *Diagnostics {
	return &Diagnostics{
		Kind:      src.Kind,
		Location:  src.Location,
		Skipped:   make(map[string]int),
		Malformed: make(map[string]int),
	}
}

func (d *Diagnostics) RowsSkipped() int {
	n := 0
	for _, c := range d.Skipped {
		n += c
	}
	return n
}

func (d *Diagnostics) MalformedFields() int {
	n := 0
	for _, c := range d.Malformed {
		n += c
	}
	return n
}

func (d *Diagnostics) skip(reason string) {
	d.Skipped[reason]++
	metrics.RowsSkipped.WithLabelValues(string(d.Kind), reason).Inc()
}

func (d *Diagnostics) malformed(f field) {
	d.Malformed[f.String()]++
	metrics.MalformedFields.WithLabelValues(string(d.Kind), f.String()).Inc()
}

// Result is the output of a load across all sources, in load order.
type Result struct {
	Records     []models.AccidentRecord
	Diagnostics []*Diagnostics
}

type Loader struct {
	open Opener
	now  func() time.Time
}

func NewLoader() *Loader {
	return &Loader{open: Open, now: time.Now}
}

// WithOpener replaces how source locations are opened.
func (l *Loader) WithOpener(open Opener) *Loader {
	l.open = open
	return l
}

// Load reads every source in order. Any source that cannot be read or
// mapped fails the whole load; row-level problems are only tallied.
func (l *Loader) Load(ctx context.Context, sources ...Source) (*Result, error) {
	res := &Result{}
	for _, src := range sources {
		records, diag, err := l.LoadSource(ctx, src)
		if err != nil {
			return nil, err
		}
		res.Records = append(res.Records, records...)
		res.Diagnostics = append(res.Diagnostics, diag)
	}
	return res, nil
}

func (l *Loader) LoadSource(ctx context.Context, src Source) ([]models.AccidentRecord, *Diagnostics, error) {
	started := l.now()
	rc, err := l.open(ctx, src.Location)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: open: %w", src, err)
	}
	defer rc.Close()

	hasher := sha256.New()
	r, err := decode(io.TeeReader(rc, hasher), src.Encoding)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", src, err)
	}

	records, diag, err := parse(ctx, src, r, started)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", src, err)
	}
	// Drain so the fingerprint covers the whole file even if the CSV
	// reader stopped early.
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, nil, fmt.Errorf("load %s: read: %w", src, err)
	}

	diag.Fingerprint = hex.EncodeToString(hasher.Sum(nil))
	diag.StartedAt = started
	diag.FinishedAt = l.now()
	metrics.RecordsLoaded.WithLabelValues(string(src.Kind)).Add(float64(diag.RowsLoaded))

	log.Printf("dataset: loaded %s: %d records, %d skipped, %d malformed fields",
		src, diag.RowsLoaded, diag.RowsSkipped(), diag.MalformedFields())
	return records, diag, nil
}

// Parse reads CSV from r, which must already be UTF-8.
func Parse(src Source, r io.Reader, now time.Time) ([]models.AccidentRecord, *Diagnostics, error) {
	return parse(context.Background(), src, r, now)
}

func parse(ctx context.Context, src Source, r io.Reader, now time.Time) ([]models.AccidentRecord, *Diagnostics, error) {
	diag := newDiagnostics(src)

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("%w: empty source", ErrUnmappableSchema)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read headers: %w", err)
	}
	for _, h := range headers {
		diag.Columns = append(diag.Columns, strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	}

	cols, mapped := mapColumns(headers)
	if mapped == 0 {
		return nil, nil, fmt.Errorf("%w: none of the expected columns in %v", ErrUnmappableSchema, diag.Columns)
	}
	if !cols.has(fieldEventDate) {
		return nil, nil, fmt.Errorf("%w: no event date column", ErrUnmappableSchema)
	}

	maxDate := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	p := rowParser{cols: &cols, diag: diag, makes: newMakeCanonicalizer(), kind: src.Kind, maxDate: maxDate}

	var records []models.AccidentRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		diag.RowsRead++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				diag.skip(SkipMalformedRow)
				continue
			}
			return nil, nil, fmt.Errorf("read row %d: %w", diag.RowsRead, err)
		}
		if diag.RowsRead%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}

		rec, ok := p.parseRow(row)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	diag.RowsLoaded = len(records)
	return records, diag, nil
}

type rowParser struct {
	cols    *columnMap
	diag    *Diagnostics
	makes   *makeCanonicalizer
	kind    models.Source
	maxDate time.Time
}

func (p *rowParser) parseRow(row []string) (models.AccidentRecord, bool) {
	raw, _ := p.cols.get(row, fieldEventDate)
	date, ok := parseDate(raw)
	if !ok {
		p.diag.skip(SkipBadDate)
		return models.AccidentRecord{}, false
	}
	if date.Before(MinEventDate) || date.After(p.maxDate) {
		p.diag.skip(SkipDateRange)
		return models.AccidentRecord{}, false
	}

	rec := models.AccidentRecord{
		EventDate: models.Date{Time: date},
		Source:    p.kind,
	}
	rec.EventID, _ = p.cols.get(row, fieldEventID)
	rec.Location = p.location(row)

	country, _ := p.cols.get(row, fieldCountry)
	rec.Country = canonicalCountry(country)
	mk, _ := p.cols.get(row, fieldMake)
	rec.Make = p.makes.canonical(mk)
	rec.Model, _ = p.cols.get(row, fieldModel)
	rec.BroadPhaseOfFlight, _ = p.cols.get(row, fieldPhase)
	rec.EngineType, _ = p.cols.get(row, fieldEngineType)

	anyCount := false
	count := func(f field) uint {
		v, _ := p.cols.get(row, f)
		n, present, ok := parseCount(v)
		if !ok {
			p.diag.malformed(f)
		}
		if present && ok {
			anyCount = true
		}
		return n
	}
	rec.TotalFatalInjuries = count(fieldFatal)
	rec.TotalSeriousInjuries = count(fieldSerious)
	rec.TotalMinorInjuries = count(fieldMinor)

	label, _ := p.cols.get(row, fieldSeverity)
	if label == "" {
		label, _ = p.cols.get(row, fieldEventType)
	} else if evType, _ := p.cols.get(row, fieldEventType); strings.EqualFold(evType, "incident") {
		label = evType
	}
	rec.InjurySeverity = models.DeriveSeverity(rec.TotalFatalInjuries, label, anyCount)

	wx, _ := p.cols.get(row, fieldWeather)
	w, ok := models.ParseWeather(wx)
	if !ok {
		p.diag.malformed(fieldWeather)
	}
	rec.WeatherCondition = w

	eng, _ := p.cols.get(row, fieldEngines)
	n, ok := parseEngines(eng)
	if !ok {
		p.diag.malformed(fieldEngines)
	}
	rec.NumberOfEngines = n

	return rec, true
}

func (p *rowParser) location(row []string) string {
	if loc, ok := p.cols.get(row, fieldLocation); ok && loc != "" {
		return loc
	}
	city, _ := p.cols.get(row, fieldCity)
	state, _ := p.cols.get(row, fieldState)
	switch {
	case city != "" && state != "":
		return city + ", " + state
	case city != "":
		return city
	default:
		return state
	}
}
