package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lox/aviationstats/internal/api"
	"github.com/lox/aviationstats/internal/dataset"
	"github.com/lox/aviationstats/internal/models"
	"github.com/lox/aviationstats/internal/predict"
	"github.com/lox/aviationstats/internal/recordstore"
	"github.com/lox/aviationstats/internal/store"

	_ "modernc.org/sqlite"
)

func testSnapshot() *recordstore.Snapshot {
	return recordstore.Build([]models.AccidentRecord{
		{EventDate: models.NewDate(2010, 3, 7), Country: "France", Make: "Airbus", Model: "A320", InjurySeverity: models.Fatal(2), TotalFatalInjuries: 2, WeatherCondition: models.WeatherIMC, BroadPhaseOfFlight: "CRUISE", Source: models.SourceAirlineAccidents},
		{EventDate: models.NewDate(2010, 5, 1), Country: "France", Make: "Cessna", Model: "172", InjurySeverity: models.NonFatal, TotalMinorInjuries: 3, WeatherCondition: models.WeatherVMC, BroadPhaseOfFlight: "LANDING", Source: models.SourceAirlineAccidents},
		{EventDate: models.NewDate(2011, 3, 15), Country: "France", Make: "Cessna", Model: "172", InjurySeverity: models.Incident, Source: models.SourceAirlineAccidents},
		{EventDate: models.NewDate(2010, 8, 2), Country: "United States", Make: "Piper", Model: "PA-28", InjurySeverity: models.NonFatal, TotalSeriousInjuries: 1, Source: models.SourceNTSB},
	}, nil)
}

func newServer(t *testing.T, snap *recordstore.Snapshot) (*api.Server, *recordstore.Holder) {
	t.Helper()
	reg, err := predict.NewRegistry("", predict.ModeAuto)
	if err != nil {
		t.Fatal(err)
	}
	holder := recordstore.NewHolder(snap)
	srv := api.NewServer(api.Options{
		Port:     "8080",
		Holder:   holder,
		Predict:  predict.NewService(reg),
		Registry: reg,
	})
	return srv, holder
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())

	w := do(t, srv.Handler(), "GET", "/api/health", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Records int    `json:"records"`
	}
	decode(t, w, &body)
	if body.Status != "healthy" {
		t.Errorf("expected healthy, got %q", body.Status)
	}
	if body.Records != 4 {
		t.Errorf("expected 4 records, got %d", body.Records)
	}
}

func TestEndpointsBeforeFirstLoad(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, nil)
	h := srv.Handler()

	if w := do(t, h, "GET", "/api/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("health: expected 503, got %d", w.Code)
	}
	w := do(t, h, "GET", "/api/accidents", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("accidents: expected 503, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestAccidentsFilter(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())

	w := do(t, srv.Handler(), "GET", "/api/accidents?country=France&year=2010&limit=1", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var page struct {
		Data []struct {
			Country   string `json:"country"`
			EventDate string `json:"event_date"`
		} `json:"data"`
		Total int `json:"total"`
		Limit int `json:"limit"`
	}
	decode(t, w, &page)
	if page.Total != 2 {
		t.Errorf("expected total 2, got %d", page.Total)
	}
	if page.Limit != 1 || len(page.Data) != 1 {
		t.Fatalf("expected a single row page, got limit=%d rows=%d", page.Limit, len(page.Data))
	}
	if page.Data[0].Country != "France" || !strings.HasPrefix(page.Data[0].EventDate, "2010-") {
		t.Errorf("unexpected row %+v", page.Data[0])
	}
}

func TestAccidentsEmptyResultIsArray(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())

	w := do(t, srv.Handler(), "GET", "/api/accidents?country=Atlantis", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"data":[]`) {
		t.Errorf("expected empty data array, got %s", w.Body.String())
	}
}

func TestValidationErrorsNameTheField(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())
	h := srv.Handler()

	tests := []struct {
		target string
		field  string
	}{
		{"/api/accidents?limit=abc", "limit"},
		{"/api/accidents?limit=0", "limit"},
		{"/api/accidents?offset=-1", "offset"},
		{"/api/accidents?year=twenty", "year"},
		{"/api/accidents/by-airline?top=x", "top"},
		{"/api/accidents/by-location?top=-3", "top"},
		{"/api/prediction-samples?n=0", "n"},
	}
	for _, tt := range tests {
		w := do(t, h, "GET", tt.target, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tt.target, w.Code)
			continue
		}
		var body struct {
			Field string `json:"field"`
		}
		decode(t, w, &body)
		if body.Field != tt.field {
			t.Errorf("%s: expected field %q, got %q", tt.target, tt.field, body.Field)
		}
	}
}

func TestStatsKeys(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())

	w := do(t, srv.Handler(), "GET", "/api/stats", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]struct {
		TotalRecords int `json:"total_records"`
	}
	decode(t, w, &body)
	if body["airline_accidents"].TotalRecords != 3 {
		t.Errorf("expected 3 airline records, got %d", body["airline_accidents"].TotalRecords)
	}
	if body["ntsb_data"].TotalRecords != 1 {
		t.Errorf("expected 1 ntsb record, got %d", body["ntsb_data"].TotalRecords)
	}
}

func TestAggregateEndpoints(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())
	h := srv.Handler()

	for _, target := range []string{
		"/api/accidents/by-year",
		"/api/accidents/by-airline?top=1",
		"/api/accidents/by-location",
		"/api/accidents/severity-distribution",
		"/api/target-distributions",
		"/api/model-performance",
		"/api/prediction-samples?n=2",
		"/",
	} {
		if w := do(t, h, "GET", target, ""); w.Code != 200 {
			t.Errorf("%s: expected 200, got %d: %s", target, w.Code, w.Body.String())
		}
	}

	w := do(t, h, "GET", "/api/accidents/by-airline?top=1", "")
	var makes []struct {
		Make  string `json:"make"`
		Total int    `json:"total_accidents"`
	}
	decode(t, w, &makes)
	if len(makes) != 1 || makes[0].Make != "Cessna" || makes[0].Total != 2 {
		t.Errorf("unexpected top make %+v", makes)
	}
}

func TestPredictMissingAirline(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())

	w := do(t, srv.Handler(), "POST", "/api/predict", `{"aircraft_type":"A320"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"field":"airline"`) {
		t.Errorf("expected airline field in %s", w.Body.String())
	}
}

func TestPredictMalformedBody(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())

	w := do(t, srv.Handler(), "POST", "/api/predict", `{"airline":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"field":"body"`) {
		t.Errorf("expected body field in %s", w.Body.String())
	}
}

func TestPredictSuccess(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())

	body := `{"airline":"Qantas","aircraft_type":"A330","departure_airport":"SYD","arrival_airport":"MEL","number_of_engines":"4"}`
	w := do(t, srv.Handler(), "POST", "/api/predict", body)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Message    string `json:"message"`
		Prediction struct {
			RiskScore float64 `json:"risk_score"`
			RiskLevel string  `json:"risk_level"`
		} `json:"prediction"`
	}
	decode(t, w, &resp)
	if resp.Message == "" {
		t.Error("expected a message")
	}
	if resp.Prediction.RiskScore != 25 || resp.Prediction.RiskLevel != "Low" {
		t.Errorf("unexpected placeholder prediction %+v", resp.Prediction)
	}
}

func TestWrongMethodUnderAPI(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())
	h := srv.Handler()

	for _, tt := range []struct{ method, target string }{
		{"GET", "/api/predict"},
		{"POST", "/api/stats"},
		{"GET", "/api/admin/reload"},
	} {
		w := do(t, h, tt.method, tt.target, "")
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tt.method, tt.target, w.Code)
			continue
		}
		if !strings.Contains(w.Body.String(), `"error":"method not allowed"`) {
			t.Errorf("%s %s: unexpected body %s", tt.method, tt.target, w.Body.String())
		}
	}
}

func newPlotServer(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "plots"), 0o755); err != nil {
		t.Fatal(err)
	}
	png := []byte("\x89PNG\r\n\x1a\nfake")
	if err := os.WriteFile(filepath.Join(dir, "plots", "feature_importance.png"), png, 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := predict.NewRegistry("", predict.ModeAuto)
	if err != nil {
		t.Fatal(err)
	}
	return api.NewServer(api.Options{
		ModelDir: dir,
		Holder:   recordstore.NewHolder(testSnapshot()),
		Predict:  predict.NewService(reg),
		Registry: reg,
	}).Handler()
}

func TestPlotServed(t *testing.T) {
	t.Parallel()
	h := newPlotServer(t)

	w := do(t, h, "GET", "/api/plots/feature_importance", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %q", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "\x89PNG") {
		t.Errorf("unexpected body %q", w.Body.String())
	}
}

func TestPlotMissing(t *testing.T) {
	t.Parallel()
	h := newPlotServer(t)

	for _, target := range []string{
		"/api/plots/confusion_matrix",
		"/api/plots/a.b",
	} {
		w := do(t, h, "GET", target, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, w.Code)
			continue
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: expected JSON 404, got %q", target, ct)
		}
	}

	srv, _ := newServer(t, testSnapshot())
	if w := do(t, srv.Handler(), "GET", "/api/plots/feature_importance", ""); w.Code != http.StatusNotFound {
		t.Errorf("without a model dir: expected 404, got %d", w.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())

	w := do(t, srv.Handler(), "GET", "/api/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON 404, got %q", ct)
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())

	w := do(t, srv.Handler(), "OPTIONS", "/api/predict", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected wildcard origin, got %q", got)
	}
}

func TestRealFlightsUnconfigured(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())

	w := do(t, srv.Handler(), "GET", "/api/realflights", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

const reloadCSV = `Event Date,Country,Make,Model,Injury Severity,Total Fatal Injuries
2010-03-07,France,Airbus,A320,Fatal(2),2
2011-05-01,Spain,Cessna,172,Non-Fatal,0
`

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestReloadAndLoadRuns(t *testing.T) {
	t.Parallel()
	st := setupTestStore(t)

	reg, err := predict.NewRegistry("", predict.ModeAuto)
	if err != nil {
		t.Fatal(err)
	}
	holder := recordstore.NewHolder(nil)
	loader := dataset.NewLoader().WithOpener(func(ctx context.Context, location string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(reloadCSV)), nil
	})
	reloader := recordstore.NewReloader(holder, loader, []dataset.Source{
		{Kind: models.SourceAirlineAccidents, Location: "mem://airline.csv"},
	})
	reloader.SetRecorder(st)

	srv := api.NewServer(api.Options{
		Holder:   holder,
		Reloader: reloader,
		Predict:  predict.NewService(reg),
		Registry: reg,
		Ledger:   st,
	})
	h := srv.Handler()

	w := do(t, h, "POST", "/api/admin/reload", "")
	if w.Code != 200 {
		t.Fatalf("reload: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var reloaded struct {
		SnapshotID string `json:"snapshot_id"`
		Records    int    `json:"records"`
	}
	decode(t, w, &reloaded)
	if reloaded.Records != 2 || reloaded.SnapshotID == "" {
		t.Errorf("unexpected reload response %+v", reloaded)
	}

	w = do(t, h, "GET", "/api/health", "")
	if w.Code != 200 {
		t.Fatalf("health after reload: expected 200, got %d", w.Code)
	}
	var health struct {
		Ledger  string `json:"ledger"`
		Sources []struct {
			Location    string `json:"location"`
			RowsLoaded  int    `json:"rows_loaded"`
			Fingerprint string `json:"fingerprint"`
		} `json:"sources"`
	}
	decode(t, w, &health)
	if health.Ledger != "ok" {
		t.Errorf("expected ledger ok, got %q", health.Ledger)
	}
	if len(health.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(health.Sources))
	}
	if src := health.Sources[0]; src.Location != "mem://airline.csv" || src.RowsLoaded != 2 || len(src.Fingerprint) != 64 {
		t.Errorf("unexpected source health %+v", src)
	}

	w = do(t, h, "GET", "/api/load-runs?limit=5", "")
	if w.Code != 200 {
		t.Fatalf("load-runs: expected 200, got %d", w.Code)
	}
	var runs struct {
		Runs []struct {
			SnapshotID string `json:"snapshot_id"`
			RowsLoaded int    `json:"rows_loaded"`
			Success    bool   `json:"success"`
		} `json:"runs"`
	}
	decode(t, w, &runs)
	if len(runs.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs.Runs))
	}
	if !runs.Runs[0].Success || runs.Runs[0].RowsLoaded != 2 || runs.Runs[0].SnapshotID != reloaded.SnapshotID {
		t.Errorf("unexpected run %+v", runs.Runs[0])
	}
}

func TestLoadRunsWithoutLedger(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, testSnapshot())

	if w := do(t, srv.Handler(), "GET", "/api/load-runs", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(t, srv.Handler(), "POST", "/api/admin/reload", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
