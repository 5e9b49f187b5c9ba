package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/lox/aviationstats/internal/aggregate"
	"github.com/lox/aviationstats/internal/apperr"
	"github.com/lox/aviationstats/internal/httputil"
	"github.com/lox/aviationstats/internal/models"
	"github.com/lox/aviationstats/internal/predict"
	"github.com/lox/aviationstats/internal/query"
	"github.com/lox/aviationstats/internal/recordstore"
	"github.com/lox/aviationstats/internal/samples"
)

const (
	maxPredictBody  = 64 << 10
	defaultLoadRuns = 20
	maxLoadRuns     = 200
)

var endpoints = []string{
	"GET /api/health",
	"GET /api/stats",
	"GET /api/accidents?limit&offset&country&severity&year",
	"GET /api/accidents/by-year",
	"GET /api/accidents/by-airline?top",
	"GET /api/accidents/by-location?top",
	"GET /api/accidents/severity-distribution",
	"GET /api/model-performance",
	"GET /api/plots/{name}",
	"GET /api/target-distributions",
	"GET /api/prediction-samples?n",
	"POST /api/predict",
	"GET /api/realflights",
	"GET /api/load-runs?limit",
	"POST /api/admin/reload",
	"GET /metrics",
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]any{
		"message":   "Aviation accident statistics API",
		"endpoints": endpoints,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap, err := s.opts.Holder.Current()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "loading"})
		return
	}
	body := map[string]any{
		"status":      "healthy",
		"snapshot_id": snap.ID(),
		"records":     snap.Len(),
		"loaded_at":   snap.BuiltAt(),
		"sources":     sourceHealth(snap),
	}
	if s.opts.Ledger != nil {
		body["ledger"] = "ok"
		if err := s.opts.Ledger.Ping(); err != nil {
			log.Printf("api: ledger ping: %v", err)
			body["ledger"] = "unreachable"
		}
	}
	httputil.WriteJSONOK(w, body)
}

type sourceStatus struct {
	Source          models.Source `json:"source"`
	Location        string        `json:"location"`
	Fingerprint     string        `json:"fingerprint"`
	RowsLoaded      int           `json:"rows_loaded"`
	RowsSkipped     int           `json:"rows_skipped"`
	MalformedFields int           `json:"malformed_fields"`
	FinishedAt      time.Time     `json:"finished_at"`
}

func sourceHealth(snap *recordstore.Snapshot) []sourceStatus {
	out := []sourceStatus{}
	for _, d := range snap.Diagnostics() {
		out = append(out, sourceStatus{
			Source:          d.Kind,
			Location:        d.Location,
			Fingerprint:     d.Fingerprint,
			RowsLoaded:      d.RowsLoaded,
			RowsSkipped:     d.RowsSkipped(),
			MalformedFields: d.MalformedFields(),
			FinishedAt:      d.FinishedAt,
		})
	}
	return out
}

// statsKeys are the response keys per source.
var statsKeys = map[models.Source]string{
	models.SourceAirlineAccidents: "airline_accidents",
	models.SourceNTSB:             "ntsb_data",
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[string]models.DatasetStats, len(statsKeys))
	for src, st := range aggregate.Summary(snap) {
		out[statsKeys[src]] = st
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleAccidents(w http.ResponseWriter, r *http.Request) {
	params, err := query.ParseParams(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := query.Run(snap, params.Filter, params.Limit, params.Offset)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, page)
}

func (s *Server) handleByYear(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	years, err := aggregate.ByYear(snap)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, years)
}

func (s *Server) handleByAirline(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r.URL.Query(), "top", aggregate.DefaultTop, aggregate.MaxTop)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, aggregate.ByMake(snap, top))
}

func (s *Server) handleByLocation(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r.URL.Query(), "top", aggregate.DefaultTop, aggregate.MaxTop)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, aggregate.ByCountry(snap, top))
}

func (s *Server) handleSeverityDistribution(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	dist, err := aggregate.SeverityDistribution(snap)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, dist)
}

func (s *Server) handleModelPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := predict.Performance(s.opts.ModelDir)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, perf)
}

// handlePlot serves a chart written by the training script to
// <model-dir>/plots/<name>.png.
func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if s.opts.ModelDir == "" {
		writeError(w, &apperr.NotFoundError{What: "plot " + name})
		return
	}
	path := filepath.Join(s.opts.ModelDir, "plots", name+".png")
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, &apperr.NotFoundError{What: "plot " + name})
		return
	}
	if err != nil {
		writeError(w, fmt.Errorf("open plot: %w", err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, fmt.Errorf("stat plot: %w", err))
		return
	}
	if info.IsDir() {
		writeError(w, &apperr.NotFoundError{What: "plot " + name})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleTargetDistributions(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	targets, err := aggregate.Targets(snap)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, targets)
}

func (s *Server) handlePredictionSamples(w http.ResponseWriter, r *http.Request) {
	n, err := samples.ParsePerCategory(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := samples.ByCategory(snap, s.opts.Registry.For(snap), n)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predict.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxPredictBody))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, apperr.Invalid("body", "request body is empty"))
			return
		}
		writeError(w, apperr.Invalid("body", "malformed JSON: %v", err))
		return
	}
	snap, err := s.snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.opts.Predict.Predict(r.Context(), snap, req)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleRealFlights(w http.ResponseWriter, r *http.Request) {
	if s.opts.Flights == nil {
		writeError(w, apperr.Unavailable("live flight feed", false, errors.New("not configured")))
		return
	}
	snap, err := s.snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	live, err := s.opts.Flights.Live(r.Context(), snap)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, live)
}

func (s *Server) handleLoadRuns(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ledger == nil {
		writeError(w, &apperr.NotFoundError{What: "load-run ledger"})
		return
	}
	limit, err := intParam(r.URL.Query(), "limit", defaultLoadRuns, maxLoadRuns)
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := s.opts.Ledger.ListLoadRuns(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"runs": runs})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reloader == nil {
		writeError(w, &apperr.NotFoundError{What: "reload"})
		return
	}
	snap, err := s.opts.Reloader.Reload(r.Context())
	if err != nil {
		writeError(w, apperr.Unavailable("dataset sources", true, err))
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"snapshot_id": snap.ID(),
		"records":     snap.Len(),
		"loaded_at":   snap.BuiltAt(),
	})
}

// intParam reads a positive integer, defaulting when absent and clamping
// to max.
func intParam(v url.Values, name string, def, max int) (int, error) {
	s := strings.TrimSpace(v.Get(name))
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperr.Invalid(name, "%q is not an integer", s)
	}
	if n <= 0 {
		return 0, apperr.Invalid(name, "must be positive, got %d", n)
	}
	return min(n, max), nil
}
