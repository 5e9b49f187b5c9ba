package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/aviationstats/internal/apperr"
	"github.com/lox/aviationstats/internal/flights"
	"github.com/lox/aviationstats/internal/httputil"
	"github.com/lox/aviationstats/internal/predict"
	"github.com/lox/aviationstats/internal/recordstore"
	"github.com/lox/aviationstats/internal/store"
)

// Ledger is the read side of the load-run store.
type Ledger interface {
	ListLoadRuns(limit int) ([]store.LoadRun, error)
	Ping() error
}

// Options wires the server to its collaborators. Reloader, Flights and
// Ledger are optional; their endpoints report unavailable without them.
type Options struct {
	Port     string
	ModelDir string
	Holder   *recordstore.Holder
	Reloader *recordstore.Reloader
	Predict  *predict.Service
	Registry *predict.Registry
	Flights  *flights.Feed
	Ledger   Ledger
}

type Server struct {
	opts Options
}

func NewServer(opts Options) *Server {
	return &Server{opts: opts}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(instrument)
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, &apperr.NotFoundError{What: r.URL.Path})
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.MethodNotAllowed(w)
	})
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = methodNotAllowed

	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Subrouters resolve their own misses; the parent's handlers are not
	// consulted for routes under /api.
	api := r.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = notFound
	api.MethodNotAllowedHandler = methodNotAllowed
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/accidents", s.handleAccidents).Methods("GET")
	api.HandleFunc("/accidents/by-year", s.handleByYear).Methods("GET")
	api.HandleFunc("/accidents/by-airline", s.handleByAirline).Methods("GET")
	api.HandleFunc("/accidents/by-location", s.handleByLocation).Methods("GET")
	api.HandleFunc("/accidents/severity-distribution", s.handleSeverityDistribution).Methods("GET")
	api.HandleFunc("/model-performance", s.handleModelPerformance).Methods("GET")
	api.HandleFunc("/plots/{name:[A-Za-z0-9_-]+}", s.handlePlot).Methods("GET")
	api.HandleFunc("/target-distributions", s.handleTargetDistributions).Methods("GET")
	api.HandleFunc("/prediction-samples", s.handlePredictionSamples).Methods("GET")
	api.HandleFunc("/predict", s.handlePredict).Methods("POST")
	api.HandleFunc("/realflights", s.handleRealFlights).Methods("GET")
	api.HandleFunc("/load-runs", s.handleLoadRuns).Methods("GET")
	api.HandleFunc("/admin/reload", s.handleReload).Methods("POST")

	return cors(logRequests(r))
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.opts.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("api: listening on :%s", s.opts.Port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// snapshot returns the published snapshot, or an unavailable error before
// the first load completes.
func (s *Server) snapshot() (*recordstore.Snapshot, error) {
	snap, err := s.opts.Holder.Current()
	if err != nil {
		return nil, apperr.Unavailable("record store", true, err)
	}
	return snap, nil
}
