package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/lox/aviationstats/internal/api"
	"github.com/lox/aviationstats/internal/dataset"
	"github.com/lox/aviationstats/internal/flights"
	"github.com/lox/aviationstats/internal/models"
	"github.com/lox/aviationstats/internal/predict"
	"github.com/lox/aviationstats/internal/recordstore"
	"github.com/lox/aviationstats/internal/store"
)

type Globals struct {
	DB string `help:"Path to the SQLite ledger." default:"data/aviationstats.db" env:"AVSTATS_DB" type:"path"`
}

type SourceFlags struct {
	AirlineSource   string `help:"Airline Accidents CSV (path, http(s):// or ftp:// URL)." default:"airline_accidents.csv" env:"AVSTATS_AIRLINE_SOURCE"`
	AirlineEncoding string `help:"Text encoding of the airline source." default:"latin1" env:"AVSTATS_AIRLINE_ENCODING"`
	NTSBSource      string `name:"ntsb-source" help:"NTSB CSV; empty to skip." default:"ntsb_aviation_data.csv" env:"AVSTATS_NTSB_SOURCE"`
	NTSBEncoding    string `name:"ntsb-encoding" help:"Text encoding of the NTSB source." default:"latin1" env:"AVSTATS_NTSB_ENCODING"`
}

func (f SourceFlags) sources() []dataset.Source {
	srcs := []dataset.Source{{Kind: models.SourceAirlineAccidents, Location: f.AirlineSource, Encoding: f.AirlineEncoding}}
	if f.NTSBSource != "" {
		srcs = append(srcs, dataset.Source{Kind: models.SourceNTSB, Location: f.NTSBSource, Encoding: f.NTSBEncoding})
	}
	return srcs
}

type ServeCmd struct {
	SourceFlags

	Port      string `help:"HTTP server port." default:"5000" env:"AVSTATS_PORT"`
	ModelDir  string `help:"Directory holding model artefacts." default:"models" env:"AVSTATS_MODEL_DIR"`
	ModelMode string `help:"Prediction model: auto, placeholder, linear or baseline." default:"auto" enum:"auto,placeholder,linear,baseline" env:"AVSTATS_MODEL_MODE"`
	NoLedger  bool   `help:"Do not record load runs or predictions." env:"AVSTATS_NO_LEDGER"`

	FlightsAPIKey  string        `name:"flights-api-key" help:"aviationstack access key." env:"AVSTATS_FLIGHTS_API_KEY,AVIATIONSTACK_API_KEY"`
	FlightsBaseURL string        `name:"flights-base-url" help:"aviationstack base URL." default:"http://api.aviationstack.com/v1" env:"AVSTATS_FLIGHTS_BASE_URL"`
	FlightsLimit   int           `name:"flights-limit" help:"Live flights per request." default:"10" env:"AVSTATS_FLIGHTS_LIMIT"`
	FlightsTimeout time.Duration `name:"flights-timeout" help:"Live flight fetch timeout including retries." default:"15s" env:"AVSTATS_FLIGHTS_TIMEOUT"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := predict.NewRegistry(c.ModelDir, c.ModelMode)
	if err != nil {
		return fmt.Errorf("models: %w", err)
	}
	svc := predict.NewService(registry)

	holder := recordstore.NewHolder(nil)
	reloader := recordstore.NewReloader(holder, dataset.NewLoader(), c.sources())

	opts := api.Options{
		Port:     c.Port,
		ModelDir: c.ModelDir,
		Holder:   holder,
		Reloader: reloader,
		Predict:  svc,
		Registry: registry,
	}

	if !c.NoLedger {
		if err := os.MkdirAll(filepath.Dir(g.DB), 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
		st, err := store.Open(g.DB)
		if err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		defer st.Close()
		log.Println("ledger: database migrated")
		reloader.SetRecorder(st)
		svc.SetLogger(st)
		opts.Ledger = st
	}

	client := flights.NewClient(flights.Config{
		BaseURL: c.FlightsBaseURL,
		APIKey:  c.FlightsAPIKey,
		Limit:   c.FlightsLimit,
		Timeout: c.FlightsTimeout,
	})
	opts.Flights = flights.NewFeed(client, svc)
	if c.FlightsAPIKey == "" {
		log.Println("flights: no API key configured, /api/realflights will report unavailable")
	}

	// The server answers 503 until the first snapshot is published.
	loadErr := make(chan error, 1)
	go func() {
		if _, err := reloader.Reload(ctx); err != nil && ctx.Err() == nil {
			loadErr <- err
			stop()
		}
	}()
	go reloadOnHangup(ctx, reloader)

	server := api.NewServer(opts)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	select {
	case err := <-loadErr:
		return fmt.Errorf("initial load: %w", err)
	default:
		return nil
	}
}

func reloadOnHangup(ctx context.Context, reloader *recordstore.Reloader) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			log.Println("reload: SIGHUP received")
			if _, err := reloader.Reload(ctx); err != nil {
				log.Printf("reload: %v (keeping current snapshot)", err)
			}
		}
	}
}

type CheckCmd struct {
	SourceFlags

	Only []string `arg:"" optional:"" help:"Sources to check (airline, ntsb); all when omitted."`
}

// Run loads the selected sources once and prints their diagnostics.
func (c *CheckCmd) Run(g *Globals) error {
	want := map[models.Source]bool{}
	for _, name := range c.Only {
		kind, ok := models.ParseSource(name)
		if !ok {
			return fmt.Errorf("unknown source %q", name)
		}
		want[kind] = true
	}

	loader := dataset.NewLoader()
	var failed error
	for _, src := range c.sources() {
		if len(want) > 0 && !want[src.Kind] {
			continue
		}
		_, diag, err := loader.LoadSource(context.Background(), src)
		if err != nil {
			fmt.Printf("%s: FAILED: %v\n", src, err)
			failed = errors.Join(failed, err)
			continue
		}
		fmt.Printf("%s: %d rows read, %d loaded, %d skipped, %d malformed fields\n",
			src, diag.RowsRead, diag.RowsLoaded, diag.RowsSkipped(), diag.MalformedFields())
		for reason, n := range diag.Skipped {
			fmt.Printf("  skipped %-20s %d\n", reason, n)
		}
		for field, n := range diag.Malformed {
			fmt.Printf("  malformed %-18s %d\n", field, n)
		}
		fmt.Printf("  fingerprint %s\n", diag.Fingerprint)
	}
	return failed
}

type RunsCmd struct {
	Limit int `help:"Number of load runs to list." default:"20"`
	Days  int `help:"Days of load health and prediction usage to summarise." default:"7"`
}

// Run prints recent load runs and ledger summaries.
func (c *RunsCmd) Run(g *Globals) error {
	st, err := store.Open(g.DB)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	defer st.Close()

	runs, err := st.ListLoadRuns(c.Limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSOURCE\tLOADED\tSKIPPED\tMALFORMED\tSNAPSHOT\tSTATUS")
	for _, r := range runs {
		status := "ok"
		if !r.Success {
			status = "error: " + r.ErrorMessage
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.Source, r.RowsLoaded, r.RowsSkipped, r.MalformedFields, r.SnapshotID, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	health, err := st.GetLoadHealth(c.Days)
	if err != nil {
		return err
	}
	fmt.Printf("\nLoad health, last %d days:\n", c.Days)
	for _, h := range health {
		fmt.Printf("  %s %-18s runs=%d ok=%d failed=%d loaded=%d skipped=%d\n",
			h.Date, h.Source, h.TotalRuns, h.SuccessRuns, h.FailedRuns, h.RowsLoaded, h.RowsSkipped)
	}

	usage, err := st.PredictionUsage(time.Now().AddDate(0, 0, -c.Days))
	if err != nil {
		return err
	}
	fmt.Printf("\nPredictions, last %d days:\n", c.Days)
	for _, u := range usage {
		fmt.Printf("  %-22s %6d  mean risk %.2f  last %s\n", u.Model, u.Predictions, u.MeanRiskScore, u.LastAt.Format(time.RFC3339))
	}
	return nil
}

type CLI struct {
	Globals

	Serve ServeCmd `cmd:"" default:"withargs" help:"Load the datasets and serve the API."`
	Check CheckCmd `cmd:"" help:"Load the datasets once and report diagnostics."`
	Runs  RunsCmd  `cmd:"" help:"List recorded load runs and ledger summaries."`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: loading .env: %v", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("aviationstats"),
		kong.Description("Aviation accident statistics and severity prediction API."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
