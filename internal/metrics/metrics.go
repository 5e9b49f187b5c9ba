package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aviationstats_records_loaded_total",
			Help: "Total accident records loaded from dataset sources",
		},
		[]string{"source"},
	)

	RowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aviationstats_rows_skipped_total",
			Help: "Dataset rows skipped at load, by reason",
		},
		[]string{"source", "reason"},
	)

	MalformedFields = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aviationstats_malformed_fields_total",
			Help: "Dataset cells that were malformed and defaulted",
		},
		[]string{"source", "field"},
	)

	SnapshotRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aviationstats_snapshot_records",
			Help: "Number of records in the published snapshot",
		},
	)

	Reloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aviationstats_reloads_total",
			Help: "Dataset reloads by outcome",
		},
		[]string{"status"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aviationstats_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "method", "status"},
	)

	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aviationstats_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	Predictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aviationstats_predictions_total",
			Help: "Predictions served, by model",
		},
		[]string{"model"},
	)

	FlightAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aviationstats_flight_api_calls_total",
			Help: "Total live flight API calls",
		},
		[]string{"status"},
	)

	FlightAPILatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aviationstats_flight_api_latency_seconds",
			Help:    "Live flight API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
