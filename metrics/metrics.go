package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seclog_records_ingested_total",
			Help: "Total number of log records stored",
		},
		[]string{"logfile"},
	)

	DuplicatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seclog_duplicates_skipped_total",
			Help: "Total number of records skipped because they were already stored",
		},
	)

	NormalizationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seclog_normalization_errors_total",
			Help: "Total number of records that failed normalization",
		},
		[]string{"kind"},
	)

	PollCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seclog_poll_cycles_total",
			Help: "Total number of completed poll cycles",
		},
	)

	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seclog_source_errors_total",
			Help: "Total number of event log read failures",
		},
		[]string{"source"},
	)

	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seclog_alerts_triggered_total",
			Help: "Total number of alerts produced by the detection engines",
		},
		[]string{"engine"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seclog_evaluation_duration_seconds",
			Help:    "Time taken by one rule evaluation pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetentionRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seclog_retention_rows_total",
			Help: "Total number of rows handled by retention",
		},
		[]string{"mode"},
	)

	IncidentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seclog_incidents_created_total",
			Help: "Total number of incidents created from alerts",
		},
	)

	SQLitePoolOpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "seclog_sqlite_pool_open_connections",
			Help: "Number of open connections in the SQLite pools",
		},
		[]string{"pool"},
	)

	SQLitePoolInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "seclog_sqlite_pool_in_use",
			Help: "Number of SQLite connections currently in use",
		},
		[]string{"pool"},
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seclog_api_requests_total",
			Help: "Total number of API requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	APIPanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seclog_api_panics_recovered_total",
			Help: "Total number of panics recovered in API handlers",
		},
		[]string{"method", "route"},
	)
)
