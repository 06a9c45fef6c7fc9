// Package api serves the local HTTP surface used by the dashboard: log
// queries, active alerts, incident tracking, health and metrics.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"seclog/core"
	"seclog/service"
	"seclog/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Monitor is the service surface the handlers call.
type Monitor interface {
	SyncAndQuery(ctx context.Context, filter core.QueryFilter) (service.SyncResult, error)
	Query(ctx context.Context, filter core.QueryFilter) (storage.QueryResult, error)
	Export(ctx context.Context, filter core.QueryFilter, w io.Writer) (int, error)
	ActiveAlerts() []core.Alert
	Evaluate(ctx context.Context) ([]core.Alert, error)
	PromoteAlert(ctx context.Context, alert core.Alert) (core.Incident, error)
	ListIncidents(ctx context.Context) ([]core.Incident, error)
	GetIncident(ctx context.Context, id int64) (core.Incident, error)
	UpdateIncidentStatus(ctx context.Context, id int64, status core.IncidentStatus, notes *string) (core.Incident, error)
}

// HealthChecker reports storage health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// API holds the API server
type API struct {
	router  *mux.Router
	server  *http.Server
	monitor Monitor
	health  HealthChecker
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewAPI creates a new API server. requestsPerSecond <= 0 disables rate
// limiting.
func NewAPI(monitor Monitor, health HealthChecker, requestsPerSecond float64, logger *zap.SugaredLogger) *API {
	a := &API{
		router:  mux.NewRouter(),
		monitor: monitor,
		health:  health,
		logger:  logger,
	}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	a.setupRoutes()
	return a
}

// Handler returns the router, for tests and embedding.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.errorRecoveryMiddleware)
	a.router.Use(a.rateLimitMiddleware)
	a.router.HandleFunc("/api/logs", a.getLogs).Methods("GET")
	a.router.HandleFunc("/api/logs/export", a.exportLogs).Methods("GET")
	a.router.HandleFunc("/api/logs/summary", a.getSummary).Methods("GET")
	a.router.HandleFunc("/api/alerts", a.getAlerts).Methods("GET")
	a.router.HandleFunc("/api/alerts/evaluate", a.evaluateRules).Methods("POST")
	a.router.HandleFunc("/api/alerts/promote", a.promoteAlert).Methods("POST")
	a.router.HandleFunc("/api/incidents", a.getIncidents).Methods("GET")
	a.router.HandleFunc("/api/incidents/{id}", a.getIncident).Methods("GET")
	a.router.HandleFunc("/api/incidents/{id}/status", a.updateIncidentStatus).Methods("PUT")
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Start starts the API server
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}
