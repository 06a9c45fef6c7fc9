package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"seclog/core"
	"seclog/detect"
	"seclog/service"
	"seclog/storage"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

const maxRequestBody = 1 << 20

var validate = validator.New()

type logsResponse struct {
	Records      []core.LogRecord `json:"records"`
	SourceCounts map[string]int   `json:"source_counts"`
	Inserted     int              `json:"inserted,omitempty"`
	Errors       []string         `json:"errors,omitempty"`
	NewAlerts    []core.Alert     `json:"new_alerts,omitempty"`
}

// getLogs answers a log query. With sync=true the sources are read and
// stored first.
func (a *API) getLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseQueryFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	var resp logsResponse
	if sync, _ := strconv.ParseBool(r.URL.Query().Get("sync")); sync {
		res, err := a.monitor.SyncAndQuery(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to query logs", err, a.logger)
			return
		}
		resp = logsResponse{
			Records:      res.Records,
			SourceCounts: res.SourceCounts,
			Inserted:     res.Inserted,
			Errors:       res.ErrorMessages(),
			NewAlerts:    res.NewAlerts,
		}
	} else {
		res, err := a.monitor.Query(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to query logs", err, a.logger)
			return
		}
		resp = logsResponse{Records: res.Records, SourceCounts: res.SourceCounts}
	}
	if resp.Records == nil {
		resp.Records = []core.LogRecord{}
	}
	writeJSON(w, http.StatusOK, resp, a.logger)
}

func (a *API) getSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseQueryFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	res, err := a.monitor.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query logs", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, core.Summarize(res.Records), a.logger)
}

func (a *API) exportLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseQueryFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	name := "logs-" + time.Now().UTC().Format("20060102T150405Z") + ".csv"
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if _, err := a.monitor.Export(r.Context(), filter, w); err != nil {
		// headers are gone once rows were written; this only helps early failures
		writeError(w, http.StatusInternalServerError, "Failed to export logs", err, a.logger)
	}
}

func (a *API) getAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.monitor.ActiveAlerts(), a.logger)
}

func (a *API) evaluateRules(w http.ResponseWriter, r *http.Request) {
	added, err := a.monitor.Evaluate(r.Context())
	if errors.Is(err, detect.ErrEvaluationInProgress) {
		writeError(w, http.StatusConflict, "Evaluation already in progress", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Evaluation failed", err, a.logger)
		return
	}
	if added == nil {
		added = []core.Alert{}
	}
	writeJSON(w, http.StatusOK, added, a.logger)
}

type promoteRequest struct {
	RuleName    string        `json:"rule_name" validate:"required,max=200"`
	Description string        `json:"description" validate:"max=2000"`
	TriggerTime time.Time     `json:"trigger_time" validate:"required"`
	Count       int           `json:"count"`
	Threshold   int           `json:"threshold"`
	TimeWindow  time.Duration `json:"time_window"`
}

func (a *API) promoteAlert(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err, a.logger)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid alert", err, a.logger)
		return
	}

	incident, err := a.monitor.PromoteAlert(r.Context(), core.Alert(req))
	switch {
	case errors.Is(err, service.ErrUnknownRule):
		writeError(w, http.StatusUnprocessableEntity, "Alert references an unknown rule", err, a.logger)
	case errors.Is(err, service.ErrAlertNotActive):
		writeError(w, http.StatusNotFound, "Alert is not active", err, a.logger)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to create incident", err, a.logger)
	default:
		writeJSON(w, http.StatusCreated, incident, a.logger)
	}
}

func (a *API) getIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.monitor.ListIncidents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list incidents", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, incidents, a.logger)
}

func (a *API) getIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := incidentID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid incident ID", nil, a.logger)
		return
	}

	incident, err := a.monitor.GetIncident(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrIncidentNotFound):
		writeError(w, http.StatusNotFound, "Incident not found", err, a.logger)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to get incident", err, a.logger)
	default:
		writeJSON(w, http.StatusOK, incident, a.logger)
	}
}

func incidentID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}

type statusRequest struct {
	Status string  `json:"status" validate:"required"`
	Notes  *string `json:"notes" validate:"omitempty,max=10000"`
}

func (a *API) updateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := incidentID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid incident ID", nil, a.logger)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err, a.logger)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status update", err, a.logger)
		return
	}
	status, ok := core.ParseIncidentStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown incident status", nil, a.logger)
		return
	}

	incident, err := a.monitor.UpdateIncidentStatus(r.Context(), id, status, req.Notes)
	switch {
	case errors.Is(err, storage.ErrIncidentNotFound):
		writeError(w, http.StatusNotFound, "Incident not found", err, a.logger)
	case errors.Is(err, storage.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "Invalid status transition", err, a.logger)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to update incident", err, a.logger)
	default:
		writeJSON(w, http.StatusOK, incident, a.logger)
	}
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health.HealthCheck(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err, a.logger)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, a.logger)
}
