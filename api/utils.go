package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"seclog/core"

	"go.uber.org/zap"
)

const (
	maxErrorMessageLength = 500
	maxQueryLimit         = 10000
	maxKeywordLength      = 256
)

var (
	filePathPattern   = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\\/:*?"<>|\s]+[\\/ ])*[^\\/:*?"<>|\s]+`)
	privateIPPattern  = regexp.MustCompile(`\b(?:10|127)(?:\.\d{1,3}){3}(?::\d{1,5})?\b`)
	stackTracePattern = regexp.MustCompile(`(?m)^goroutine \d+.*$`)
)

// sanitizeErrorMessage removes paths and addresses from messages sent to clients
func sanitizeErrorMessage(message string) string {
	message = filePathPattern.ReplaceAllString(message, "[FILE_PATH]")
	message = privateIPPattern.ReplaceAllString(message, "[PRIVATE_IP]")
	message = stackTracePattern.ReplaceAllString(message, "[STACK_TRACE]")

	if len(message) > maxErrorMessageLength {
		message = message[:maxErrorMessageLength-3] + "..."
	}
	return message
}

// writeError logs the full error and sends a sanitized message to the client
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Warnw(message, "error", err.Error(), "status_code", statusCode)
		} else {
			logger.Warnw(message, "status_code", statusCode)
		}
	}
	http.Error(w, sanitizeErrorMessage(message), statusCode)
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}, logger *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil && logger != nil {
		logger.Errorw("Failed to encode response", "error", err)
	}
}

// parseQueryFilter reads logfile (repeatable or comma separated), start,
// end, keyword and limit.
func parseQueryFilter(r *http.Request) (core.QueryFilter, error) {
	q := r.URL.Query()
	var filter core.QueryFilter

	for _, v := range q["logfile"] {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				filter.Logfiles = append(filter.Logfiles, core.ParseLogfile(name))
			}
		}
	}

	var err error
	if filter.StartDate, err = core.ParseDate(q.Get("start")); err != nil {
		return filter, fmt.Errorf("invalid start date, expected YYYY-MM-DD")
	}
	if filter.EndDate, err = core.ParseDate(q.Get("end")); err != nil {
		return filter, fmt.Errorf("invalid end date, expected YYYY-MM-DD")
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return filter, fmt.Errorf("end date is before start date")
	}

	filter.Keyword = q.Get("keyword")
	if len(filter.Keyword) > maxKeywordLength {
		return filter, fmt.Errorf("keyword exceeds %d characters", maxKeywordLength)
	}

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 || limit > maxQueryLimit {
			return filter, fmt.Errorf("limit must be between 0 and %d", maxQueryLimit)
		}
		filter.Limit = limit
	}
	return filter, nil
}
