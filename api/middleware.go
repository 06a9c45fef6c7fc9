package api

import (
	"fmt"
	"net/http"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"seclog/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	requestIDHeader    = "X-Request-ID"
	maxRequestIDLength = 64
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// requestIDMiddleware tags every request with an ID, echoes it to the
// client and logs the completed request.
//
// A client-supplied X-Request-ID is kept when it is at most 64 characters of
// [A-Za-z0-9_-]; anything else is replaced with a fresh UUID so the value
// can never inject into logs.
func (a *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if len(requestID) > maxRequestIDLength || !requestIDPattern.MatchString(requestID) {
			requestID = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, requestID)

		wrapped := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := routeTemplate(r)
		metrics.APIRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()

		duration := time.Since(start)
		a.logger.Debugw("request_completed",
			"request_id", requestID,
			"method", r.Method,
			"route", route,
			"status", wrapped.statusCode,
			"duration_ms", duration.Milliseconds(),
		)
	})
}

// errorRecoveryMiddleware turns a handler panic into a 500. The stack trace
// is logged server-side only.
func (a *API) errorRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stackBuf := make([]byte, 4096)
				stackLen := runtime.Stack(stackBuf, false)
				route := routeTemplate(r)

				a.logger.Errorw("PANIC RECOVERED",
					"error", fmt.Sprintf("%v", err),
					"request_id", w.Header().Get(requestIDHeader),
					"method", r.Method,
					"route", route,
					"stack_trace", string(stackBuf[:stackLen]),
				)
				metrics.APIPanicsRecovered.WithLabelValues(r.Method, route).Inc()

				writeError(w, http.StatusInternalServerError, "Internal server error", fmt.Errorf("panic: %v", err), a.logger)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies the process-wide token bucket.
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.limiter != nil && !a.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded", nil, a.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// routeTemplate returns the matched mux route (e.g. /api/incidents/{id}/status)
// to keep metric labels bounded.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// responseWriterWrapper wraps http.ResponseWriter to capture the status code.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader captures the status code before writing it.
func (w *responseWriterWrapper) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Write implements http.ResponseWriter.Write and ensures status code is captured.
func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
