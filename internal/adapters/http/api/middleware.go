package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/recon/pkg/logger"
	"github.com/okian/recon/pkg/metrics"
)

// MetricsMiddleware records request count, latency and error class for
// endpoint, and logs the request at debug level.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	log := logger.Named("http")
	return func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		elapsed := time.Since(begin)
		status := strconv.Itoa(rw.status)
		metrics.RecordHTTPRequest(endpoint, r.Method, status)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, status, float64(elapsed.Milliseconds()))
		if rw.status >= http.StatusBadRequest {
			metrics.RecordErrorByComponent("http", errorClass(rw.status))
		}

		log.Debug(r.Context(), "request served",
			logger.String("endpoint", endpoint),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rw.status),
			logger.Duration("elapsed", elapsed),
		)
	}
}

// errorClass buckets a failing status code for the errors-by-component series.
func errorClass(status int) string {
	switch {
	case status >= http.StatusInternalServerError:
		if status == http.StatusServiceUnavailable {
			return "unavailable"
		}
		return "server_error"
	case status == http.StatusTooManyRequests:
		return "backpressure"
	case status == http.StatusConflict:
		return "replayed_submission"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	default:
		return "client_error"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}
