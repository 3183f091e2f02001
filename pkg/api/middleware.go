package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/opsline/switchyard/pkg/metrics"
)

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// withRequestMetrics records a counter and latency histogram per request.
// The route pattern is used as the path label so ids do not explode
// cardinality.
func (s *Server) withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		timer := metrics.NewTimer()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		path := routeLabel(r.URL.Path)
		metrics.APIRequestsTotal.
			WithLabelValues(r.Method, path, strconv.Itoa(recorder.status)).
			Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method, path)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", timer.Duration()).
			Msg("request handled")
	})
}

// routeLabel collapses resource ids out of the path so metric labels stay
// low-cardinality: /v1/rollouts/abc123/abort -> /v1/rollouts/{id}/abort.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" {
		parts[2] = "{id}"
	}
	return "/" + strings.Join(parts, "/")
}
