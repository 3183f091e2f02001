package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPChecker probes an HTTP endpoint and judges health by response status.
// A zero expected status accepts any 2xx or 3xx response; a non-zero value
// requires that exact status, mirroring the expected_status field of a
// deployment spec health check.
type HTTPChecker struct {
	endpoint       string
	expectedStatus int
	client         *http.Client
}

// NewHTTPChecker builds a checker for an HTTP health endpoint. A
// non-positive timeout falls back to the default.
func NewHTTPChecker(endpoint string, expectedStatus int, timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPChecker{
		endpoint:       endpoint,
		expectedStatus: expectedStatus,
		client:         &http.Client{Timeout: timeout},
	}
}

// Check issues a GET against the endpoint and maps the response status to a
// probe result.
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return probeResult(start, false, fmt.Sprintf("build request: %v", err))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return probeResult(start, false, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	healthy := h.accepts(resp.StatusCode)
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		if h.expectedStatus > 0 {
			message = fmt.Sprintf("%s (want %d)", message, h.expectedStatus)
		} else {
			message = fmt.Sprintf("%s (want 2xx or 3xx)", message)
		}
	}
	return probeResult(start, healthy, message)
}

func (h *HTTPChecker) accepts(code int) bool {
	if h.expectedStatus > 0 {
		return code == h.expectedStatus
	}
	return code >= 200 && code < 400
}

// Type returns the health check type.
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}
