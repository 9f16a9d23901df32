package observability

import (
	"net/http"
	"strconv"
	"time"
)

// Transport wraps an http.RoundTripper to record outbound request metrics.
//
// It captures:
//   - palaver_http_requests_total (counter): per request with host, method and status class
//   - palaver_http_request_duration_seconds (histogram): time until response headers
type Transport struct {
	Base http.RoundTripper
}

// NewTransport wraps base. A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)

	host := req.URL.Host
	HTTPRequestDuration.WithLabelValues(host, req.Method).Observe(time.Since(start).Seconds())

	status := "error"
	if err == nil {
		// Status class label like "2xx", "4xx", "5xx".
		status = strconv.Itoa(resp.StatusCode/100) + "xx"
	}
	HTTPRequestsTotal.WithLabelValues(host, req.Method, status).Inc()

	return resp, err
}

// CloseIdleConnections forwards to the base transport when supported.
func (t *Transport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if c, ok := t.Base.(closeIdler); ok {
		c.CloseIdleConnections()
	}
}
