package provider

import (
	"fmt"
	"net/http"

	"github.com/rhuss/palaver/pkg/api"
)

// StatusKind maps an HTTP status to an error kind. Timeouts, rate limits
// and server errors are transient; everything else is permanent.
func StatusKind(status int) api.ErrorKind {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= http.StatusInternalServerError:
		return api.ErrorTransient
	default:
		return api.ErrorPermanent
	}
}

// StatusError builds a classified error for a non-2xx response. message
// falls back to a generic description of the status.
func StatusError(providerName string, status int, code, message string, body []byte) *api.Error {
	if message == "" {
		message = fmt.Sprintf("unexpected status %d %s", status, http.StatusText(status))
	}
	e := api.NewMalformedResponseError(message, body)
	e.Kind = StatusKind(status)
	e.Provider = providerName
	e.StatusCode = status
	e.Code = code
	return e
}
