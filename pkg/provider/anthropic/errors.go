package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/provider"
)

// ClassifyError maps a non-2xx Messages API response to the error taxonomy.
func ClassifyError(providerName string, status int, body []byte) *api.Error {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != nil {
		return classifyBody(providerName, status, er.Error, body)
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return provider.StatusError(providerName, status, "", msg, body)
}

// classifyBody builds an error from a decoded error object. status is 0
// for "error" stream events.
func classifyBody(providerName string, status int, eb *ErrorBody, body []byte) *api.Error {
	e := provider.StatusError(providerName, status, eb.Type, eb.Message, body)

	switch {
	case isPromptTooLong(eb):
		e.Kind = api.ErrorPermanent
		e.Code = "context_length_exceeded"
	case status != 0:
		// StatusError already classified by HTTP status.
	case eb.Type == "overloaded_error", eb.Type == "rate_limit_error", eb.Type == "api_error":
		e.Kind = api.ErrorTransient
	default:
		e.Kind = api.ErrorPermanent
	}
	return e
}

func isPromptTooLong(eb *ErrorBody) bool {
	if eb.Type != "invalid_request_error" {
		return false
	}
	m := strings.ToLower(eb.Message)
	return strings.Contains(m, "prompt is too long") || strings.Contains(m, "context window")
}
