package openaicompat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/provider"
)

// ClassifyError maps a non-2xx Chat Completions response to the error
// taxonomy. The status decides the kind; the body refines the code and
// message when it parses as a ChatErrorResponse.
func ClassifyError(providerName string, status int, body []byte) *api.Error {
	var resp ChatErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Error != nil {
		return classifyChatError(providerName, status, resp.Error, body)
	}
	return provider.StatusError(providerName, status, "", strings.TrimSpace(string(truncateBody(body))), body)
}

// classifyChatError builds an error from a decoded error object. status is
// 0 for errors reported inside a 200 stream.
func classifyChatError(providerName string, status int, ce *ChatError, body []byte) *api.Error {
	code := codeString(ce.Code)
	if code == "" {
		code = ce.Type
	}

	var kind api.ErrorKind
	switch {
	case isContextLengthExceeded(code, ce.Message):
		kind = api.ErrorPermanent
		code = "context_length_exceeded"
	case code == "insufficient_quota":
		kind = api.ErrorPermanent
	case status != 0:
		kind = provider.StatusKind(status)
	case code == "rate_limit_exceeded", code == "server_error", code == "overloaded_error":
		kind = api.ErrorTransient
	default:
		kind = api.ErrorPermanent
	}

	e := provider.StatusError(providerName, status, code, ce.Message, body)
	e.Kind = kind
	if p, ok := ce.Param.(string); ok {
		e.Param = p
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		e.Code = "authentication_error"
	}
	return e
}

func isContextLengthExceeded(code, message string) bool {
	if code == "context_length_exceeded" {
		return true
	}
	m := strings.ToLower(message)
	return strings.Contains(m, "maximum context length") || strings.Contains(m, "context length exceeded")
}

func codeString(code any) string {
	switch v := code.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int(v))
	default:
		return fmt.Sprint(v)
	}
}

func truncateBody(body []byte) []byte {
	if len(body) > 200 {
		return body[:200]
	}
	return body
}
