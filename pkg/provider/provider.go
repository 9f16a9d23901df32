package provider

import (
	"net/http"
	"time"

	"github.com/rhuss/palaver/pkg/api"
)

// Adapter translates between the message model and one provider's wire
// format. A single Adapter is shared across calls and must be safe for
// concurrent use; per-call decode state lives in the Decoder it creates.
type Adapter interface {
	// Name returns the configured provider name (e.g., "anthropic", "local-vllm").
	Name() string

	// Capabilities returns what this provider supports.
	Capabilities() Capabilities

	// BuildRequest serializes the request into an HTTP payload. It fails
	// with an ErrorUnsupportedCapability error when the request needs a
	// feature the provider does not declare.
	BuildRequest(req *api.Request) (*WirePayload, error)

	// NewDecoder returns a decoder for one streamed response body.
	NewDecoder() Decoder

	// DecodeResponse decodes a complete non-streaming response body into a
	// sequence ending in a terminal event.
	DecodeResponse(body []byte) ([]api.Event, error)

	// ClassifyError maps a non-2xx response to the error taxonomy.
	ClassifyError(status int, body []byte) *api.Error
}

// Decoder decodes one streamed response. It is not safe for concurrent use
// and must not be shared between calls.
type Decoder interface {
	// ParseEvent consumes the next chunk of raw bytes as read from the
	// network. Chunks may split frames arbitrarily; incomplete frames are
	// buffered until a later call completes them, in which case ParseEvent
	// returns no events. An error means the stream is undecodable.
	ParseEvent(chunk []byte) ([]api.Event, error)

	// Finish is called once the body is exhausted. It flushes any buffered
	// frame and reports a truncated stream as a transient error.
	Finish() ([]api.Event, error)
}

// WirePayload is a provider-specific HTTP request.
type WirePayload struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// RequestTimeout returns the non-streaming exchange timeout configured for
// a, or zero when a declares none.
func RequestTimeout(a Adapter) time.Duration {
	if t, ok := a.(interface{ RequestTimeout() time.Duration }); ok {
		return t.RequestTimeout()
	}
	return 0
}
