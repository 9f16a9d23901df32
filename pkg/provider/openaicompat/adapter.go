package openaicompat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/auth"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/provider"
)

// DefaultPath is the Chat Completions endpoint relative to the base URL.
const DefaultPath = "/v1/chat/completions"

// Adapter implements provider.Adapter for Chat Completions backends. It is
// stateless apart from its configuration and safe for concurrent use.
type Adapter struct {
	cfg    provider.Config
	caps   provider.Capabilities
	path   string
	mapper func(string) string
}

// Ensure Adapter implements provider.Adapter at compile time.
var _ provider.Adapter = (*Adapter)(nil)

// Option customizes an Adapter.
type Option func(*Adapter)

// WithPath overrides the endpoint path (e.g., "/chat/completions" for
// proxies that mount the API at the root).
func WithPath(path string) Option {
	return func(a *Adapter) { a.path = path }
}

// WithModelMapper installs a function applied to the model name after
// DefaultModel and ModelMapping have been resolved.
func WithModelMapper(fn func(string) string) Option {
	return func(a *Adapter) { a.mapper = fn }
}

// WithCapabilities overrides the default capabilities.
func WithCapabilities(caps provider.Capabilities) Option {
	return func(a *Adapter) { a.caps = caps }
}

// New creates an adapter. BaseURL is required.
func New(cfg provider.Config, opts ...Option) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openaicompat: BaseURL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Name == "" {
		cfg.Name = "openai"
	}

	a := &Adapter{
		cfg:  cfg,
		path: DefaultPath,
		caps: provider.Capabilities{
			Streaming:   true,
			ToolCalling: true,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	if cfg.Capabilities != nil {
		a.caps = *cfg.Capabilities
	}
	return a, nil
}

// Name returns the configured provider name.
func (a *Adapter) Name() string { return a.cfg.Name }

// RequestTimeout returns the configured non-streaming timeout.
func (a *Adapter) RequestTimeout() time.Duration { return a.cfg.Timeout }

// Capabilities returns what this provider supports.
func (a *Adapter) Capabilities() provider.Capabilities { return a.caps }

// BuildRequest serializes req as a Chat Completions request.
func (a *Adapter) BuildRequest(req *api.Request) (*provider.WirePayload, error) {
	if err := provider.ValidateCapabilities(a.caps, req); err != nil {
		err.Provider = a.cfg.Name
		return nil, err
	}

	model := a.cfg.MapModel(req.Model())
	if a.mapper != nil && model != "" {
		model = a.mapper(model)
	}
	if model == "" {
		return nil, &api.Error{Kind: api.ErrorPermanent, Provider: a.cfg.Name, Param: "model", Message: "model is required"}
	}

	chatReq, err := TranslateRequest(req, model, a.cfg.MaxTokens)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, &api.Error{Kind: api.ErrorPermanent, Provider: a.cfg.Name, Message: "failed to marshal request", Cause: err}
	}

	token, err := auth.TokenOrEmpty(a.cfg.Credentials)
	if err != nil {
		return nil, &api.Error{
			Kind:     api.ErrorPermanent,
			Provider: a.cfg.Name,
			Code:     "authentication_error",
			Message:  "failed to resolve credentials: " + err.Error(),
			Cause:    err,
		}
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if req.Stream() {
		h.Set("Accept", "text/event-stream")
	} else {
		h.Set("Accept", "application/json")
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	for k, v := range a.cfg.Headers {
		h.Set(k, v)
	}

	payload := &provider.WirePayload{
		Method: http.MethodPost,
		URL:    a.cfg.BaseURL + a.path,
		Header: h,
		Body:   body,
	}

	debug.Log("providers", "chat completions request built",
		"provider", a.cfg.Name, "model", model, "messages", len(chatReq.Messages),
		"tools", len(chatReq.Tools), "stream", req.Stream())
	if debug.TraceIsEnabled("providers") {
		var pretty bytes.Buffer
		if json.Indent(&pretty, body, "", "  ") == nil {
			debug.Raw("providers", "POST "+payload.URL+"\n"+debug.FormatHeaders(h)+"\n"+pretty.String())
		}
	}
	return payload, nil
}

// NewDecoder returns a decoder for one streamed response.
func (a *Adapter) NewDecoder() provider.Decoder {
	return NewDecoder(a.cfg.Name)
}

// DecodeResponse decodes a complete non-streaming response body.
func (a *Adapter) DecodeResponse(body []byte) ([]api.Event, error) {
	return DecodeResponse(a.cfg.Name, body)
}

// ClassifyError maps a non-2xx response to the error taxonomy.
func (a *Adapter) ClassifyError(status int, body []byte) *api.Error {
	return ClassifyError(a.cfg.Name, status, body)
}
