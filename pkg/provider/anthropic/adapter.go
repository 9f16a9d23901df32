// Package anthropic implements the provider adapter for the Anthropic
// Messages API.
package anthropic

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

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.anthropic.com"

	// APIVersion is sent as the anthropic-version header.
	APIVersion = "2023-06-01"

	// DefaultMaxTokens applies when neither the request nor the config
	// sets a limit. The Messages API requires max_tokens.
	DefaultMaxTokens = 1024

	messagesPath = "/v1/messages"
)

// Adapter implements provider.Adapter for the Messages API.
type Adapter struct {
	cfg  provider.Config
	caps provider.Capabilities
}

// Ensure Adapter implements provider.Adapter at compile time.
var _ provider.Adapter = (*Adapter)(nil)

// New creates an adapter. Name defaults to "anthropic" and BaseURL to
// DefaultBaseURL.
func New(cfg provider.Config) (*Adapter, error) {
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("anthropic: max tokens must not be negative")
	}

	caps := provider.Capabilities{
		Streaming:        true,
		ToolCalling:      true,
		MaxContextWindow: 200000,
		SeparateSystem:   true,
	}
	if cfg.Capabilities != nil {
		caps = *cfg.Capabilities
		caps.SeparateSystem = true
	}
	return &Adapter{cfg: cfg, caps: caps}, nil
}

// Name returns the configured provider name.
func (a *Adapter) Name() string { return a.cfg.Name }

// RequestTimeout returns the configured non-streaming timeout.
func (a *Adapter) RequestTimeout() time.Duration { return a.cfg.Timeout }

// Capabilities returns what this provider supports.
func (a *Adapter) Capabilities() provider.Capabilities { return a.caps }

// BuildRequest serializes req as a Messages API request.
func (a *Adapter) BuildRequest(req *api.Request) (*provider.WirePayload, error) {
	if err := provider.ValidateCapabilities(a.caps, req); err != nil {
		err.Provider = a.cfg.Name
		return nil, err
	}

	model := a.cfg.MapModel(req.Model())
	if model == "" {
		return nil, &api.Error{Kind: api.ErrorPermanent, Provider: a.cfg.Name, Param: "model", Message: "model is required"}
	}

	maxTokens := a.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	msgReq, err := TranslateRequest(req, model, maxTokens)
	if err != nil {
		if e, ok := api.AsError(err); ok {
			e.Provider = a.cfg.Name
		}
		return nil, err
	}
	body, err := json.Marshal(msgReq)
	if err != nil {
		return nil, &api.Error{Kind: api.ErrorPermanent, Provider: a.cfg.Name, Message: "failed to marshal request", Cause: err}
	}

	key, err := auth.TokenOrEmpty(a.cfg.Credentials)
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
	h.Set("Anthropic-Version", APIVersion)
	if req.Stream() {
		h.Set("Accept", "text/event-stream")
	} else {
		h.Set("Accept", "application/json")
	}
	if key != "" {
		h.Set("X-Api-Key", key)
	}
	for k, v := range a.cfg.Headers {
		h.Set(k, v)
	}

	payload := &provider.WirePayload{
		Method: http.MethodPost,
		URL:    a.cfg.BaseURL + messagesPath,
		Header: h,
		Body:   body,
	}

	debug.Log("providers", "messages request built",
		"provider", a.cfg.Name, "model", model, "messages", len(msgReq.Messages),
		"tools", len(msgReq.Tools), "stream", req.Stream(), "max_tokens", msgReq.MaxTokens)
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
