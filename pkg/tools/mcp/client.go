package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/observability"
	"github.com/rhuss/palaver/pkg/tools"
)

// ClientName and ClientVersion identify palaver in the MCP handshake.
const (
	ClientName    = "palaver"
	ClientVersion = "0.1.0"
)

// Client is a session with one MCP server.
type Client struct {
	cfg     ServerConfig
	session *mcp.ClientSession

	mu     sync.Mutex
	cached []api.ToolDefinition
	listed bool
}

// NewClient creates a Client. Call Connect to open the session.
func NewClient(cfg ServerConfig) *Client {
	return &Client{cfg: cfg}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.cfg.Name }

// Connect opens the session using a transport built from the configuration.
func (c *Client) Connect(ctx context.Context) error {
	t, err := c.transport()
	if err != nil {
		return fmt.Errorf("creating transport for %q: %w", c.cfg.Name, err)
	}
	return c.ConnectWithTransport(ctx, t)
}

// ConnectWithTransport opens the session over t.
func (c *Client) ConnectWithTransport(ctx context.Context, t mcp.Transport) error {
	client := mcp.NewClient(
		&mcp.Implementation{Name: ClientName, Version: ClientVersion},
		&mcp.ClientOptions{Capabilities: &mcp.ClientCapabilities{}},
	)
	session, err := client.Connect(ctx, t, nil)
	if err != nil {
		return fmt.Errorf("connecting to MCP server %q: %w", c.cfg.Name, err)
	}
	c.session = session
	debug.Log("mcp", "connected", "server", c.cfg.Name, "transport", c.cfg.TransportKind())
	return nil
}

func (c *Client) transport() (mcp.Transport, error) {
	switch c.cfg.TransportKind() {
	case TransportStdio:
		// The process lives as long as the session, not the connect context.
		cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
		cmd.Env = append(os.Environ(), c.cfg.Env...)
		return &mcp.CommandTransport{Command: cmd}, nil
	case TransportSSE:
		return &mcp.SSEClientTransport{Endpoint: c.cfg.URL, HTTPClient: c.httpClient()}, nil
	case TransportStreamable:
		return &mcp.StreamableClientTransport{Endpoint: c.cfg.URL, HTTPClient: c.httpClient()}, nil
	}
	return nil, fmt.Errorf("unsupported transport type %q", c.cfg.Transport)
}

func (c *Client) httpClient() *http.Client {
	var auth AuthProvider
	if c.cfg.Auth.Type == "oauth_client_credentials" {
		auth = NewClientCredentials(c.cfg.Auth)
	}
	return &http.Client{
		Transport: &headerTransport{
			base:    observability.NewTransport(http.DefaultTransport),
			headers: c.cfg.Headers,
			auth:    auth,
		},
	}
}

// ListTools returns the server's tools as definitions, filtered by the
// configured allow list. The result is cached for the life of the session.
func (c *Client) ListTools(ctx context.Context) ([]api.ToolDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listed {
		return c.cached, nil
	}
	if c.session == nil {
		return nil, fmt.Errorf("MCP client %q not connected", c.cfg.Name)
	}

	var defs []api.ToolDefinition
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("listing tools from %q: %w", c.cfg.Name, err)
		}
		if !tools.IsAllowed(tool.Name, c.cfg.AllowedTools) {
			debug.Log("mcp", "skipping tool not in allow list", "server", c.cfg.Name, "tool", tool.Name)
			continue
		}
		td, err := convertTool(tool)
		if err != nil {
			return nil, fmt.Errorf("converting tool %q from %q: %w", tool.Name, c.cfg.Name, err)
		}
		defs = append(defs, td)
	}

	c.cached = defs
	c.listed = true
	return defs, nil
}

// CallTool runs call on the server. Protocol failures are returned as error
// results so the model can see them.
func (c *Client) CallTool(ctx context.Context, call api.ToolCall) (*api.ToolResult, error) {
	if c.session == nil {
		return nil, fmt.Errorf("MCP client %q not connected", c.cfg.Name)
	}

	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return tools.ErrorResult(call.ID, "invalid arguments JSON: %v", err), nil
		}
	}

	debug.Log("mcp", "calling tool", "server", c.cfg.Name, "tool", call.Name, "call_id", call.ID)
	result, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: call.Name, Arguments: args})
	if err != nil {
		return tools.ErrorResult(call.ID, "MCP tool call error: %v", err), nil
	}
	return convertResult(call.ID, result), nil
}

// Close ends the session.
func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func convertTool(t *mcp.Tool) (api.ToolDefinition, error) {
	var params json.RawMessage
	if t.InputSchema != nil {
		data, err := json.Marshal(t.InputSchema)
		if err != nil {
			return api.ToolDefinition{}, fmt.Errorf("marshaling input schema: %w", err)
		}
		params = data
	}
	return api.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}, nil
}

func convertResult(callID string, result *mcp.CallToolResult) *api.ToolResult {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return &api.ToolResult{
		CallID:  callID,
		Output:  strings.Join(parts, "\n"),
		IsError: result.IsError,
	}
}
