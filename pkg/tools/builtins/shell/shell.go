// Package shell provides the builtin "shell" tool. It runs a command through
// the user's shell with a timeout and an output cap. It is disabled unless
// explicitly enabled in configuration.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/tools"
	"github.com/rhuss/palaver/pkg/tools/registry"
)

const toolName = "shell"

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxOutput = 16 * 1024
)

var toolParametersJSON = json.RawMessage(`{"type":"object","properties":{"command":{"type":"string","description":"Command line to run"}},"required":["command"]}`)

// Config configures the shell tool.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Shell is the interpreter; commands run as `<shell> -c <command>`.
	// Defaults to $SHELL, then /bin/sh.
	Shell string `yaml:"shell"`

	Timeout   time.Duration `yaml:"timeout"`
	MaxOutput int           `yaml:"max_output"`
	WorkDir   string        `yaml:"work_dir"`
}

// Provider implements registry.FunctionProvider.
type Provider struct {
	shell     string
	timeout   time.Duration
	maxOutput int
	workDir   string

	commands *prometheus.CounterVec
}

var _ registry.FunctionProvider = (*Provider)(nil)

// New creates the provider. It fails when the tool is not enabled so that
// callers cannot register it by accident.
func New(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return nil, errors.New("shell tool is disabled")
	}
	sh := cfg.Shell
	if sh == "" {
		sh = os.Getenv("SHELL")
	}
	if sh == "" {
		sh = "/bin/sh"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxOutput := cfg.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	return &Provider{
		shell:     sh,
		timeout:   timeout,
		maxOutput: maxOutput,
		workDir:   cfg.WorkDir,
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "palaver_shell_commands_total",
				Help: "Shell tool commands by outcome",
			},
			[]string{"outcome"},
		),
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return toolName }

// Tools returns the shell tool definition.
func (p *Provider) Tools() []api.ToolDefinition {
	return []api.ToolDefinition{{
		Name:        toolName,
		Description: "Run a shell command on the user's machine and return its combined output and exit status",
		Parameters:  toolParametersJSON,
	}}
}

// CanExecute reports whether name is the shell tool.
func (p *Provider) CanExecute(name string) bool { return name == toolName }

// Execute runs the command. Command failures, including timeouts and
// non-zero exits, are reported as error results.
func (p *Provider) Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		p.commands.WithLabelValues("invalid").Inc()
		return tools.ErrorResult(call.ID, "invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(args.Command) == "" {
		p.commands.WithLabelValues("invalid").Inc()
		return tools.ErrorResult(call.ID, "command must not be empty"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.shell, "-c", args.Command)
	cmd.Dir = p.workDir
	cmd.WaitDelay = time.Second
	out := &capWriter{max: p.maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	debug.Log("tools", "running shell command", "call_id", call.ID, "command", debug.Truncate(args.Command, 200))
	err := cmd.Run()

	output := out.String()
	if out.truncated {
		output += "\n[output truncated]"
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		p.commands.WithLabelValues("timeout").Inc()
		return tools.ErrorResult(call.ID, "%s\ncommand timed out after %s", output, p.timeout), nil
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.commands.WithLabelValues("nonzero").Inc()
			return &api.ToolResult{
				CallID:  call.ID,
				Output:  output + "\nexit status " + strconv.Itoa(exitErr.ExitCode()),
				IsError: true,
			}, nil
		}
		p.commands.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("running %s: %w", p.shell, err)
	}

	p.commands.WithLabelValues("ok").Inc()
	return &api.ToolResult{CallID: call.ID, Output: output}, nil
}

// Collectors returns the provider metrics.
func (p *Provider) Collectors() []prometheus.Collector {
	return []prometheus.Collector{p.commands}
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }

// capWriter keeps the first max bytes written to it.
type capWriter struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (w *capWriter) Write(b []byte) (int, error) {
	room := w.max - w.buf.Len()
	if room <= 0 {
		w.truncated = w.truncated || len(b) > 0
		return len(b), nil
	}
	if len(b) > room {
		w.buf.Write(b[:room])
		w.truncated = true
		return len(b), nil
	}
	w.buf.Write(b)
	return len(b), nil
}

func (w *capWriter) String() string { return w.buf.String() }
