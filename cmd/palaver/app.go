package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/user"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/caller"
	"github.com/rhuss/palaver/pkg/config"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/engine"
	"github.com/rhuss/palaver/pkg/observability"
	"github.com/rhuss/palaver/pkg/provider"
	"github.com/rhuss/palaver/pkg/provider/factory"
	"github.com/rhuss/palaver/pkg/ratelimit"
	"github.com/rhuss/palaver/pkg/storage"
	"github.com/rhuss/palaver/pkg/storage/memory"
	"github.com/rhuss/palaver/pkg/storage/postgres"
	"github.com/rhuss/palaver/pkg/storage/redis"
	"github.com/rhuss/palaver/pkg/tools"
	"github.com/rhuss/palaver/pkg/tools/builtins/shell"
	"github.com/rhuss/palaver/pkg/tools/builtins/websearch"
	"github.com/rhuss/palaver/pkg/tools/mcp"
	"github.com/rhuss/palaver/pkg/tools/registry"
)

// app holds the components one command invocation works with.
type app struct {
	cfg *config.Config

	adapter   provider.Adapter
	caller    *caller.Caller
	executors []tools.ToolExecutor
	store     storage.ConversationStore

	closers []func(context.Context) error
}

// loadConfig loads the config file and applies the persistent flags.
func loadConfig(o *options) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.model != "" {
		cfg.Assistant.Model = o.model
	}
	if o.mode != "" {
		cfg.Assistant.Mode = o.mode
	}
	if o.noStream {
		cfg.Assistant.Stream = false
	}
	if o.debug != "" {
		cfg.Log.Debug = o.debug
	}
	if o.metricsAddr != "" {
		cfg.Observability.Metrics.Addr = o.metricsAddr
	}
	return cfg, nil
}

// newStoreApp sets up logging and storage only. Commands that never talk
// to a provider use it.
func newStoreApp(ctx context.Context, o *options) (*app, error) {
	cfg, err := loadConfig(o)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}
	a.initLogging(o)

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	return a, nil
}

// newApp wires everything needed for an exchange. On failure every
// resource acquired so far is released.
func newApp(ctx context.Context, o *options) (*app, error) {
	a, err := newStoreApp(ctx, o)
	if err != nil {
		return nil, err
	}
	if err := a.wire(ctx, o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, o *options) error {
	if err := a.initObservability(ctx); err != nil {
		return err
	}

	pc, ok := a.cfg.Provider(o.provider)
	if !ok {
		if o.provider != "" {
			return fmt.Errorf("provider %q is not configured", o.provider)
		}
		return errors.New("no provider configured: set OPENAI_API_KEY or ANTHROPIC_API_KEY, or add providers to the config file")
	}
	pcfg, err := pc.Resolve()
	if err != nil {
		return err
	}
	a.adapter, err = factory.New(pcfg)
	if err != nil {
		return fmt.Errorf("creating provider %q: %w", pc.Name, err)
	}
	slog.Debug("provider ready", "name", pc.Name, "type", pc.Type, "model", a.model(pcfg))

	a.caller = caller.New(
		caller.WithLimiter(ratelimit.New(a.cfg.RateLimits(), ratelimit.Limit{})),
		caller.WithRetryConfig(a.cfg.Retry),
	)

	return a.initTools(ctx)
}

func (a *app) initLogging(o *options) {
	out := o.errOut
	if out == nil {
		out = os.Stderr
	}
	debug.Init(debug.Options{
		Categories: a.cfg.Log.Debug,
		Level:      a.cfg.Log.Level,
		Format:     a.cfg.Log.Format,
		Output:     out,
	})
}

func (a *app) initObservability(ctx context.Context) error {
	tcfg := a.cfg.Observability.Tracing
	if tcfg.ServiceVersion == "" {
		tcfg.ServiceVersion = version
	}
	if tcfg.Writer == nil {
		tcfg.Writer = os.Stderr
	}
	shutdown, err := observability.InitTracing(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	mcfg := a.cfg.Observability.Metrics
	if mcfg.Addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", mcfg.Addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle(mcfg.Path, promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", ln.Addr().String(), "path", mcfg.Path)
	a.closers = append(a.closers, func(ctx context.Context) error {
		err := srv.Shutdown(ctx)
		// Serve may not have taken ownership of ln yet.
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = errors.Join(err, cerr)
		}
		return err
	})
	return nil
}

func (a *app) initTools(ctx context.Context) error {
	reg := registry.New()
	if a.cfg.Tools.Shell.Enabled {
		sh, err := shell.New(a.cfg.Tools.Shell)
		if err != nil {
			return err
		}
		reg.Register(sh)
	}
	if a.cfg.Tools.WebSearch.Enabled {
		ws, err := websearch.New(a.cfg.Tools.WebSearch)
		if err != nil {
			return err
		}
		reg.Register(ws)
	}
	if reg.HasProviders() {
		a.executors = append(a.executors, reg)
		a.closers = append(a.closers, func(context.Context) error { return reg.Close() })
	}

	if servers := a.cfg.MCPServers(); len(servers) > 0 {
		ex, err := mcp.Connect(ctx, servers)
		if err != nil {
			return fmt.Errorf("connecting MCP servers: %w", err)
		}
		a.executors = append(a.executors, ex)
		a.closers = append(a.closers, func(context.Context) error { return ex.Close() })
	}
	return nil
}

// openStore creates the configured conversation store.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.ConversationStore, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
	case "redis":
		return redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.KeyPrefix,
			TTL:      cfg.Redis.TTL,
		})
	case "memory", "":
		return memory.New(cfg.MaxSize), nil
	}
	return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
}

// ownerContext scopes storage access to the current OS user.
func ownerContext(ctx context.Context) context.Context {
	name := os.Getenv("USER")
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	return storage.SetOwner(ctx, name)
}

// model returns the configured model, falling back to the provider default.
func (a *app) model(pcfg provider.Config) string {
	if a.cfg.Assistant.Model != "" {
		return a.cfg.Assistant.Model
	}
	return pcfg.DefaultModel
}

// engineConfig maps the assistant settings to engine.Config.
func (a *app) engineConfig() engine.Config {
	as := a.cfg.Assistant
	return engine.Config{
		Model:            as.Model,
		Stream:           as.Stream,
		Temperature:      as.Temperature,
		MaxTurns:         as.MaxTurns,
		ToolDispatch:     as.ToolDispatch,
		MaxParallelTools: as.MaxParallelTools,
		FailOnToolError:  as.FailOnToolError,
		AllowedTools:     slices.Clone(as.AllowedTools),
	}
}

// conversation loads id from the store, or starts a new one seeded with
// the mode preset when id is empty.
func (a *app) conversation(ctx context.Context, id string) (*api.Conversation, error) {
	if id == "" {
		return newConversation(a.cfg.Assistant.Mode, a.cfg.Assistant.SystemPrompt)
	}
	conv, err := a.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	return conv, err
}

// newEngine creates an engine over conv that reports to sink.
func (a *app) newEngine(conv *api.Conversation, sink engine.Sink) (*engine.Engine, error) {
	return engine.New(a.adapter, a.engineConfig(),
		engine.WithCaller(a.caller),
		engine.WithExecutors(a.executors...),
		engine.WithSink(sink),
		engine.WithConversation(conv),
	)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
