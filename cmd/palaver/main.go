// Command palaver is a terminal client for chat-completion providers
// (OpenAI-compatible, Anthropic, vLLM, LiteLLM) with tool calling,
// retries and persistent conversations.
//
// Configuration is read from palaver.yaml, $XDG_CONFIG_HOME/palaver/config.yaml
// or the file named by --config / PALAVER_CONFIG. Without a config file,
// OPENAI_API_KEY or ANTHROPIC_API_KEY select a provider.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// options holds the persistent flags and the process streams.
type options struct {
	configPath  string
	provider    string
	model       string
	mode        string
	debug       string
	metricsAddr string
	noStream    bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	o := &options{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "palaver",
		Short: "Talk to LLM providers from the terminal",
		Long: `palaver sends prompts to a configured LLM provider and streams the answer.

Use 'palaver ask' for a single question, 'palaver chat' for an interactive
session and 'palaver history' to manage saved conversations.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "", "Path to config file")
	pf.StringVarP(&o.provider, "provider", "p", "", "Provider name from the config (default: default_provider)")
	pf.StringVarP(&o.model, "model", "m", "", "Model to use (default: the provider's default_model)")
	pf.StringVar(&o.mode, "mode", "", "Assistant mode: general, dev or bash")
	pf.StringVar(&o.debug, "debug", "", "Comma-separated debug categories (providers, caller, engine, tools, mcp, storage, all)")
	pf.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	pf.BoolVar(&o.noStream, "no-stream", false, "Wait for the complete answer instead of streaming")

	root.AddCommand(
		newAskCmd(o),
		newChatCmd(o),
		newHistoryCmd(o),
	)
	return root
}
