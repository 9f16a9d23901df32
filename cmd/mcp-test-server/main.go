// Command mcp-test-server runs a small MCP server for trying palaver's
// MCP tool integration. It offers "get_time", "echo" and "word_count".
//
// By default it serves streamable HTTP on /mcp. With -stdio it serves a
// single session over stdin/stdout, for use as a stdio server command.
//
// Configuration:
//
//	PORT      - Listen port (default: 8080)
//	MCP_TOKEN - When set, HTTP requests must carry "Authorization: Bearer <token>"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	stdio := flag.Bool("stdio", false, "Serve over stdin/stdout instead of HTTP")
	flag.Parse()

	server := newServer(time.Now)

	if *stdio {
		// stdout carries the protocol, so logs go to stderr.
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
		if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
			slog.Error("stdio session failed", "error", err)
			os.Exit(1)
		}
		return
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	slog.Info("MCP test server starting", "port", port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newHandler(server, os.Getenv("MCP_TOKEN")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

type echoInput struct {
	Message string `json:"message" jsonschema:"the message to echo back"`
}

type wordCountInput struct {
	Text string `json:"text" jsonschema:"the text to count words in"`
}

type wordCountOutput struct {
	Words int `json:"words"`
	Lines int `json:"lines"`
}

func newServer(now func() time.Time) *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{Name: "palaver-test-mcp", Version: "v1.0.0"},
		nil,
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_time",
		Description: "Returns the current UTC time",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
		return textResult(fmt.Sprintf("Current time: %s", now().UTC().Format(time.RFC3339))), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echoes the provided message back",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in echoInput) (*mcp.CallToolResult, any, error) {
		if in.Message == "" {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "message must not be empty"}},
			}, nil, nil
		}
		return textResult("Echo: " + in.Message), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "word_count",
		Description: "Counts the words and lines in a text",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in wordCountInput) (*mcp.CallToolResult, wordCountOutput, error) {
		out := wordCountOutput{Words: len(strings.Fields(in.Text))}
		for range strings.Lines(in.Text) {
			out.Lines++
		}
		return textResult(fmt.Sprintf("%d words, %d lines", out.Words, out.Lines)), out, nil
	})

	return server
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// newHandler serves server on /mcp. A non-empty token is required as a
// bearer credential on /mcp.
func newHandler(server *mcp.Server, token string) http.Handler {
	var handler http.Handler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
	if token != "" {
		next := handler
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	return mux
}
