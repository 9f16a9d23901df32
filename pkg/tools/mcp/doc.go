// Package mcp connects the orchestrator to Model Context Protocol servers.
// It discovers the tools each server offers, presents them to the model as
// ordinary tool definitions and routes tool calls back to the owning
// server.
//
// Servers are reached over stdio (a spawned command), SSE or streamable
// HTTP, using the official MCP Go SDK.
package mcp
