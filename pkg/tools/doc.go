// Package tools defines the executor contract the orchestrator uses to run
// tool calls requested by the model. Executors are collaborators: builtin
// tools run in-process, MCP tools run on external MCP servers.
//
// The package also provides allow-list filtering and lookup across a set of
// executors.
package tools
