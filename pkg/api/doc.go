// Package api defines the provider-agnostic message model shared by every
// layer of palaver: conversations, turns, content parts, requests, the
// streaming event variant, the error taxonomy, and orchestrator states.
//
// The package performs no I/O. Provider adapters translate these types to
// and from their wire formats; the caller, assembler and engine operate on
// them exclusively.
//
// Core types:
//   - [Conversation]: ordered sequence of [Turn] values owned by one orchestrator
//   - [Part]: tagged content variant (text, tool call, tool result)
//   - [Request]: immutable snapshot of a conversation plus generation parameters
//   - [Event]: one incremental unit emitted while a provider call is in flight
//   - [Error]: classified failure carrying an [ErrorKind]
package api
