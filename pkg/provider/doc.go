// Package provider defines the adapter contract between the palaver message
// model and one external LLM API. An adapter translates requests into wire
// payloads, decodes streamed or buffered responses into api.Event values,
// and classifies provider error payloads. Adapters perform no network I/O;
// the caller package owns the HTTP exchange.
package provider
