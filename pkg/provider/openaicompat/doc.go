// Package openaicompat implements the provider adapter for OpenAI Chat
// Completions and compatible backends. It handles request serialization,
// SSE chunk decoding with index-keyed tool call buffering, non-streaming
// response decoding and error classification.
//
// The vllm and litellm packages are presets over this adapter.
package openaicompat
