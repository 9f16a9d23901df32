// Package auth supplies the credentials a provider adapter attaches to
// outbound requests. A Credentials value yields the token; the adapter
// decides which header carries it (Authorization: Bearer, x-api-key).
//
// Two sources exist: a static API key, and short-lived HS256 tokens signed
// from a key ID and secret (see package jwt) for gateways that reject
// long-lived keys.
package auth
