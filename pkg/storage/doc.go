// Package storage defines the conversation persistence contract and the
// helpers shared by its adapters (memory, postgres, redis).
//
// Stores persist whole api.Conversation values keyed by conversation ID.
// The orchestrator never talks to a store; the CLI loads a conversation,
// hands it to the engine and saves the engine's copy afterwards.
package storage
