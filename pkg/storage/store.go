package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rhuss/palaver/pkg/api"
)

// ConversationStore persists conversations.
type ConversationStore interface {
	// Create stores a new conversation. It returns ErrConflict if the ID
	// is taken.
	Create(ctx context.Context, conv *api.Conversation) error

	// Update replaces an existing conversation. It returns ErrNotFound if
	// the conversation does not exist.
	Update(ctx context.Context, conv *api.Conversation) error

	// Get returns a conversation by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*api.Conversation, error)

	// List returns conversation summaries, most recently updated first
	// unless opts.Order is "asc".
	List(ctx context.Context, opts ListOptions) (*ConversationList, error)

	// Delete removes a conversation, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// ListOptions controls pagination of List.
type ListOptions struct {
	// Limit caps the page size. Defaults to DefaultListLimit, capped at
	// MaxListLimit.
	Limit int

	// After is the ID of the last conversation of the previous page.
	After string

	// Order is "desc" (default) or "asc" by update time.
	Order string
}

// Page size bounds for List.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// PageLimit normalizes opts.Limit.
func (o ListOptions) PageLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultListLimit
	case o.Limit > MaxListLimit:
		return MaxListLimit
	}
	return o.Limit
}

// Ascending reports whether the list is ordered oldest first.
func (o ListOptions) Ascending() bool {
	return o.Order == "asc"
}

// ConversationSummary describes a stored conversation without its turns.
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationList is one page of summaries.
type ConversationList struct {
	Data    []ConversationSummary `json:"data"`
	HasMore bool                  `json:"has_more"`
}

const titleLength = 60

// Summarize builds the summary of conv. The title is the first line of
// the first user turn that is not marked preset in its metadata.
func Summarize(conv *api.Conversation) ConversationSummary {
	s := ConversationSummary{
		ID:        conv.ID,
		Turns:     len(conv.Turns),
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
	for _, t := range conv.Turns {
		if t.Role != api.RoleUser || t.Metadata["preset"] == true {
			continue
		}
		title, _, _ := strings.Cut(strings.TrimSpace(t.Text()), "\n")
		if r := []rune(title); len(r) > titleLength {
			title = string(r[:titleLength-3]) + "..."
		}
		s.Title = title
		break
	}
	return s
}

// Validate checks a conversation before it is written.
func Validate(conv *api.Conversation) error {
	if conv == nil {
		return errors.New("conversation must not be nil")
	}
	if !api.ValidateConversationID(conv.ID) {
		return fmt.Errorf("invalid conversation id %q", conv.ID)
	}
	return api.ValidateConversation(conv)
}

// Save creates conv or replaces the stored copy.
func Save(ctx context.Context, s ConversationStore, conv *api.Conversation) error {
	err := s.Update(ctx, conv)
	if errors.Is(err, ErrNotFound) {
		err = s.Create(ctx, conv)
	}
	return err
}
