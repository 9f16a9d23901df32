// Package memory provides an in-memory implementation of
// storage.ConversationStore for tests and single-session use.
// Conversations are lost when the process exits. Optional LRU eviction
// limits memory usage.
package memory

import (
	"cmp"
	"container/list"
	"context"
	"slices"
	"sync"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/storage"
)

// entry holds a stored conversation and its metadata.
type entry struct {
	conv    *api.Conversation
	owner   string
	lruElem *list.Element // position in LRU list
}

// Store is an in-memory ConversationStore with optional LRU eviction.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
}

// Ensure Store implements storage.ConversationStore at compile time.
var _ storage.ConversationStore = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used conversation is
// evicted when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// Create stores a copy of conv.
func (s *Store) Create(ctx context.Context, conv *api.Conversation) error {
	if err := storage.Validate(conv); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[conv.ID]; exists {
		return storage.ErrConflict
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(conv.ID)
	s.entries[conv.ID] = &entry{
		conv:    conv.Clone(),
		owner:   storage.GetOwner(ctx),
		lruElem: elem,
	}
	return nil
}

// Update replaces the stored copy of conv.
func (s *Store) Update(ctx context.Context, conv *api.Conversation) error {
	if err := storage.Validate(conv); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(ctx, conv.ID)
	if !ok {
		return storage.ErrNotFound
	}
	e.conv = conv.Clone()
	s.lruList.MoveToFront(e.lruElem)
	return nil
}

// Get returns a copy of the conversation.
func (s *Store) Get(ctx context.Context, id string) (*api.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	s.lruList.MoveToFront(e.lruElem)
	return e.conv.Clone(), nil
}

// Delete removes a conversation.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(ctx, id)
	if !ok {
		return storage.ErrNotFound
	}
	s.lruList.Remove(e.lruElem)
	delete(s.entries, id)
	return nil
}

// List returns summaries ordered by update time with cursor-based
// pagination.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.ConversationList, error) {
	s.mu.Lock()
	owner := storage.GetOwner(ctx)
	var matches []storage.ConversationSummary
	for _, e := range s.entries {
		if owner != "" && e.owner != owner {
			continue
		}
		matches = append(matches, storage.Summarize(e.conv))
	}
	s.mu.Unlock()

	slices.SortFunc(matches, func(a, b storage.ConversationSummary) int {
		c := a.UpdatedAt.Compare(b.UpdatedAt)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if !opts.Ascending() {
			c = -c
		}
		return c
	})

	if opts.After != "" {
		idx := slices.IndexFunc(matches, func(m storage.ConversationSummary) bool { return m.ID == opts.After })
		if idx < 0 {
			matches = nil
		} else {
			matches = matches[idx+1:]
		}
	}

	limit := opts.PageLimit()
	result := &storage.ConversationList{Data: matches, HasMore: len(matches) > limit}
	if result.HasMore {
		result.Data = matches[:limit]
	}
	if result.Data == nil {
		result.Data = []storage.ConversationSummary{}
	}
	return result, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of stored conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// lookup finds an entry visible to the context's owner.
// Must be called with s.mu held.
func (s *Store) lookup(ctx context.Context, id string) (*entry, bool) {
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if owner := storage.GetOwner(ctx); owner != "" && e.owner != owner {
		return nil, false
	}
	return e, true
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
	debug.Log("storage", "evicted conversation", "id", id, "max_size", s.maxSize)
}
