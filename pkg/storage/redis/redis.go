// Package redis provides a Redis implementation of
// storage.ConversationStore. Each conversation is a JSON string key with
// an optional TTL; a per-owner sorted set scored by update time indexes
// them for listing.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/debug"
	"github.com/rhuss/palaver/pkg/storage"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces all keys. Default: "palaver:".
	Prefix string

	// TTL expires conversations after their last update. Zero keeps them.
	TTL time.Duration
}

// Store is a Redis-backed ConversationStore.
type Store struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Ensure Store implements storage.ConversationStore at compile time.
var _ storage.ConversationStore = (*Store)(nil)

// record is the stored form of a conversation.
type record struct {
	Owner        string            `json:"owner,omitempty"`
	Conversation *api.Conversation `json:"conversation"`
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client. The store takes ownership and
// closes it on Close.
func NewWithClient(client goredis.UniversalClient, cfg Config) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "palaver:"
	}
	return &Store{client: client, prefix: prefix, ttl: cfg.TTL}
}

// Create stores a new conversation. SET NX makes the existence check and
// the write atomic.
func (s *Store) Create(ctx context.Context, conv *api.Conversation) error {
	if err := storage.Validate(conv); err != nil {
		return err
	}
	owner := storage.GetOwner(ctx)
	raw, err := json.Marshal(record{Owner: owner, Conversation: conv})
	if err != nil {
		return fmt.Errorf("marshaling conversation: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.conversationKey(conv.ID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	if !ok {
		return storage.ErrConflict
	}
	if err := s.index(ctx, owner, conv); err != nil {
		return err
	}
	return nil
}

// Update replaces an existing conversation. The stored owner is kept.
func (s *Store) Update(ctx context.Context, conv *api.Conversation) error {
	if err := storage.Validate(conv); err != nil {
		return err
	}
	existing, err := s.load(ctx, conv.ID)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(record{Owner: existing.Owner, Conversation: conv})
	if err != nil {
		return fmt.Errorf("marshaling conversation: %w", err)
	}
	// SET XX fails if the key expired or was deleted since load.
	ok, err := s.client.SetXX(ctx, s.conversationKey(conv.ID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	if !ok {
		return storage.ErrNotFound
	}
	return s.index(ctx, existing.Owner, conv)
}

// Get retrieves a conversation by ID.
func (s *Store) Get(ctx context.Context, id string) (*api.Conversation, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Conversation, nil
}

// List pages through the owner's index. Index entries whose key expired
// are removed lazily.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.ConversationList, error) {
	indexKey := s.indexKey(storage.GetOwner(ctx))
	limit := opts.PageLimit()

	ids, err := s.orderedIDs(ctx, indexKey, opts)
	if err != nil {
		return nil, err
	}

	result := &storage.ConversationList{Data: []storage.ConversationSummary{}}
	for start := 0; start < len(ids) && len(result.Data) <= limit; start += limit + 1 {
		batch := ids[start:min(start+limit+1, len(ids))]
		keys := make([]string, len(batch))
		for i, id := range batch {
			keys[i] = s.conversationKey(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("loading conversations: %w", err)
		}

		var stale []any
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				stale = append(stale, batch[i])
				continue
			}
			var rec record
			if err := json.Unmarshal([]byte(str), &rec); err != nil {
				return nil, fmt.Errorf("decoding conversation %s: %w", batch[i], err)
			}
			result.Data = append(result.Data, storage.Summarize(rec.Conversation))
		}
		if len(stale) > 0 {
			debug.Log("storage", "pruning expired index entries", "count", len(stale))
			if err := s.client.ZRem(ctx, indexKey, stale...).Err(); err != nil {
				return nil, fmt.Errorf("pruning index: %w", err)
			}
		}
	}

	if len(result.Data) > limit {
		result.Data = result.Data[:limit]
		result.HasMore = true
	}
	return result, nil
}

// orderedIDs returns the index members after the cursor in list order.
func (s *Store) orderedIDs(ctx context.Context, indexKey string, opts storage.ListOptions) ([]string, error) {
	var (
		ids []string
		err error
	)
	if opts.Ascending() {
		ids, err = s.client.ZRange(ctx, indexKey, 0, -1).Result()
	} else {
		ids, err = s.client.ZRevRange(ctx, indexKey, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	if opts.After == "" {
		return ids, nil
	}
	for i, id := range ids {
		if id == opts.After {
			return ids[i+1:], nil
		}
	}
	return nil, nil
}

// Delete removes a conversation and its index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.conversationKey(id))
		pipe.ZRem(ctx, s.indexKey(rec.Owner), id)
		if rec.Owner != "" {
			pipe.ZRem(ctx, s.indexKey(""), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return nil
}

// HealthCheck pings the server.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// load fetches a record visible to the context's owner.
func (s *Store) load(ctx context.Context, id string) (*record, error) {
	raw, err := s.client.Get(ctx, s.conversationKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	if owner := storage.GetOwner(ctx); owner != "" && rec.Owner != owner {
		return nil, storage.ErrNotFound
	}
	if rec.Conversation == nil {
		return nil, fmt.Errorf("conversation %s: empty record", id)
	}
	return &rec, nil
}

// index records conv in the owner's index and in the global index used
// when no owner is set.
func (s *Store) index(ctx context.Context, owner string, conv *api.Conversation) error {
	member := goredis.Z{Score: float64(conv.UpdatedAt.UnixMicro()), Member: conv.ID}
	_, err := s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, s.indexKey(owner), member)
		if owner != "" {
			pipe.ZAdd(ctx, s.indexKey(""), member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating index: %w", err)
	}
	return nil
}

func (s *Store) conversationKey(id string) string {
	return s.prefix + "conversation:" + id
}

func (s *Store) indexKey(owner string) string {
	if owner == "" {
		return s.prefix + "index"
	}
	return s.prefix + "index:" + owner
}
