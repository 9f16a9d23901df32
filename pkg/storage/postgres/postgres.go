// Package postgres provides a PostgreSQL implementation of
// storage.ConversationStore. It uses pgx/v5 for connection pooling and
// JSONB for turn storage.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/palaver/pkg/api"
	"github.com/rhuss/palaver/pkg/storage"
)

// Store is a PostgreSQL-backed ConversationStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.ConversationStore at compile time.
var _ storage.ConversationStore = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Create inserts a new conversation.
func (s *Store) Create(ctx context.Context, conv *api.Conversation) error {
	if err := storage.Validate(conv); err != nil {
		return err
	}
	turns, err := json.Marshal(conv.Turns)
	if err != nil {
		return fmt.Errorf("marshaling turns: %w", err)
	}
	summary := storage.Summarize(conv)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (id, owner, title, turn_count, turns, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, conv.ID, storage.GetOwner(ctx), summary.Title, summary.Turns, turns, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// Update replaces the turns and timestamps of an existing conversation.
func (s *Store) Update(ctx context.Context, conv *api.Conversation) error {
	if err := storage.Validate(conv); err != nil {
		return err
	}
	turns, err := json.Marshal(conv.Turns)
	if err != nil {
		return fmt.Errorf("marshaling turns: %w", err)
	}
	summary := storage.Summarize(conv)

	result, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET title = $1, turn_count = $2, turns = $3, updated_at = $4
		WHERE id = $5 AND ($6 = '' OR owner = $6)
	`, summary.Title, summary.Turns, turns, conv.UpdatedAt, conv.ID, storage.GetOwner(ctx))
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Get retrieves a conversation by ID.
func (s *Store) Get(ctx context.Context, id string) (*api.Conversation, error) {
	var (
		conv  api.Conversation
		turns []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, turns, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND ($2 = '' OR owner = $2)
	`, id, storage.GetOwner(ctx)).Scan(&conv.ID, &turns, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if err := json.Unmarshal(turns, &conv.Turns); err != nil {
		return nil, fmt.Errorf("unmarshaling turns: %w", err)
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.UpdatedAt.UTC()
	return &conv, nil
}

// List returns summaries ordered by update time. The cursor compares
// (updated_at, id) against the row named by opts.After; an unknown
// cursor yields an empty page.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (*storage.ConversationList, error) {
	cmpOp, order := "<", "DESC"
	if opts.Ascending() {
		cmpOp, order = ">", "ASC"
	}
	limit := opts.PageLimit()

	query := fmt.Sprintf(`
		SELECT id, title, turn_count, created_at, updated_at
		FROM conversations
		WHERE ($1 = '' OR owner = $1)
		  AND ($2 = '' OR (updated_at, id) %s (SELECT updated_at, id FROM conversations WHERE id = $2))
		ORDER BY updated_at %s, id %s
		LIMIT $3
	`, cmpOp, order, order)

	rows, err := s.pool.Query(ctx, query, storage.GetOwner(ctx), opts.After, limit+1)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.ConversationSummary, error) {
		var s storage.ConversationSummary
		err := row.Scan(&s.ID, &s.Title, &s.Turns, &s.CreatedAt, &s.UpdatedAt)
		s.CreatedAt, s.UpdatedAt = s.CreatedAt.UTC(), s.UpdatedAt.UTC()
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning conversations: %w", err)
	}

	result := &storage.ConversationList{Data: summaries, HasMore: len(summaries) > limit}
	if result.HasMore {
		result.Data = summaries[:limit]
	}
	if result.Data == nil {
		result.Data = []storage.ConversationSummary{}
	}
	return result, nil
}

// Delete removes a conversation.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx,
		"DELETE FROM conversations WHERE id = $1 AND ($2 = '' OR owner = $2)",
		id, storage.GetOwner(ctx))
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
