package message

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Schema management is external. Expected tables:
// messages(id, chat_id, owner_id, body, created_at),
// message_forwards(message_id, chat_id, pos),
// message_hides(message_id, chat_id, user_id, created_at) with a composite
// primary key over the first three columns (makes Hide idempotent).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "ember").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("message: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("message: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed message Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "ember",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("message: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, chatID, ownerID int64, text string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgIdent(s.schema, "messages")

	// Serialize id allocation so max+1 never collides.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, s.schema+".messages"); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	var m Message
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+messages+` (id, chat_id, owner_id, body, created_at)
		 SELECT COALESCE(MAX(id), 0) + 1, $1, $2, $3, now() FROM `+messages+`
		 RETURNING id, chat_id, owner_id, body, created_at`,
		chatID, ownerID, text,
	).Scan(&m.ID, &m.ChatID, &m.OwnerID, &m.Text, &m.CreatedAt); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id int64) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	messages := pgIdent(s.schema, "messages")

	var m Message
	err := s.pool.QueryRow(ctx,
		`SELECT id, chat_id, owner_id, body, created_at FROM `+messages+` WHERE id = $1`, id,
	).Scan(&m.ID, &m.ChatID, &m.OwnerID, &m.Text, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, err
	}

	if m.ForwardedChats, err = s.readForwards(ctx, id); err != nil {
		return Message{}, err
	}
	return m, nil
}

// GetMany implements Store. Strict by contract.
func (s *PostgresStore) GetMany(ctx context.Context, ids []int64) ([]Message, error) {
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		m, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ListForOwner implements Store.
func (s *PostgresStore) ListForOwner(ctx context.Context, ownerID int64, offset, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	messages := pgIdent(s.schema, "messages")
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM `+messages+` WHERE owner_id = $1 ORDER BY id OFFSET $2 LIMIT $3`,
		ownerID, offset, limit,
	)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	return s.GetMany(ctx, ids)
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id int64) (Message, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return Message{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{"message_hides", "message_forwards", "messages"} {
		col := "message_id"
		if table == "messages" {
			col = "id"
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM `+pgIdent(s.schema, table)+` WHERE `+col+` = $1`, id,
		); err != nil {
			return Message{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return m, nil
}

// AddForwardedChat implements Store.
func (s *PostgresStore) AddForwardedChat(ctx context.Context, id, chatID int64) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	if _, err := s.Get(ctx, id); err != nil {
		return Message{}, err
	}

	forwards := pgIdent(s.schema, "message_forwards")
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+forwards+` (message_id, chat_id, pos)
		 SELECT $1, $2, COALESCE(MAX(pos), 0) + 1 FROM `+forwards+` WHERE message_id = $1
		 ON CONFLICT DO NOTHING`,
		id, chatID,
	); err != nil {
		return Message{}, err
	}
	return s.Get(ctx, id)
}

// Hide implements Store. ON CONFLICT keeps it idempotent.
func (s *PostgresStore) Hide(ctx context.Context, messageID, chatID, userID int64) (Hide, error) {
	if err := ctx.Err(); err != nil {
		return Hide{}, err
	}

	hides := pgIdent(s.schema, "message_hides")
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+hides+` (message_id, chat_id, user_id, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT DO NOTHING`,
		messageID, chatID, userID,
	); err != nil {
		return Hide{}, err
	}

	var h Hide
	var createdAt time.Time
	if err := s.pool.QueryRow(ctx,
		`SELECT message_id, chat_id, user_id, created_at FROM `+hides+`
		 WHERE message_id = $1 AND chat_id = $2 AND user_id = $3`,
		messageID, chatID, userID,
	).Scan(&h.MessageID, &h.ChatID, &h.UserID, &createdAt); err != nil {
		return Hide{}, err
	}
	h.CreatedAt = createdAt
	return h, nil
}

// HiddenFor implements Store.
func (s *PostgresStore) HiddenFor(ctx context.Context, chatID, userID int64) (map[int64]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hides := pgIdent(s.schema, "message_hides")
	rows, err := s.pool.Query(ctx,
		`SELECT message_id FROM `+hides+` WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}

	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *PostgresStore) readForwards(ctx context.Context, messageID int64) ([]int64, error) {
	forwards := pgIdent(s.schema, "message_forwards")
	rows, err := s.pool.Query(ctx,
		`SELECT chat_id FROM `+forwards+` WHERE message_id = $1 ORDER BY pos`, messageID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
