package chat

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
// Concurrency model:
// - Id allocation and story mutation take a transactional advisory lock so
//   concurrent writers to one chat are serialized (no lost or duplicated
//   story ids).
//
// Schema management is external (migrations are not run here). Expected
// tables: chats(id, created_at), chat_members(chat_id, user_id, pos),
// chat_story(chat_id, message_id, pos).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "ember").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed chat Store.
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
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, members []int64) (Chat, error) {
	if len(members) == 0 {
		return Chat{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Chat{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Chat{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	chats := pgIdent(s.schema, "chats")
	chatMembers := pgIdent(s.schema, "chat_members")

	// Serialize id allocation so max+1 never collides.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, s.schema+".chats"); err != nil {
		return Chat{}, fmt.Errorf("advisory lock: %w", err)
	}

	var id int64
	var createdAt time.Time
	if err := tx.QueryRow(ctx,
		`INSERT INTO `+chats+` (id, created_at)
		 SELECT COALESCE(MAX(id), 0) + 1, now() FROM `+chats+`
		 RETURNING id, created_at`,
	).Scan(&id, &createdAt); err != nil {
		return Chat{}, err
	}

	for i, userID := range members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+chatMembers+` (chat_id, user_id, pos) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			id, userID, i,
		); err != nil {
			return Chat{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Chat{}, err
	}

	out := Chat{ID: id, Members: append([]int64(nil), members...), CreatedAt: createdAt}
	return out, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, chatID int64) (Chat, error) {
	if err := ctx.Err(); err != nil {
		return Chat{}, err
	}

	chats := pgIdent(s.schema, "chats")

	var c Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, created_at FROM `+chats+` WHERE id = $1`, chatID,
	).Scan(&c.ID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, ErrChatNotFound
	}
	if err != nil {
		return Chat{}, err
	}

	if c.Members, err = s.readMembers(ctx, chatID); err != nil {
		return Chat{}, err
	}
	if c.Story, err = s.readStory(ctx, chatID); err != nil {
		return Chat{}, err
	}
	return c, nil
}

// ListForUser implements Store.
func (s *PostgresStore) ListForUser(ctx context.Context, userID int64, offset, limit int) ([]Chat, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	return s.chatsForUser(ctx, userID, fmt.Sprintf(` OFFSET %d LIMIT %d`, offset, limit))
}

// AllForUser implements Store.
func (s *PostgresStore) AllForUser(ctx context.Context, userID int64) ([]Chat, error) {
	return s.chatsForUser(ctx, userID, ``)
}

// StoryWindow implements Store.
func (s *PostgresStore) StoryWindow(ctx context.Context, chatID int64, offset, limit int) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, chatID); err != nil {
		return nil, err
	}
	story, err := s.readStory(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return sliceWindow(story, offset, limit), nil
}

// PrependMessage implements Store.
func (s *PostgresStore) PrependMessage(ctx context.Context, chatID, messageID int64) error {
	return s.withChatLock(ctx, chatID, func(tx pgx.Tx) error {
		story := pgIdent(s.schema, "chat_story")
		// pos grows with each insert; reads order by pos DESC, so the
		// newest insert is the story head.
		_, err := tx.Exec(ctx,
			`INSERT INTO `+story+` (chat_id, message_id, pos)
			 SELECT $1, $2, COALESCE(MAX(pos), 0) + 1 FROM `+story+` WHERE chat_id = $1`,
			chatID, messageID,
		)
		return err
	})
}

// RemoveMessage implements Store.
func (s *PostgresStore) RemoveMessage(ctx context.Context, chatID, messageID int64) error {
	return s.withChatLock(ctx, chatID, func(tx pgx.Tx) error {
		story := pgIdent(s.schema, "chat_story")
		// Absent rows are a no-op by contract.
		_, err := tx.Exec(ctx,
			`DELETE FROM `+story+` WHERE chat_id = $1 AND message_id = $2`,
			chatID, messageID,
		)
		return err
	})
}

// RemoveMember implements Store.
func (s *PostgresStore) RemoveMember(ctx context.Context, chatID, userID int64) error {
	return s.withChatLock(ctx, chatID, func(tx pgx.Tx) error {
		chatMembers := pgIdent(s.schema, "chat_members")
		tag, err := tx.Exec(ctx,
			`DELETE FROM `+chatMembers+` WHERE chat_id = $1 AND user_id = $2`,
			chatID, userID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotAMember
		}
		return nil
	})
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, chatID int64) (Chat, error) {
	c, err := s.Get(ctx, chatID)
	if err != nil {
		return Chat{}, err
	}

	err = s.withChatLock(ctx, chatID, func(tx pgx.Tx) error {
		for _, table := range []string{"chat_story", "chat_members", "chats"} {
			col := "chat_id"
			if table == "chats" {
				col = "id"
			}
			if _, err := tx.Exec(ctx,
				`DELETE FROM `+pgIdent(s.schema, table)+` WHERE `+col+` = $1`, chatID,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Chat{}, err
	}
	return c, nil
}

// withChatLock runs fn inside a transaction holding the per-chat advisory
// lock, after verifying the chat exists.
func (s *PostgresStore) withChatLock(ctx context.Context, chatID int64, fn func(tx pgx.Tx) error) error {
	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		fmt.Sprintf("%s.chat.%d", s.schema, chatID),
	); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	chats := pgIdent(s.schema, "chats")
	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM `+chats+` WHERE id = $1`, chatID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrChatNotFound
	}
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) chatsForUser(ctx context.Context, userID int64, tail string) ([]Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chatMembers := pgIdent(s.schema, "chat_members")
	rows, err := s.pool.Query(ctx,
		`SELECT chat_id FROM `+chatMembers+` WHERE user_id = $1 ORDER BY chat_id`+tail,
		userID,
	)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}

	out := make([]Chat, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if errors.Is(err, ErrChatNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *PostgresStore) readMembers(ctx context.Context, chatID int64) ([]int64, error) {
	chatMembers := pgIdent(s.schema, "chat_members")
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM `+chatMembers+` WHERE chat_id = $1 ORDER BY pos`, chatID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *PostgresStore) readStory(ctx context.Context, chatID int64) ([]int64, error) {
	story := pgIdent(s.schema, "chat_story")
	rows, err := s.pool.Query(ctx,
		`SELECT message_id FROM `+story+` WHERE chat_id = $1 ORDER BY pos DESC`, chatID,
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
