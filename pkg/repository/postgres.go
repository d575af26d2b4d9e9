package repository

import (
	"context"
	"time"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const postgresSchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS conversations_user_created
    ON conversations (user_id, created_at_ms DESC);
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at_ms BIGINT NOT NULL,
    UNIQUE (conversation_id, seq)
);
`

type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "could not create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "could not reach postgres")
	}
	if _, err := pool.Exec(ctx, postgresSchemaV1); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "could not migrate postgres schema")
	}
	log.Info().Msg("connected to postgres")
	return &Postgres{pool: pool, now: time.Now}, nil
}

func (p *Postgres) ListConversations(ctx context.Context, user string) ([]*conversation.Conversation, error) {
	if err := validateUser(user); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, title, created_at_ms FROM conversations
WHERE user_id = $1 ORDER BY created_at_ms DESC, id DESC`, user)
	if err != nil {
		return nil, errors.Wrap(err, "could not list conversations")
	}
	defer rows.Close()

	var ret []*conversation.Conversation
	for rows.Next() {
		var id, title string
		var createdAt int64
		if err := rows.Scan(&id, &title, &createdAt); err != nil {
			return nil, errors.Wrap(err, "could not scan conversation")
		}
		ret = append(ret, &conversation.Conversation{
			ID:        conversation.ID(id),
			Title:     title,
			CreatedAt: fromMillis(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	messages, err := p.listMessages(ctx, user)
	if err != nil {
		return nil, err
	}
	return assemble(ret, messages), nil
}

func (p *Postgres) listMessages(ctx context.Context, user string) (map[conversation.ID][]conversation.Message, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT m.conversation_id, m.id, m.role, m.content, m.created_at_ms
FROM messages m JOIN conversations c ON c.id = m.conversation_id
WHERE c.user_id = $1 ORDER BY m.conversation_id, m.seq`, user)
	if err != nil {
		return nil, errors.Wrap(err, "could not list messages")
	}
	defer rows.Close()

	ret := map[conversation.ID][]conversation.Message{}
	for rows.Next() {
		var conversationID, id, role, content string
		var createdAt int64
		if err := rows.Scan(&conversationID, &id, &role, &content, &createdAt); err != nil {
			return nil, errors.Wrap(err, "could not scan message")
		}
		cid := conversation.ID(conversationID)
		ret[cid] = append(ret[cid], conversation.Message{
			ID:        conversation.MessageID(id),
			Role:      conversation.Role(role),
			Content:   content,
			CreatedAt: fromMillis(createdAt),
		})
	}
	return ret, rows.Err()
}

func (p *Postgres) CreateConversation(ctx context.Context, user string, title string) (*conversation.Conversation, error) {
	if err := validateUser(user); err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	c := conversation.New(conversation.ID(id), fromMillis(toMillis(p.now())))
	c.Title = normalizeTitle(title)
	_, err = p.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at_ms) VALUES ($1, $2, $3, $4)`,
		c.ID.String(), user, c.Title, toMillis(c.CreatedAt))
	if err != nil {
		return nil, errors.Wrap(err, "could not insert conversation")
	}
	return c, nil
}

func (p *Postgres) DeleteConversation(ctx context.Context, user string, id conversation.ID) error {
	if err := validateUser(user); err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1 AND user_id = $2`, id.String(), user)
	if err != nil {
		return errors.Wrap(err, "could not delete conversation")
	}
	if tag.RowsAffected() == 0 {
		return &conversation.NotFoundError{ID: id}
	}
	return nil
}

func (p *Postgres) AppendMessage(
	ctx context.Context,
	user string,
	id conversation.ID,
	role conversation.Role,
	content string,
) (*conversation.Message, error) {
	if err := validateUser(user); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, &conversation.InvalidRoleError{Role: string(role)}
	}
	messageID, err := newID()
	if err != nil {
		return nil, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not begin transaction")
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// row lock orders concurrent appends to one conversation
	var locked string
	err = tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 AND user_id = $2 FOR UPDATE`, id.String(), user).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &conversation.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not look up conversation")
	}

	var seq, lastMs int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0), COALESCE(MAX(created_at_ms), 0) FROM messages WHERE conversation_id = $1`,
		id.String()).Scan(&seq, &lastMs)
	if err != nil {
		return nil, errors.Wrap(err, "could not read last message")
	}

	createdAt := nextTimestamp(p.now(), lastMs)
	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, seq, role, content, created_at_ms) VALUES ($1, $2, $3, $4, $5, $6)`,
		messageID, id.String(), seq+1, string(role), content, createdAt)
	if err != nil {
		return nil, errors.Wrap(err, "could not insert message")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "could not commit message")
	}

	return &conversation.Message{
		ID:        conversation.MessageID(messageID),
		Role:      role,
		Content:   content,
		CreatedAt: fromMillis(createdAt),
	}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

var _ Repository = &Postgres{}
