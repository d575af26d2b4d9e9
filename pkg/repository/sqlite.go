package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/palaver/pkg/conversation"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS conversations_user_created
    ON conversations (user_id, created_at_ms DESC);
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL,
    UNIQUE (conversation_id, seq)
);
`

// SQLite is a Repository over a single SQLite file. Writes are serialized in
// process; SQLite would serialize them anyway.
type SQLite struct {
	mu     sync.RWMutex
	db     *sql.DB
	now    func() time.Time
	closed bool
}

func NewSQLite(dsn string) (*SQLite, error) {
	if dsn == "" {
		return nil, errors.New("sqlite repository: empty dsn")
	}
	db, err := sql.Open("sqlite3", withForeignKeys(dsn))
	if err != nil {
		return nil, errors.Wrap(err, "could not open sqlite database")
	}
	s := &SQLite{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite repository: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

// withForeignKeys turns on foreign keys for every pooled connection unless the
// dsn sets them itself. A PRAGMA only reaches the connection it ran on.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return errors.Wrap(err, "could not enable foreign keys")
	}
	if _, err := s.db.Exec(sqliteSchemaV1); err != nil {
		return errors.Wrap(err, "could not migrate sqlite schema")
	}
	return nil
}

func (s *SQLite) ListConversations(ctx context.Context, user string) ([]*conversation.Conversation, error) {
	if err := validateUser(user); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at_ms FROM conversations
WHERE user_id = ? ORDER BY created_at_ms DESC, id DESC`, user)
	if err != nil {
		return nil, errors.Wrap(err, "could not list conversations")
	}
	defer func() {
		_ = rows.Close()
	}()

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

	messages, err := s.listMessages(ctx, user)
	if err != nil {
		return nil, err
	}
	return assemble(ret, messages), nil
}

func (s *SQLite) listMessages(ctx context.Context, user string) (map[conversation.ID][]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.conversation_id, m.id, m.role, m.content, m.created_at_ms
FROM messages m JOIN conversations c ON c.id = m.conversation_id
WHERE c.user_id = ? ORDER BY m.conversation_id, m.seq`, user)
	if err != nil {
		return nil, errors.Wrap(err, "could not list messages")
	}
	defer func() {
		_ = rows.Close()
	}()

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

func (s *SQLite) CreateConversation(ctx context.Context, user string, title string) (*conversation.Conversation, error) {
	if err := validateUser(user); err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	c := conversation.New(conversation.ID(id), fromMillis(toMillis(s.now())))
	c.Title = normalizeTitle(title)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at_ms) VALUES (?, ?, ?, ?)`,
		c.ID.String(), user, c.Title, toMillis(c.CreatedAt))
	if err != nil {
		return nil, errors.Wrap(err, "could not insert conversation")
	}
	return c, nil
}

func (s *SQLite) DeleteConversation(ctx context.Context, user string, id conversation.ID) error {
	if err := validateUser(user); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, id.String(), user)
	if err != nil {
		return errors.Wrap(err, "could not delete conversation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "could not delete conversation")
	}
	if n == 0 {
		return &conversation.NotFoundError{ID: id}
	}
	return nil
}

func (s *SQLite) AppendMessage(
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ? AND user_id = ?`, id.String(), user).Scan(&exists)
	if err != nil {
		return nil, errors.Wrap(err, "could not look up conversation")
	}
	if exists == 0 {
		return nil, &conversation.NotFoundError{ID: id}
	}

	var seq, lastMs int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0), COALESCE(MAX(created_at_ms), 0) FROM messages WHERE conversation_id = ?`,
		id.String()).Scan(&seq, &lastMs)
	if err != nil {
		return nil, errors.Wrap(err, "could not read last message")
	}

	createdAt := nextTimestamp(s.now(), lastMs)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, role, content, created_at_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		messageID, id.String(), seq+1, string(role), content, createdAt)
	if err != nil {
		return nil, errors.Wrap(err, "could not insert message")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "could not commit message")
	}

	return &conversation.Message{
		ID:        conversation.MessageID(messageID),
		Role:      role,
		Content:   content,
		CreatedAt: fromMillis(createdAt),
	}, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLite) ensureOpen() error {
	if s.closed {
		return errors.New("sqlite repository closed")
	}
	return nil
}

var _ Repository = &SQLite{}
