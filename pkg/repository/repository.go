package repository

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Repository stores conversations per user for the REST service. Every
// method only sees the rows owned by user; another user's conversation is
// reported as not found.
type Repository interface {
	ListConversations(ctx context.Context, user string) ([]*conversation.Conversation, error)
	CreateConversation(ctx context.Context, user string, title string) (*conversation.Conversation, error)
	DeleteConversation(ctx context.Context, user string, id conversation.ID) error
	AppendMessage(ctx context.Context, user string, id conversation.ID, role conversation.Role, content string) (*conversation.Message, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open picks the driver from the DSN scheme:
//
//	sqlite://path/to/file.db, sqlite:file.db, file:file.db  -> SQLite
//	postgres://..., postgresql://...                         -> PostgreSQL
func Open(ctx context.Context, dsn string) (Repository, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	case strings.HasPrefix(dsn, "sqlite://"):
		return openSQLitePath(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "sqlite:"):
		return openSQLitePath(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "file:"):
		return NewSQLite(dsn)
	default:
		return nil, errors.Errorf("unsupported database dsn %q", redact(dsn))
	}
}

func openSQLitePath(path string) (Repository, error) {
	dsn, err := SQLiteDSNForFile(path)
	if err != nil {
		return nil, err
	}
	return NewSQLite(dsn)
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		if j := strings.Index(dsn, "://"); j >= 0 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return dsn
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "could not generate id")
	}
	return id.String(), nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func validateUser(user string) error {
	if strings.TrimSpace(user) == "" {
		return errors.New("user must not be empty")
	}
	return nil
}

func normalizeTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return conversation.PlaceholderTitle
	}
	return title
}

// nextTimestamp keeps message timestamps non-decreasing within a conversation.
func nextTimestamp(now time.Time, lastMs int64) int64 {
	ms := toMillis(now)
	if ms < lastMs {
		return lastMs
	}
	return ms
}

// assemble attaches messages to their conversations, keeping the order of
// both inputs.
func assemble(conversations []*conversation.Conversation, messages map[conversation.ID][]conversation.Message) []*conversation.Conversation {
	for _, c := range conversations {
		if ms, ok := messages[c.ID]; ok {
			c.Messages = ms
		} else {
			c.Messages = []conversation.Message{}
		}
	}
	return conversations
}
