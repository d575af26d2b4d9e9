package backend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/oklog/ulid/v2"
)

// Memory is the ephemeral backend: all state lives in the process and
// identifiers are ULIDs (millisecond timestamp plus monotonic random bits), so
// they are unique within the process and sort by creation.
type Memory struct {
	mu            sync.RWMutex
	conversations map[conversation.ID]*conversation.Conversation
	now           func() time.Time
	newID         func() string
}

var _ Backend = (*Memory)(nil)

type MemoryOption func(*Memory)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(options ...MemoryOption) *Memory {
	ret := &Memory{
		conversations: map[conversation.ID]*conversation.Conversation{},
		now:           time.Now,
		newID: func() string {
			return ulid.Make().String()
		},
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (m *Memory) List(_ context.Context) ([]*conversation.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*conversation.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		out = append(out, c.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Create(_ context.Context, title string) (*conversation.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := conversation.New(conversation.ID(m.newID()), m.now())
	c.Title = title
	m.conversations[c.ID] = c
	return c.Clone(), nil
}

func (m *Memory) Append(_ context.Context, id conversation.ID, role conversation.Role, content string) (*conversation.Message, error) {
	if !role.Valid() {
		return nil, &conversation.InvalidRoleError{Role: string(role)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, &conversation.NotFoundError{ID: id}
	}

	createdAt := m.now()
	if last, ok := c.LastMessage(); ok && createdAt.Before(last.CreatedAt) {
		createdAt = last.CreatedAt
	}
	msg := conversation.Message{
		ID:        conversation.MessageID(m.newID()),
		Role:      role,
		Content:   content,
		CreatedAt: createdAt,
	}
	c.Messages = append(c.Messages, msg)
	return &msg, nil
}

func (m *Memory) Remove(_ context.Context, id conversation.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return &conversation.NotFoundError{ID: id}
	}
	delete(m.conversations, id)
	return nil
}
