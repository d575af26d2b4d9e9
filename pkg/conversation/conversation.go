// Package conversation holds the data model shared by the session store, its
// backends and the REST service: conversations, their messages, the title
// derivation rule and the error taxonomy.
package conversation

import (
	"time"

	"github.com/huandu/go-clone"
)

// ID identifies a conversation. Backends generate it; nothing else parses it.
type ID string

func (id ID) String() string {
	return string(id)
}

func (id ID) IsZero() bool {
	return id == ""
}

type Conversation struct {
	ID        ID        `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Messages  []Message `json:"messages" yaml:"messages"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// New returns an empty conversation carrying the placeholder title.
func New(id ID, createdAt time.Time) *Conversation {
	return &Conversation{
		ID:        id,
		Title:     PlaceholderTitle,
		Messages:  []Message{},
		CreatedAt: createdAt,
	}
}

func (c *Conversation) IsEmpty() bool {
	return c == nil || len(c.Messages) == 0
}

func (c *Conversation) LastMessage() (Message, bool) {
	if c.IsEmpty() {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Clone returns a deep copy. Snapshots handed out by the session store are
// always clones so callers cannot reach the stored message slices.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	ret := clone.Clone(c).(*Conversation)
	if ret.Messages == nil {
		ret.Messages = []Message{}
	}
	return ret
}

// History returns a copy of the ordered messages, suitable for handing to a
// reply generator.
func (c *Conversation) History() []Message {
	if c == nil {
		return nil
	}
	ret := make([]Message, len(c.Messages))
	copy(ret, c.Messages)
	return ret
}
