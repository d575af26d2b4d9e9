package backend

import (
	"context"

	"github.com/go-go-golems/palaver/pkg/conversation"
)

// Backend realizes conversation persistence for the session store. It is a
// dumb strategy: title derivation, pruning and current-conversation selection
// all live in the session store.
//
// Identifiers returned by Create and Append are stable and unique within the
// backend. Append fails with conversation.ErrNotFound, without writing
// anything, when the target conversation is absent.
type Backend interface {
	List(ctx context.Context) ([]*conversation.Conversation, error)
	Create(ctx context.Context, title string) (*conversation.Conversation, error)
	Append(ctx context.Context, id conversation.ID, role conversation.Role, content string) (*conversation.Message, error)
	Remove(ctx context.Context, id conversation.ID) error
}
