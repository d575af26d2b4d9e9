package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Identity is the signed-in user. A nil *Identity means nobody is signed in.
type Identity struct {
	UserID string
}

func Parse(s string) (*Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("user id must not be empty")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return nil, errors.Errorf("user id %q must not contain whitespace", s)
	}
	return &Identity{UserID: s}, nil
}

// BackendFactory builds the backend that stores an identity's conversations.
type BackendFactory func(id *Identity) (backend.Backend, error)

// Rebinder is implemented by session.Store.
type Rebinder interface {
	Rebind(ctx context.Context, b backend.Backend) (*conversation.Conversation, error)
}

// Tracker follows identity changes and rebinds the store on each of them, so
// conversations never leak from one user to the next.
type Tracker struct {
	mu      sync.Mutex
	current *Identity
	factory BackendFactory
	store   Rebinder
}

func NewTracker(store Rebinder, factory BackendFactory) *Tracker {
	return &Tracker{store: store, factory: factory}
}

func (t *Tracker) Current() *Identity {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	ret := *t.current
	return &ret
}

// Set switches to id (nil signs out). The store is rebound even when id equals
// the current identity. If no backend can be built for id, nothing changes.
func (t *Tracker) Set(ctx context.Context, id *Identity) (*conversation.Conversation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b backend.Backend
	if id != nil {
		var err error
		b, err = t.factory(id)
		if err != nil {
			return nil, errors.Wrapf(err, "could not create backend for %s", id.UserID)
		}
	}

	var next *Identity
	if id != nil {
		cp := *id
		next = &cp
	}
	t.current = next

	user := ""
	if next != nil {
		user = next.UserID
	}
	log.Info().Str("user", user).Msg("identity changed")

	c, err := t.store.Rebind(ctx, b)
	if err != nil {
		return nil, errors.Wrap(err, "could not load conversations")
	}
	return c, nil
}
