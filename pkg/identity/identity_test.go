package identity

import (
	"context"
	"testing"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	id, err := Parse("  alice ")
	require.NoError(t, err)
	require.Equal(t, "alice", id.UserID)

	_, err = Parse("")
	require.Error(t, err)
	_, err = Parse("alice bob")
	require.Error(t, err)
}

func TestTracker_SwitchingUsersIsolatesConversations(t *testing.T) {
	ctx := context.Background()
	backends := map[string]*backend.Memory{
		"alice": backend.NewMemory(),
		"bob":   backend.NewMemory(),
	}
	store := session.NewStore(nil)
	tracker := NewTracker(store, func(id *Identity) (backend.Backend, error) {
		return backends[id.UserID], nil
	})
	require.Nil(t, tracker.Current())

	_, err := tracker.Set(ctx, &Identity{UserID: "alice"})
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, conversation.RoleUser, "alice's question")
	require.NoError(t, err)

	_, err = tracker.Set(ctx, &Identity{UserID: "bob"})
	require.NoError(t, err)
	require.Equal(t, "bob", tracker.Current().UserID)
	list := store.ListConversations()
	require.Len(t, list, 1)
	require.Empty(t, list[0].Messages)

	_, err = tracker.Set(ctx, &Identity{UserID: "alice"})
	require.NoError(t, err)
	list = store.ListConversations()
	require.Len(t, list, 2)
	require.Equal(t, "alice's question", list[1].Title)
}

func TestTracker_SignOutEmptiesStore(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(nil)
	tracker := NewTracker(store, func(*Identity) (backend.Backend, error) {
		return backend.NewMemory(), nil
	})
	_, err := tracker.Set(ctx, &Identity{UserID: "alice"})
	require.NoError(t, err)

	c, err := tracker.Set(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, c)
	require.Nil(t, tracker.Current())
	require.Empty(t, store.ListConversations())
	_, ok := store.CurrentConversation()
	require.False(t, ok)
}

func TestTracker_FactoryFailureKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	store := session.NewStore(nil)
	tracker := NewTracker(store, func(id *Identity) (backend.Backend, error) {
		if id.UserID == "mallory" {
			return nil, errors.New("no server configured")
		}
		return backend.NewMemory(), nil
	})
	_, err := tracker.Set(ctx, &Identity{UserID: "alice"})
	require.NoError(t, err)

	_, err = tracker.Set(ctx, &Identity{UserID: "mallory"})
	require.Error(t, err)
	require.Equal(t, "alice", tracker.Current().UserID)
	require.Len(t, store.ListConversations(), 1)
}
