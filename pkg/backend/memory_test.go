package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/stretchr/testify/require"
)

func TestMemory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	c, err := m.Create(ctx, conversation.PlaceholderTitle)
	require.NoError(t, err)
	require.False(t, c.ID.IsZero())
	require.Equal(t, conversation.PlaceholderTitle, c.Title)
	require.Empty(t, c.Messages)

	msg, err := m.Append(ctx, c.ID, conversation.RoleUser, "hello")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, conversation.RoleUser, msg.Role)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Messages, 1)
	// adapters never touch titles
	require.Equal(t, conversation.PlaceholderTitle, list[0].Title)

	require.NoError(t, m.Remove(ctx, c.ID))
	list, err = m.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestMemory_AppendToMissingConversationFails(t *testing.T) {
	m := NewMemory()
	_, err := m.Append(context.Background(), "missing", conversation.RoleUser, "hello")
	require.True(t, errors.Is(err, conversation.ErrNotFound))

	err = m.Remove(context.Background(), "missing")
	require.True(t, errors.Is(err, conversation.ErrNotFound))
}

func TestMemory_UniqueIDs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seen := map[conversation.ID]bool{}
	for i := 0; i < 200; i++ {
		c, err := m.Create(ctx, "t")
		require.NoError(t, err)
		require.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
	}
}

func TestMemory_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	m := NewMemory(WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))

	first, err := m.Create(ctx, "first")
	require.NoError(t, err)
	second, err := m.Create(ctx, "second")
	require.NoError(t, err)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []conversation.ID{second.ID, first.ID}, []conversation.ID{list[0].ID, list[1].ID})
}

func TestMemory_MessageTimestampsNonDecreasing(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(time.Hour), base}
	i := 0
	m := NewMemory(WithClock(func() time.Time {
		ret := times[i%len(times)]
		i++
		return ret
	}))

	c, err := m.Create(ctx, "t")
	require.NoError(t, err)
	first, err := m.Append(ctx, c.ID, conversation.RoleUser, "a")
	require.NoError(t, err)
	second, err := m.Append(ctx, c.ID, conversation.RoleAssistant, "b")
	require.NoError(t, err)
	require.False(t, second.CreatedAt.Before(first.CreatedAt))
}

func TestMemory_RejectsInvalidRole(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c, err := m.Create(ctx, "t")
	require.NoError(t, err)

	_, err = m.Append(ctx, c.ID, conversation.Role("system"), "x")
	require.True(t, errors.Is(err, conversation.ErrInvalidRole))
}
