package session

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/stretchr/testify/require"
)

type storeModel struct {
	seen map[conversation.ID][]conversation.Message
}

// checkInvariants asserts the collection properties that must hold after
// every operation. afterCreate enables the pruning check.
func (m *storeModel) checkInvariants(t *testing.T, s *Store, b *flakyBackend, afterCreate bool, step string) {
	list := s.ListConversations()
	require.NotEmpty(t, list, step)

	unique := map[conversation.ID]bool{}
	for _, c := range list {
		require.False(t, unique[c.ID], "%s: duplicate id %s", step, c.ID)
		unique[c.ID] = true
	}

	current, ok := s.CurrentConversation()
	require.True(t, ok, step)
	require.True(t, unique[current.ID], step)

	for _, c := range list {
		require.Equal(t, conversation.TitleFromMessages(c.Messages), c.Title, "%s: title of %s", step, c.ID)

		prev := m.seen[c.ID]
		require.GreaterOrEqual(t, len(c.Messages), len(prev), step)
		require.Equal(t, prev, c.Messages[:len(prev)], "%s: messages of %s rewritten", step, c.ID)
		m.seen[c.ID] = c.Messages

		if afterCreate && c.ID != current.ID {
			require.NotEmpty(t, c.Messages, "%s: stale empty conversation %s survived creation", step, c.ID)
		}
	}

	for i := 1; i < len(list); i++ {
		require.False(t, list[i].CreatedAt.After(list[i-1].CreatedAt), step)
	}

	stored, err := b.Memory.List(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, ids(list), ids(stored), "%s: collection diverged from backend", step)
}

func TestStore_RandomInterleavingsKeepInvariants(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		seed := seed
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			ctx := context.Background()
			rnd := rand.New(rand.NewSource(seed))
			s, b := newLoadedStore(t)
			m := &storeModel{seen: map[conversation.ID][]conversation.Message{}}
			m.checkInvariants(t, s, b, true, "load")

			pick := func() conversation.ID {
				list := s.ListConversations()
				if rnd.Intn(10) == 0 {
					return "unknown"
				}
				return list[rnd.Intn(len(list))].ID
			}

			for i := 0; i < 150; i++ {
				step := fmt.Sprintf("step %d", i)
				afterCreate := false
				switch op := rnd.Intn(6); op {
				case 0:
					_, err := s.CreateConversation(ctx)
					require.NoError(t, err, step)
					afterCreate = true
					step += " create"
				case 1:
					id := pick()
					_, err := s.SwitchConversation(id)
					if id == "unknown" {
						require.ErrorIs(t, err, conversation.ErrNotFound, step)
					} else {
						require.NoError(t, err, step)
					}
					step += " switch"
				case 2, 3:
					role := conversation.RoleUser
					if rnd.Intn(3) == 0 {
						role = conversation.RoleAssistant
					}
					var options []AddOption
					if rnd.Intn(4) == 0 {
						options = append(options, WithTarget(pick()))
					}
					_, err := s.AddMessage(ctx, role, fmt.Sprintf("message %d", i), options...)
					if err != nil {
						require.ErrorIs(t, err, conversation.ErrNotFound, step)
					}
					step += " add"
				case 4:
					id := pick()
					err := s.DeleteConversation(ctx, id)
					if id == "unknown" {
						require.ErrorIs(t, err, conversation.ErrNotFound, step)
					} else {
						require.NoError(t, err, step)
						delete(m.seen, id)
					}
					step += " delete"
				case 5:
					_, err := s.ClearCurrentConversation(ctx)
					require.NoError(t, err, step)
					afterCreate = true
					step += " clear"
				}
				m.checkInvariants(t, s, b, afterCreate, step)
			}
		})
	}
}
