package session

import (
	"context"
	"testing"
	"time"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/stretchr/testify/require"
)

func TestStore_PublishesEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubSub := NewEventPubSub()
	defer func() { _ = pubSub.Close() }()
	messages, err := pubSub.Subscribe(ctx, DefaultTopic)
	require.NoError(t, err)

	s := NewStore(backend.NewMemory(), WithPublisher(pubSub, ""))
	first, err := s.Load(ctx)
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, conversation.RoleUser, "hello")
	require.NoError(t, err)
	second, err := s.CreateConversation(ctx)
	require.NoError(t, err)
	_, err = s.SwitchConversation(first.ID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteConversation(ctx, second.ID))

	var got []EventType
	for len(got) < 5 {
		select {
		case msg := <-messages:
			e, err := ParseEvent(msg)
			require.NoError(t, err)
			require.Equal(t, string(e.Type), msg.Metadata.Get(eventTypeMetadataKey))
			if e.Type == EventMessageAppended {
				require.Equal(t, first.ID, e.ConversationID)
				require.Equal(t, "hello", e.Title)
			}
			got = append(got, e.Type)
			msg.Ack()
		case <-ctx.Done():
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}

	require.ElementsMatch(t, []EventType{
		EventConversationCreated,
		EventMessageAppended,
		EventConversationCreated,
		EventConversationSwitched,
		EventConversationDeleted,
	}, got)
}

func TestStore_PublishFailureDoesNotFailMutation(t *testing.T) {
	ctx := context.Background()
	pubSub := NewEventPubSub()
	require.NoError(t, pubSub.Close())

	s := NewStore(backend.NewMemory(), WithPublisher(pubSub, "closed"))
	_, err := s.Load(ctx)
	require.NoError(t, err)
	c, err := s.AddMessage(ctx, conversation.RoleUser, "still works")
	require.NoError(t, err)
	require.Len(t, c.Messages, 1)
}
