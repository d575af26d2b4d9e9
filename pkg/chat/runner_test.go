package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/reply"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *session.Store {
	s := session.NewStore(backend.NewMemory())
	_, err := s.Load(context.Background())
	require.NoError(t, err)
	return s
}

func TestRunner_Send(t *testing.T) {
	s := newStore(t)
	r := NewRunner(s, &reply.Echo{Prefix: "you said: "})

	c, err := r.Send(context.Background(), "Analyze the problem of food waste in restaurants")
	require.NoError(t, err)
	require.Equal(t, "Analyze the problem of food waste in restaurants", c.Title)
	require.Len(t, c.Messages, 2)
	require.Equal(t, conversation.RoleAssistant, c.Messages[1].Role)
	require.Equal(t, "you said: Analyze the problem of food waste in restaurants", c.Messages[1].Content)
}

func TestRunner_ProviderFailureIsRecorded(t *testing.T) {
	s := newStore(t)
	r := NewRunner(s, reply.Func(func(context.Context, []conversation.Message) (string, error) {
		return "", &reply.ProviderError{Message: "Too many requests, try again later."}
	}))

	c, err := r.Send(context.Background(), "hello")
	require.True(t, errors.Is(err, conversation.ErrProviderError))
	require.NotNil(t, c)
	require.Len(t, c.Messages, 2)
	require.Equal(t, "Too many requests, try again later.", c.Messages[1].Content)

	current, ok := s.CurrentConversation()
	require.True(t, ok)
	require.Len(t, current.Messages, 2)
}

func TestRunner_PlainErrorBecomesProviderError(t *testing.T) {
	s := newStore(t)
	r := NewRunner(s, reply.Func(func(context.Context, []conversation.Message) (string, error) {
		return "", errors.New("boom")
	}))

	c, err := r.Send(context.Background(), "hello")
	var pe *reply.ProviderError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, pe.Message, c.Messages[1].Content)
}

func TestRunner_ReplyLandsInOriginalConversation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	first, _ := s.CurrentConversation()

	var second *conversation.Conversation
	r := NewRunner(s, reply.Func(func(ctx context.Context, h []conversation.Message) (string, error) {
		var err error
		second, err = s.CreateConversation(ctx)
		require.NoError(t, err)
		return "late reply", nil
	}))

	c, err := r.Send(ctx, "question")
	require.NoError(t, err)
	require.Equal(t, first.ID, c.ID)
	require.Len(t, c.Messages, 2)

	current, _ := s.CurrentConversation()
	require.Equal(t, second.ID, current.ID)
	require.Empty(t, current.Messages)
}

func TestRunner_NoActiveConversation(t *testing.T) {
	s := session.NewStore(backend.NewMemory())
	r := NewRunner(s, &reply.Echo{})

	_, err := r.Send(context.Background(), "hello")
	require.True(t, errors.Is(err, conversation.ErrNoActiveConversation))
}

func TestRunner_BlankFailureTextFallsBack(t *testing.T) {
	s := newStore(t)
	r := NewRunner(s, reply.Func(func(context.Context, []conversation.Message) (string, error) {
		return "", &reply.ProviderError{Message: "  "}
	}))

	c, err := r.Send(context.Background(), "hello")
	require.True(t, errors.Is(err, conversation.ErrProviderError))
	require.Len(t, c.Messages, 2)
	require.Equal(t, defaultFailureMessage, c.Messages[1].Content)
}

func TestRunner_EmptyReplyIsProviderError(t *testing.T) {
	s := newStore(t)
	r := NewRunner(s, reply.Func(func(context.Context, []conversation.Message) (string, error) {
		return "", nil
	}))

	c, err := r.Send(context.Background(), "hello")
	require.True(t, errors.Is(err, conversation.ErrProviderError))
	require.Len(t, c.Messages, 2)
	require.Equal(t, defaultFailureMessage, c.Messages[1].Content)
}

func TestRunner_BlankPromptIsRejected(t *testing.T) {
	s := newStore(t)
	r := NewRunner(s, &reply.Echo{})

	_, err := r.Send(context.Background(), "   ")
	require.True(t, errors.Is(err, conversation.ErrInvalidContent))
	current, _ := s.CurrentConversation()
	require.Empty(t, current.Messages)
	require.Equal(t, conversation.PlaceholderTitle, current.Title)
}
