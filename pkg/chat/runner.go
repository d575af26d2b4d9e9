package chat

import (
	"context"
	stderrors "errors"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/reply"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MessageStore is the part of session.Store a Runner needs.
type MessageStore interface {
	AddMessage(ctx context.Context, role conversation.Role, content string, options ...session.AddOption) (*conversation.Conversation, error)
}

var _ MessageStore = &session.Store{}

// defaultFailureMessage is recorded when a failure carries no displayable text.
const defaultFailureMessage = "The assistant failed to reply."

// Runner drives one user turn: record the prompt, ask the generator for a
// reply, record the reply.
type Runner struct {
	store     MessageStore
	generator reply.Generator
}

func NewRunner(store MessageStore, generator reply.Generator) *Runner {
	return &Runner{store: store, generator: generator}
}

// Send appends content as a user message to the current conversation and
// appends the generated reply to that same conversation, even if the current
// conversation changes while the reply is generated.
//
// A provider failure is recorded as an assistant message carrying the failure
// text; the conversation is returned together with the *reply.ProviderError.
func (r *Runner) Send(ctx context.Context, content string) (*conversation.Conversation, error) {
	c, err := r.store.AddMessage(ctx, conversation.RoleUser, content)
	if err != nil {
		return nil, errors.Wrap(err, "could not add user message")
	}
	target := session.WithTarget(c.ID)

	text, genErr := r.generator.GenerateReply(ctx, c.History())
	if genErr == nil && conversation.ValidateContent(text) != nil {
		genErr = &reply.ProviderError{Message: defaultFailureMessage, Err: errors.New("generator returned an empty reply")}
	}
	if genErr != nil {
		pe := &reply.ProviderError{}
		if !stderrors.As(genErr, &pe) {
			pe = &reply.ProviderError{Message: defaultFailureMessage, Err: genErr}
		}
		failure := pe.Message
		if conversation.ValidateContent(failure) != nil {
			failure = defaultFailureMessage
		}
		log.Warn().Err(genErr).Str("conversation_id", c.ID.String()).Msg("reply generation failed")

		c, err = r.store.AddMessage(ctx, conversation.RoleAssistant, failure, target)
		if err != nil {
			return nil, stderrors.Join(pe, errors.Wrap(err, "could not record provider failure"))
		}
		return c, pe
	}

	c, err = r.store.AddMessage(ctx, conversation.RoleAssistant, text, target)
	if err != nil {
		return nil, errors.Wrap(err, "could not add assistant message")
	}
	return c, nil
}
