package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/palaver/pkg/conversation"
)

// Generator produces the assistant reply for a conversation history.
type Generator interface {
	GenerateReply(ctx context.Context, history []conversation.Message) (string, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, history []conversation.Message) (string, error)

func (f Func) GenerateReply(ctx context.Context, history []conversation.Message) (string, error) {
	return f(ctx, history)
}

var _ Generator = Func(nil)

// ProviderError is a reply generation failure. Message is meant to be shown to
// the user and recorded in the transcript.
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == conversation.ErrProviderError
}

// Echo answers with the last user message. It needs no network and is the
// default when no provider is configured.
type Echo struct {
	Prefix string
}

func (e *Echo) GenerateReply(_ context.Context, history []conversation.Message) (string, error) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == conversation.RoleUser {
			return e.Prefix + strings.TrimSpace(history[i].Content), nil
		}
	}
	return "", &ProviderError{Message: "there is nothing to reply to"}
}

var _ Generator = &Echo{}
