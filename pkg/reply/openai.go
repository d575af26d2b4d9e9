package reply

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultOpenAIModel   = go_openai.GPT3Dot5Turbo
	rateLimitMessage     = "The assistant is receiving too many requests right now. Please wait a moment and try again."
	unavailableMessage   = "The assistant could not be reached. Please try again later."
	emptyResponseMessage = "The assistant returned an empty response."
)

type OpenAISettings struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
}

type OpenAI struct {
	client   *go_openai.Client
	settings OpenAISettings
}

func NewOpenAI(settings OpenAISettings) (*OpenAI, error) {
	if settings.APIKey == "" {
		return nil, errors.New("no API key for openai")
	}
	config := go_openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		config.BaseURL = settings.BaseURL
	}
	if settings.Model == "" {
		settings.Model = DefaultOpenAIModel
	}
	return &OpenAI{
		client:   go_openai.NewClientWithConfig(config),
		settings: settings,
	}, nil
}

func (o *OpenAI) GenerateReply(ctx context.Context, history []conversation.Message) (string, error) {
	req := go_openai.ChatCompletionRequest{
		Model:    o.settings.Model,
		Messages: o.makeMessages(history),
	}

	log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Msg("requesting chat completion")

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", providerError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &ProviderError{Message: emptyResponseMessage}
	}

	log.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("chat completion done")
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) makeMessages(history []conversation.Message) []go_openai.ChatCompletionMessage {
	ret := make([]go_openai.ChatCompletionMessage, 0, len(history)+1)
	if o.settings.SystemPrompt != "" {
		ret = append(ret, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: o.settings.SystemPrompt,
		})
	}
	for _, m := range history {
		role := go_openai.ChatMessageRoleUser
		if m.Role == conversation.RoleAssistant {
			role = go_openai.ChatMessageRoleAssistant
		}
		ret = append(ret, go_openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}
	return ret
}

func providerError(err error) *ProviderError {
	status := 0
	message := ""
	var apiErr *go_openai.APIError
	var reqErr *go_openai.RequestError
	switch {
	case stderrors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		message = apiErr.Message
	case stderrors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &ProviderError{Message: rateLimitMessage, Err: err}
	case message != "":
		return &ProviderError{Message: "The assistant failed: " + message, Err: err}
	default:
		return &ProviderError{Message: unavailableMessage, Err: err}
	}
}

var _ Generator = &OpenAI{}
