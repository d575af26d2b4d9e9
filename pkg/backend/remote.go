package backend

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Remote is the persisted backend. Every call is a request against the
// palaver REST service, which issues the identifiers.
//
// Reads go through a client that retries transport errors and 5xx responses.
// Writes are never retried: a lost response to an append would otherwise
// duplicate the message server-side.
type Remote struct {
	reads  *resty.Client
	writes *resty.Client
	user   string
}

var _ Backend = (*Remote)(nil)

type remoteSettings struct {
	user       string
	timeout    time.Duration
	retryCount int
	retryWait  time.Duration
	httpClient *http.Client
}

type RemoteOption func(*remoteSettings)

// WithUser scopes every request to the given identity.
func WithUser(user string) RemoteOption {
	return func(s *remoteSettings) {
		s.user = user
	}
}

func WithTimeout(timeout time.Duration) RemoteOption {
	return func(s *remoteSettings) {
		s.timeout = timeout
	}
}

// WithReadRetries configures how often List is retried.
func WithReadRetries(count int, wait time.Duration) RemoteOption {
	return func(s *remoteSettings) {
		s.retryCount = count
		s.retryWait = wait
	}
}

func WithHTTPClient(client *http.Client) RemoteOption {
	return func(s *remoteSettings) {
		s.httpClient = client
	}
}

func NewRemote(baseURL string, options ...RemoteOption) (*Remote, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("remote backend: empty base URL")
	}

	s := &remoteSettings{
		timeout:    10 * time.Second,
		retryCount: 2,
		retryWait:  200 * time.Millisecond,
	}
	for _, option := range options {
		option(s)
	}
	if s.user == "" {
		return nil, errors.New("remote backend: no user identity")
	}

	reads := newRestyClient(baseURL, s)
	reads.
		SetRetryCount(s.retryCount).
		SetRetryWaitTime(s.retryWait).
		SetRetryMaxWaitTime(10 * s.retryWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode() >= http.StatusInternalServerError)
		})

	return &Remote{
		reads:  reads,
		writes: newRestyClient(baseURL, s),
		user:   s.user,
	}, nil
}

func newRestyClient(baseURL string, s *remoteSettings) *resty.Client {
	var client *resty.Client
	if s.httpClient != nil {
		client = resty.NewWithClient(s.httpClient)
	} else {
		client = resty.New()
	}
	return client.
		SetBaseURL(baseURL).
		SetTimeout(s.timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "palaver/1.0").
		SetHeader(api.UserHeader, s.user)
}

// User returns the identity the backend is scoped to.
func (r *Remote) User() string {
	return r.user
}

func (r *Remote) List(ctx context.Context) ([]*conversation.Conversation, error) {
	var out []*conversation.Conversation
	var apiErr api.ErrorResponse
	resp, err := r.reads.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get(api.ConversationsPath)
	if err != nil {
		return nil, &conversation.BackendError{Op: "list", Err: err}
	}
	if resp.IsError() {
		return nil, statusError("list", "", resp, &apiErr)
	}

	for _, c := range out {
		if c.Messages == nil {
			c.Messages = []conversation.Message{}
		}
	}
	log.Debug().Str("user", r.user).Int("count", len(out)).Msg("listed remote conversations")
	return out, nil
}

func (r *Remote) Create(ctx context.Context, title string) (*conversation.Conversation, error) {
	var out conversation.Conversation
	var apiErr api.ErrorResponse
	resp, err := r.writes.R().
		SetContext(ctx).
		SetBody(&api.CreateConversationRequest{Title: title}).
		SetResult(&out).
		SetError(&apiErr).
		Post(api.ConversationsPath)
	if err != nil {
		return nil, &conversation.BackendError{Op: "create", Err: err}
	}
	if resp.IsError() {
		return nil, statusError("create", "", resp, &apiErr)
	}
	if out.ID.IsZero() {
		return nil, &conversation.BackendError{Op: "create", Err: errors.New("server returned a conversation without id")}
	}
	if out.Messages == nil {
		out.Messages = []conversation.Message{}
	}
	return &out, nil
}

func (r *Remote) Append(ctx context.Context, id conversation.ID, role conversation.Role, content string) (*conversation.Message, error) {
	var out conversation.Message
	var apiErr api.ErrorResponse
	resp, err := r.writes.R().
		SetContext(ctx).
		SetBody(&api.AppendMessageRequest{Role: role, Content: content}).
		SetResult(&out).
		SetError(&apiErr).
		Post(api.MessagesPath(id))
	if err != nil {
		return nil, &conversation.BackendError{Op: "append", Err: err}
	}
	if resp.IsError() {
		return nil, statusError("append", id, resp, &apiErr)
	}
	if out.ID == "" {
		return nil, &conversation.BackendError{Op: "append", Err: errors.New("server returned a message without id")}
	}
	return &out, nil
}

func (r *Remote) Remove(ctx context.Context, id conversation.ID) error {
	var apiErr api.ErrorResponse
	resp, err := r.writes.R().
		SetContext(ctx).
		SetError(&apiErr).
		Delete(api.ConversationPath(id))
	if err != nil {
		return &conversation.BackendError{Op: "remove", Err: err}
	}
	if resp.IsError() {
		return statusError("remove", id, resp, &apiErr)
	}
	return nil
}

func statusError(op string, id conversation.ID, resp *resty.Response, apiErr *api.ErrorResponse) error {
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return &conversation.NotFoundError{ID: id}
	case http.StatusBadRequest:
		if apiErr != nil && strings.Contains(apiErr.Error, conversation.ErrInvalidRole.Error()) {
			return &conversation.InvalidRoleError{Role: apiErr.Error}
		}
		if apiErr != nil && strings.Contains(apiErr.Error, conversation.ErrInvalidContent.Error()) {
			return &conversation.InvalidContentError{}
		}
	}
	msg := ""
	if apiErr != nil {
		msg = apiErr.Error
	}
	return &conversation.BackendError{
		Op:  op,
		Err: errors.Errorf("server responded %d: %s", resp.StatusCode(), msg),
	}
}
