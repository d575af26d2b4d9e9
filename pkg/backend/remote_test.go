package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/palaver/pkg/api"
	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu           sync.Mutex
	t            *testing.T
	listCalls    atomic.Int32
	appendCalls  atomic.Int32
	failList     bool
	failAppend   bool
	lastUser     string
	conversation *conversation.Conversation
}

func (f *fakeService) setFailAppend(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAppend = v
}

func (f *fakeService) user() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUser
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUser = r.Header.Get(api.UserHeader)
	writeJSON := func(status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == api.ConversationsPath:
		f.listCalls.Add(1)
		if f.failList {
			writeJSON(http.StatusInternalServerError, api.ErrorResponse{Error: "database is locked"})
			return
		}
		out := []*conversation.Conversation{}
		if f.conversation != nil {
			out = append(out, f.conversation)
		}
		writeJSON(http.StatusOK, out)
	case r.Method == http.MethodPost && r.URL.Path == api.ConversationsPath:
		var req api.CreateConversationRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.conversation = &conversation.Conversation{
			ID:        "srv-1",
			Title:     req.Title,
			CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		writeJSON(http.StatusCreated, f.conversation)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
		f.appendCalls.Add(1)
		if f.failAppend {
			writeJSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: "unavailable"})
			return
		}
		if f.conversation == nil || r.URL.Path != api.MessagesPath(f.conversation.ID) {
			writeJSON(http.StatusNotFound, api.ErrorResponse{Error: "conversation not found"})
			return
		}
		var req api.AppendMessageRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(http.StatusCreated, conversation.Message{
			ID:        "msg-1",
			Role:      req.Role,
			Content:   req.Content,
			CreatedAt: time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC),
		})
	case r.Method == http.MethodDelete:
		if f.conversation == nil || r.URL.Path != api.ConversationPath(f.conversation.ID) {
			writeJSON(http.StatusNotFound, api.ErrorResponse{Error: "conversation not found"})
			return
		}
		f.conversation = nil
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestRemote(t *testing.T, f *fakeService) *Remote {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	r, err := NewRemote(srv.URL, WithUser("alice"), WithReadRetries(1, time.Millisecond))
	require.NoError(t, err)
	return r
}

func TestRemote_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := &fakeService{t: t}
	r := newTestRemote(t, f)

	c, err := r.Create(ctx, conversation.PlaceholderTitle)
	require.NoError(t, err)
	require.Equal(t, conversation.ID("srv-1"), c.ID)
	require.NotNil(t, c.Messages)
	require.Equal(t, "alice", f.user())

	msg, err := r.Append(ctx, c.ID, conversation.RoleUser, "hello")
	require.NoError(t, err)
	require.Equal(t, conversation.MessageID("msg-1"), msg.ID)
	require.Equal(t, "hello", msg.Content)

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, r.Remove(ctx, c.ID))
	err = r.Remove(ctx, c.ID)
	require.True(t, errors.Is(err, conversation.ErrNotFound))
}

func TestRemote_ListFailureIsBackendUnavailable(t *testing.T) {
	f := &fakeService{t: t, failList: true}
	r := newTestRemote(t, f)

	_, err := r.List(context.Background())
	require.True(t, errors.Is(err, conversation.ErrBackendUnavailable))
	require.Contains(t, err.Error(), "database is locked")
	// one initial attempt plus one retry
	require.Equal(t, int32(2), f.listCalls.Load())
}

func TestRemote_AppendFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	f := &fakeService{t: t}
	r := newTestRemote(t, f)
	c, err := r.Create(ctx, conversation.PlaceholderTitle)
	require.NoError(t, err)

	f.setFailAppend(true)
	_, err = r.Append(ctx, c.ID, conversation.RoleUser, "hello")
	require.True(t, errors.Is(err, conversation.ErrBackendUnavailable))
	require.Equal(t, int32(1), f.appendCalls.Load())
}

func TestRemote_AppendToMissingConversation(t *testing.T) {
	r := newTestRemote(t, &fakeService{t: t})
	_, err := r.Append(context.Background(), "nope", conversation.RoleUser, "hello")
	require.True(t, errors.Is(err, conversation.ErrNotFound))
}

func TestRemote_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r, err := NewRemote(url, WithUser("alice"), WithReadRetries(0, time.Millisecond), WithTimeout(time.Second))
	require.NoError(t, err)
	_, err = r.Create(context.Background(), "t")
	require.True(t, errors.Is(err, conversation.ErrBackendUnavailable))
}

func TestNewRemote_Validation(t *testing.T) {
	_, err := NewRemote("", WithUser("alice"))
	require.Error(t, err)
	_, err = NewRemote("http://localhost:1")
	require.Error(t, err)
}

type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(req)
}

func TestRemote_UsesProvidedHTTPClient(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(&fakeService{t: t})
	t.Cleanup(srv.Close)

	transport := &countingTransport{next: http.DefaultTransport}
	r, err := NewRemote(srv.URL,
		WithUser("alice"),
		WithHTTPClient(&http.Client{Transport: transport}),
	)
	require.NoError(t, err)

	c, err := r.Create(ctx, conversation.PlaceholderTitle)
	require.NoError(t, err)
	_, err = r.Append(ctx, c.ID, conversation.RoleUser, "hello")
	require.NoError(t, err)
	_, err = r.List(ctx)
	require.NoError(t, err)

	require.Equal(t, int32(3), transport.calls.Load())
}
