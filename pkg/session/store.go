package session

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/palaver/pkg/backend"
	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrNoBackend = stderrors.New("session store has no backend")

// Store owns the collection of conversations and the pointer to the current
// one. It is the only place where titles are derived, empty conversations are
// pruned and replacements are selected; backends only persist.
//
// Locking:
//   - opMu serializes structural operations (create, switch, delete, clear,
//     load, rebind). Every change of the current pointer happens under it.
//   - a per-conversation lock orders appends to one conversation and is held
//     across the backend call and the commit. Deleting or pruning a
//     conversation takes the same lock, so it waits for in-flight appends.
//   - mu guards the collection itself and is never held during backend I/O.
//
// Lock order is opMu, then a conversation lock, then mu.
type Store struct {
	opMu sync.Mutex

	locksMu   sync.Mutex
	convLocks map[conversation.ID]*convLock

	mu            sync.RWMutex
	backend       backend.Backend
	conversations []*conversation.Conversation
	current       conversation.ID
	epoch         uint64

	publisher message.Publisher
	topic     string
}

type Option func(*Store)

// WithPublisher publishes an Event for every committed mutation.
func WithPublisher(publisher message.Publisher, topic string) Option {
	return func(s *Store) {
		s.publisher = publisher
		if topic != "" {
			s.topic = topic
		}
	}
}

// NewStore creates a store bound to b. The collection starts empty; call Load
// to seed it.
func NewStore(b backend.Backend, options ...Option) *Store {
	ret := &Store{
		backend:   b,
		convLocks: map[conversation.ID]*convLock{},
		topic:     DefaultTopic,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// ListConversations returns snapshots of all conversations, most recently
// created first.
func (s *Store) ListConversations() []*conversation.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]*conversation.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		ret = append(ret, c.Clone())
	}
	return ret
}

// CurrentConversation returns a snapshot of the current conversation. It
// reports false only while the collection is being seeded.
func (s *Store) CurrentConversation() (*conversation.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.findLocked(s.current)
	if c == nil {
		return nil, false
	}
	return c.Clone(), true
}

func (s *Store) Conversation(id conversation.ID) (*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.findLocked(id)
	if c == nil {
		return nil, &conversation.NotFoundError{ID: id}
	}
	return c.Clone(), nil
}

// Load replaces the collection with the backend's conversations and creates
// the startup conversation. If listing or creating fails, the previous
// collection is kept.
func (s *Store) Load(ctx context.Context) (*conversation.Conversation, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.loadLocked(ctx)
}

// Rebind discards the whole collection and switches to b, then seeds from it.
// A nil backend stands for "no identity": the collection stays empty with no
// current conversation until the next Rebind.
func (s *Store) Rebind(ctx context.Context, b backend.Backend) (*conversation.Conversation, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	s.backend = b
	s.conversations = nil
	s.current = ""
	s.epoch++
	s.mu.Unlock()

	s.locksMu.Lock()
	s.convLocks = map[conversation.ID]*convLock{}
	s.locksMu.Unlock()

	log.Debug().Bool("has_backend", b != nil).Msg("session store reset")
	s.publish(Event{Type: EventSessionReset})

	if b == nil {
		return nil, nil
	}
	return s.loadLocked(ctx)
}

// CreateConversation creates an empty conversation, makes it current and
// prunes every other empty conversation.
//
// When the backend fails to create, the collection is unchanged. When pruning
// fails, the new conversation is still returned (it is committed and current)
// together with an error naming the conversations that could not be removed.
func (s *Store) CreateConversation(ctx context.Context) (*conversation.Conversation, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	b, err := s.currentBackend()
	if err != nil {
		return nil, err
	}
	return s.createLocked(ctx, b)
}

// SwitchConversation makes id the current conversation.
func (s *Store) SwitchConversation(id conversation.ID) (*conversation.Conversation, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	c := s.findLocked(id)
	if c == nil {
		s.mu.Unlock()
		return nil, &conversation.NotFoundError{ID: id}
	}
	s.current = id
	ret := c.Clone()
	s.mu.Unlock()

	log.Debug().Str("conversation_id", id.String()).Msg("switched conversation")
	s.publish(Event{Type: EventConversationSwitched, ConversationID: id})
	return ret, nil
}

type addSettings struct {
	target conversation.ID
}

type AddOption func(*addSettings)

// WithTarget appends to the given conversation instead of the current one.
func WithTarget(id conversation.ID) AddOption {
	return func(s *addSettings) {
		s.target = id
	}
}

// AddMessage appends a message and returns the updated conversation. The
// message lands in the conversation resolved when the call starts, even if the
// current conversation changes while the backend call is in flight.
//
// A failed backend call leaves the conversation untouched; retrying the whole
// logical action is up to the caller.
func (s *Store) AddMessage(
	ctx context.Context,
	role conversation.Role,
	content string,
	options ...AddOption,
) (*conversation.Conversation, error) {
	settings := &addSettings{}
	for _, option := range options {
		option(settings)
	}
	if !role.Valid() {
		return nil, &conversation.InvalidRoleError{Role: string(role)}
	}
	if err := conversation.ValidateContent(content); err != nil {
		return nil, err
	}

	target := settings.target
	if target.IsZero() {
		s.mu.RLock()
		target = s.current
		s.mu.RUnlock()
		if target.IsZero() {
			return nil, conversation.ErrNoActiveConversation
		}
	}

	unlock := s.lockConversation(target)
	defer unlock()

	s.mu.RLock()
	b := s.backend
	epoch := s.epoch
	exists := s.findLocked(target) != nil
	s.mu.RUnlock()
	if b == nil {
		return nil, ErrNoBackend
	}
	if !exists {
		return nil, &conversation.NotFoundError{ID: target}
	}

	msg, err := b.Append(ctx, target, role, content)
	if err != nil {
		log.Debug().Err(err).Str("conversation_id", target.String()).Msg("append failed")
		return nil, conversation.AsBackendError("append", err)
	}

	s.mu.Lock()
	c := s.findLocked(target)
	if c == nil || s.epoch != epoch {
		s.mu.Unlock()
		return nil, errors.Wrap(&conversation.NotFoundError{ID: target}, "conversation went away during append")
	}
	appended := *msg
	if last, ok := c.LastMessage(); ok && appended.CreatedAt.Before(last.CreatedAt) {
		appended.CreatedAt = last.CreatedAt
	}
	c.Title = conversation.DeriveTitle(c, role, content)
	c.Messages = append(c.Messages, appended)
	ret := c.Clone()
	s.mu.Unlock()

	log.Debug().
		Str("conversation_id", target.String()).
		Str("message_id", appended.ID.String()).
		Str("role", role.String()).
		Int("count", len(ret.Messages)).
		Msg("appended message")
	s.publish(Event{
		Type:           EventMessageAppended,
		ConversationID: target,
		MessageID:      appended.ID,
		Role:           role,
		Title:          ret.Title,
	})
	return ret, nil
}

// DeleteConversation removes id. Deleting the current conversation selects
// the most recently created remaining conversation that has messages, or
// creates a fresh empty one when none qualifies.
func (s *Store) DeleteConversation(ctx context.Context, id conversation.ID) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	_, err := s.deleteLocked(ctx, id, false)
	return err
}

// ClearCurrentConversation deletes the current conversation and installs a
// fresh empty one in its place.
func (s *Store) ClearCurrentConversation(ctx context.Context) (*conversation.Conversation, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current.IsZero() {
		return nil, conversation.ErrNoActiveConversation
	}
	return s.deleteLocked(ctx, current, true)
}

func (s *Store) loadLocked(ctx context.Context) (*conversation.Conversation, error) {
	b, err := s.currentBackend()
	if err != nil {
		return nil, err
	}

	listed, err := b.List(ctx)
	if err != nil {
		return nil, conversation.AsBackendError("list", err)
	}
	seeded := normalize(listed)

	fresh, err := b.Create(ctx, conversation.PlaceholderTitle)
	if err != nil {
		return nil, conversation.AsBackendError("create", err)
	}
	fresh = prepareFresh(fresh)

	s.mu.Lock()
	s.conversations = seeded
	s.current = ""
	if err := s.insertFrontLocked(fresh); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ret := fresh.Clone()
	s.mu.Unlock()

	log.Debug().Int("count", len(seeded)).Str("conversation_id", fresh.ID.String()).Msg("seeded session store")
	s.publish(Event{Type: EventConversationCreated, ConversationID: fresh.ID, Title: fresh.Title})

	if err := s.pruneLocked(ctx, b); err != nil {
		return ret, err
	}
	return ret, nil
}

func (s *Store) createLocked(ctx context.Context, b backend.Backend) (*conversation.Conversation, error) {
	fresh, err := b.Create(ctx, conversation.PlaceholderTitle)
	if err != nil {
		return nil, conversation.AsBackendError("create", err)
	}
	fresh = prepareFresh(fresh)

	s.mu.Lock()
	if err := s.insertFrontLocked(fresh); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	ret := fresh.Clone()
	s.mu.Unlock()

	log.Debug().Str("conversation_id", fresh.ID.String()).Msg("created conversation")
	s.publish(Event{Type: EventConversationCreated, ConversationID: fresh.ID, Title: fresh.Title})

	if err := s.pruneLocked(ctx, b); err != nil {
		return ret, err
	}
	return ret, nil
}

// deleteLocked removes id. With forceFresh, or when id is current and no
// remaining conversation has messages, a fresh conversation is created first
// so that a failed creation leaves everything unchanged.
func (s *Store) deleteLocked(ctx context.Context, id conversation.ID, forceFresh bool) (*conversation.Conversation, error) {
	b, err := s.currentBackend()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	exists := s.findLocked(id) != nil
	s.mu.RUnlock()
	if !exists {
		return nil, &conversation.NotFoundError{ID: id}
	}

	unlock := s.lockConversation(id)
	defer unlock()

	s.mu.RLock()
	wasCurrent := s.current == id
	var replacement *conversation.Conversation
	if wasCurrent && !forceFresh {
		replacement = s.selectReplacementLocked(id)
	}
	s.mu.RUnlock()

	var fresh *conversation.Conversation
	if forceFresh || (wasCurrent && replacement == nil) {
		fresh, err = b.Create(ctx, conversation.PlaceholderTitle)
		if err != nil {
			return nil, conversation.AsBackendError("create", err)
		}
		fresh = prepareFresh(fresh)
	}

	if err := b.Remove(ctx, id); err != nil && !stderrors.Is(err, conversation.ErrNotFound) {
		err = conversation.AsBackendError("remove", err)
		if fresh != nil {
			if rbErr := b.Remove(ctx, fresh.ID); rbErr != nil && !stderrors.Is(rbErr, conversation.ErrNotFound) {
				// The backend now holds an extra empty conversation. Mirror it
				// locally as non-current so the next creation prunes it.
				s.mu.Lock()
				if s.findLocked(fresh.ID) == nil {
					s.conversations = append([]*conversation.Conversation{fresh}, s.conversations...)
				}
				s.mu.Unlock()
				return nil, stderrors.Join(err, conversation.AsBackendError("rollback", rbErr))
			}
		}
		return nil, err
	}

	s.mu.Lock()
	s.removeLocked(id)
	var ret *conversation.Conversation
	if fresh != nil {
		if err := s.insertFrontLocked(fresh); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		ret = fresh.Clone()
	} else if replacement != nil {
		s.current = replacement.ID
		ret = replacement.Clone()
	}
	s.mu.Unlock()

	log.Debug().
		Str("conversation_id", id.String()).
		Bool("was_current", wasCurrent).
		Msg("deleted conversation")
	s.publish(Event{Type: EventConversationDeleted, ConversationID: id})

	switch {
	case fresh != nil:
		s.publish(Event{Type: EventConversationCreated, ConversationID: fresh.ID, Title: fresh.Title})
		if err := s.pruneLocked(ctx, b); err != nil {
			return ret, err
		}
	case replacement != nil:
		s.publish(Event{Type: EventConversationSwitched, ConversationID: replacement.ID})
	}
	return ret, nil
}

// pruneLocked removes every empty conversation that is not current. A
// conversation is only dropped locally once the backend removed it, so the
// collection never diverges from the backend.
func (s *Store) pruneLocked(ctx context.Context, b backend.Backend) error {
	s.mu.RLock()
	var candidates []conversation.ID
	for _, c := range s.conversations {
		if c.ID != s.current && c.IsEmpty() {
			candidates = append(candidates, c.ID)
		}
	}
	s.mu.RUnlock()

	var errs []error
	for _, id := range candidates {
		if err := s.pruneOne(ctx, b, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "pruning empty conversations")
	}
	return nil
}

func (s *Store) pruneOne(ctx context.Context, b backend.Backend, id conversation.ID) error {
	unlock := s.lockConversation(id)
	defer unlock()

	s.mu.RLock()
	c := s.findLocked(id)
	stillEmpty := c != nil && c.IsEmpty() && s.current != id
	s.mu.RUnlock()
	if !stillEmpty {
		return nil
	}

	if err := b.Remove(ctx, id); err != nil && !stderrors.Is(err, conversation.ErrNotFound) {
		log.Warn().Err(err).Str("conversation_id", id.String()).Msg("could not prune empty conversation")
		return conversation.AsBackendError("remove", err)
	}

	s.mu.Lock()
	s.removeLocked(id)
	s.mu.Unlock()

	log.Trace().Str("conversation_id", id.String()).Msg("pruned empty conversation")
	s.publish(Event{Type: EventConversationPruned, ConversationID: id})
	return nil
}

// selectReplacementLocked picks the most recently created conversation other
// than exclude that has messages. Ties keep collection order.
func (s *Store) selectReplacementLocked(exclude conversation.ID) *conversation.Conversation {
	var best *conversation.Conversation
	for _, c := range s.conversations {
		if c.ID == exclude || c.IsEmpty() {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			best = c
		}
	}
	return best
}

func (s *Store) insertFrontLocked(c *conversation.Conversation) error {
	if s.findLocked(c.ID) != nil {
		return &conversation.BackendError{
			Op:  "create",
			Err: errors.Errorf("backend reused conversation id %q", c.ID),
		}
	}
	s.conversations = append([]*conversation.Conversation{c}, s.conversations...)
	s.current = c.ID
	return nil
}

func (s *Store) removeLocked(id conversation.ID) {
	for i, c := range s.conversations {
		if c.ID == id {
			s.conversations = append(s.conversations[:i:i], s.conversations[i+1:]...)
			break
		}
	}
	if s.current == id {
		s.current = ""
	}
}

func (s *Store) findLocked(id conversation.ID) *conversation.Conversation {
	if id.IsZero() {
		return nil
	}
	for _, c := range s.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Store) currentBackend() (backend.Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backend == nil {
		return nil, ErrNoBackend
	}
	return s.backend, nil
}

// convLock is dropped from the map once no caller holds or waits for it.
type convLock struct {
	mu   sync.Mutex
	refs int
}

func (s *Store) lockConversation(id conversation.ID) func() {
	s.locksMu.Lock()
	l, ok := s.convLocks[id]
	if !ok {
		l = &convLock{}
		s.convLocks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 && s.convLocks[id] == l {
			delete(s.convLocks, id)
		}
		s.locksMu.Unlock()
	}
}

func prepareFresh(c *conversation.Conversation) *conversation.Conversation {
	ret := c.Clone()
	ret.Title = conversation.PlaceholderTitle
	ret.Messages = []conversation.Message{}
	return ret
}

// normalize turns a backend listing into a valid collection: newest first,
// no duplicate ids, titles derived from the stored transcripts.
func normalize(listed []*conversation.Conversation) []*conversation.Conversation {
	seen := map[conversation.ID]bool{}
	ret := make([]*conversation.Conversation, 0, len(listed))
	for _, c := range listed {
		if c == nil || c.ID.IsZero() || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		cp := c.Clone()
		for i := 1; i < len(cp.Messages); i++ {
			if cp.Messages[i].CreatedAt.Before(cp.Messages[i-1].CreatedAt) {
				cp.Messages[i].CreatedAt = cp.Messages[i-1].CreatedAt
			}
		}
		cp.Title = conversation.TitleFromMessages(cp.Messages)
		ret = append(ret, cp)
	}
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].CreatedAt.After(ret[j].CreatedAt)
	})
	return ret
}
