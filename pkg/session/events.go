package session

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/helpers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultTopic = "palaver.session"

type EventType string

const (
	EventConversationCreated  EventType = "conversation-created"
	EventConversationSwitched EventType = "conversation-switched"
	EventConversationDeleted  EventType = "conversation-deleted"
	EventConversationPruned   EventType = "conversation-pruned"
	EventMessageAppended      EventType = "message-appended"
	EventSessionReset         EventType = "session-reset"
)

// Event describes one committed mutation of the store.
type Event struct {
	Type           EventType              `json:"type"`
	ConversationID conversation.ID        `json:"conversationId,omitempty"`
	MessageID      conversation.MessageID `json:"messageId,omitempty"`
	Role           conversation.Role      `json:"role,omitempty"`
	Title          string                 `json:"title,omitempty"`
	Time           time.Time              `json:"time"`
}

const eventTypeMetadataKey = "event_type"

// NewEventPubSub returns an in-process pubsub suitable for WithPublisher,
// logging through zerolog.
func NewEventPubSub() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{}, helpers.NewWatermill(log.Logger))
}

// ParseEvent decodes an event published by a Store.
func ParseEvent(msg *message.Message) (*Event, error) {
	e := &Event{}
	if err := json.Unmarshal(msg.Payload, e); err != nil {
		return nil, errors.Wrapf(err, "could not parse session event %s", msg.UUID)
	}
	return e, nil
}

// publish never rolls back the mutation it describes; failures are logged.
func (s *Store) publish(e Event) {
	if s.publisher == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	err := helpers.PublishJSON(s.publisher, s.topic, e, map[string]string{
		eventTypeMetadataKey: string(e.Type),
	})
	if err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("could not publish session event")
	}
}
