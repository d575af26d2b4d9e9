package helpers

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// PublishJSON marshals payload into a new message carrying metadata and
// publishes it on topic.
func PublishJSON(pub message.Publisher, topic string, payload interface{}, metadata map[string]string) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "could not serialize payload")
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	for k, v := range metadata {
		msg.Metadata.Set(k, v)
	}

	if err := pub.Publish(topic, msg); err != nil {
		return errors.Wrapf(err, "could not publish to %s", topic)
	}
	return nil
}
