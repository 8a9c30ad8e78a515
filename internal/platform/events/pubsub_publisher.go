package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/ajsuth/headstart/internal/domain"
)

// PubSubPublisher publishes shipping method change events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a publisher for topic.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("events: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishShippingMethodEvent sends the event and waits for the server-assigned message ID.
func (p *PubSubPublisher) PublishShippingMethodEvent(ctx context.Context, event domain.ShippingMethodEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("events: publisher not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "methodId", event.MethodID)
	setAttr(attrs, "currency", event.Currency)
	setAttr(attrs, "storefront", event.Storefront)
	setAttr(attrs, "partitionKey", event.PartitionKey)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("events: publish %s: %w", event.Type, err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
