package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/doxvl/legalization-api/internal/services"
)

// ConfirmationEventPublisher forwards confirmation lifecycle events to the order-management topic.
type ConfirmationEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewConfirmationEventPublisher wraps a Pub/Sub topic. Messages are ordered per order id
// when the topic has message ordering enabled.
func NewConfirmationEventPublisher(topic *pubsub.Topic) (*ConfirmationEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("confirmation event publisher: topic is required")
	}
	return &ConfirmationEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishConfirmationEvent implements services.EventPublisher.
func (p *ConfirmationEventPublisher) PublishConfirmationEvent(ctx context.Context, event services.ConfirmationEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("confirmation event publisher: not initialised")
	}
	if strings.TrimSpace(event.Type) == "" {
		return "", errors.New("confirmation event publisher: event type is required")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal confirmation event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "kind", string(event.Kind))
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "status", string(event.Status))

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = strings.TrimSpace(event.OrderID)
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish confirmation event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
