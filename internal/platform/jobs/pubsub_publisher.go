package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/domain"
)

// NotificationMessage is the JSON body consumed by the mailer subscription.
type NotificationMessage struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Email       string    `json:"email"`
	Name        string    `json:"name,omitempty"`
	Total       int64     `json:"total"`
	Currency    string    `json:"currency"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PubSubNotificationPublisher publishes outbox notifications to a Pub/Sub topic.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a publisher for topic.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{topic: topic, marshal: json.Marshal}, nil
}

// Publish sends one notification and waits for the server-assigned message ID.
func (p *PubSubNotificationPublisher) Publish(ctx context.Context, n domain.Notification) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(NotificationMessage{
		ID:          n.ID,
		Kind:        string(n.Kind),
		OrderID:     n.OrderID,
		OrderNumber: n.OrderNumber,
		Email:       n.Email,
		Name:        n.Name,
		Total:       n.Total,
		Currency:    n.Currency,
		CreatedAt:   n.CreatedAt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string, 3)
	setAttr(attrs, "notificationId", n.ID)
	setAttr(attrs, "kind", string(n.Kind))
	setAttr(attrs, "orderNumber", n.OrderNumber)

	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
