package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/services"
)

// PubSubEventPublisher publishes team cart domain events to a Pub/Sub topic, one message per event.
// Messages carry the cart id as ordering key so consumers observe a cart's events in commit order.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.TeamCartEventPublisher = (*PubSubEventPublisher)(nil)

// NewPubSubEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// EventMessage is the JSON payload published for each domain event.
type EventMessage struct {
	Type          string    `json:"type"`
	CartID        string    `json:"cartId"`
	UserID        string    `json:"userId,omitempty"`
	ItemID        string    `json:"itemId,omitempty"`
	CouponID      string    `json:"couponId,omitempty"`
	OrderID       string    `json:"orderId,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	QuoteVersion  int64     `json:"quoteVersion"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

func newEventMessage(evt domain.Event) EventMessage {
	msg := EventMessage{
		Type:          string(evt.Type),
		CartID:        evt.CartID,
		UserID:        evt.UserID,
		ItemID:        evt.ItemID,
		CouponID:      evt.CouponID,
		OrderID:       evt.OrderID,
		TransactionID: evt.TransactionID,
		QuoteVersion:  evt.QuoteVersion,
		Status:        string(evt.Status),
		OccurredAt:    evt.OccurredAt.UTC(),
	}
	if evt.Amount != nil {
		msg.Amount = evt.Amount.Amount.String()
		msg.Currency = evt.Amount.Currency
	}
	return msg
}

// PublishTeamCartEvents publishes the events in order and waits for every result.
func (p *PubSubEventPublisher) PublishTeamCartEvents(ctx context.Context, events []domain.Event) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}
	if len(events) == 0 {
		return nil
	}

	results := make([]*pubsub.PublishResult, 0, len(events))
	for _, evt := range events {
		data, err := p.marshal(newEventMessage(evt))
		if err != nil {
			return fmt.Errorf("marshal team cart event %s: %w", evt.Type, err)
		}
		attrs := make(map[string]string)
		setAttr(attrs, "eventType", string(evt.Type))
		setAttr(attrs, "cartId", evt.CartID)
		setAttr(attrs, "status", string(evt.Status))
		attrs["quoteVersion"] = strconv.FormatInt(evt.QuoteVersion, 10)

		results = append(results, p.topic.Publish(ctx, &pubsub.Message{
			Data:        data,
			Attributes:  attrs,
			OrderingKey: evt.CartID,
		}))
	}

	var errs []error
	for i, result := range results {
		if _, err := result.Get(ctx); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", events[i].Type, err))
			if key := strings.TrimSpace(events[i].CartID); key != "" {
				p.topic.ResumePublish(key)
			}
		}
	}
	return errors.Join(errs...)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
