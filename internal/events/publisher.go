package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

var _ Publisher = (*RabbitMQPublisher)(nil)

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event DeliveryEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	publishing, err := toPublishing(event)
	if err != nil {
		return err
	}

	ch, err := p.client.channel()
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.PublishWithContext(ctx, ExchangeName, event.RoutingKey(), false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.RoutingKey(), err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func toPublishing(event DeliveryEvent) (amqp.Publishing, error) {
	if err := event.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid delivery event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal delivery event: %w", err)
	}

	timestamp := event.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    timestamp,
		MessageId:    fmt.Sprintf("%d-%d-%s", event.EmailID, event.Attempt, event.Outcome),
		Type:         event.RoutingKey(),
		Headers: amqp.Table{
			"emailId": strconv.FormatInt(event.EmailID, 10),
		},
		Body: payload,
	}, nil
}
