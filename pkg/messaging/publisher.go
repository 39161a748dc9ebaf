package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher sends one event. messageID is the id of the outbox row or event
// the message carries; consumers dedup redeliveries on it, so it must be
// stable across retries of the same event.
type Publisher interface {
	Publish(ctx context.Context, routingKey, messageID string, payload []byte) error
	Close() error
}

// RabbitPublisher publishes persistent JSON messages to one fanout exchange.
type RabbitPublisher struct {
	conn     *amqp091.Connection
	exchange string
}

func NewRabbitPublisher(url, exchange string) (*RabbitPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &RabbitPublisher{conn: conn, exchange: exchange}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, routingKey, messageID string, payload []byte) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	return ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, publishing(routingKey, messageID, payload, time.Now()))
}

// publishing builds a persistent JSON message. The routing key doubles as the
// message type so fanout consumers can tell events apart.
func publishing(routingKey, messageID string, payload []byte, at time.Time) amqp091.Publishing {
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    messageID,
		Type:         routingKey,
		Timestamp:    at.UTC(),
		AppId:        "fulfillment",
		Body:         payload,
	}
}

func (p *RabbitPublisher) Close() error {
	return p.conn.Close()
}
