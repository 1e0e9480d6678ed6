package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"dealflow/internal/domain"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher fans notifications out to a topic exchange keyed by kind.
type AMQPPublisher struct {
	Conn     *amqp.Connection
	Ch       publisher
	Exchange string
}

// DialAMQP connects and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{Conn: conn, Ch: ch, Exchange: exchange}, nil
}

func (p *AMQPPublisher) Observe(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	err = p.Ch.PublishWithContext(ctx, p.Exchange, n.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    n.ID,
		Timestamp:    time.Now().UTC(),
		Type:         n.Kind,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.Exchange, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.Conn == nil {
		return nil
	}
	return p.Conn.Close()
}
