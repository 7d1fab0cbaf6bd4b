// Package broker fans notifications out to RabbitMQ so consumers outside
// this service (mailers, websocket gateways) can deliver them.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is what the maintenance service depends on.
type Publisher interface {
	Publish(ctx context.Context, userID string, payload any) error
	Close() error
}

// Dial connects and confirms the broker answers on a channel.
func Dial(ctx context.Context, url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		ch, err := conn.Channel()
		if err == nil {
			err = ch.Close()
		}
		done <- err
	}()

	select {
	case <-checkCtx.Done():
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq health check timeout: %w", checkCtx.Err())
	case err := <-done:
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
		}
		return conn, nil
	}
}

type NotificationPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewNotificationPublisher(conn *amqp.Connection, queueName string) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, queueName: queueName}
}

// Publish sends payload as a persistent JSON message with the user id in
// the headers.
func (p *NotificationPublisher) Publish(ctx context.Context, userID string, payload any) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers:      amqp.Table{"user_id": userID},
		},
	); err != nil {
		return fmt.Errorf("publish notification failed: %w", err)
	}
	return nil
}

// Healthy reports whether the broker connection is still open.
func (p *NotificationPublisher) Healthy() bool {
	return !p.conn.IsClosed()
}

func (p *NotificationPublisher) Close() error {
	return p.conn.Close()
}

// Nop is used when NOTIFY_RABBITMQ_URL is empty.
type Nop struct{}

func (Nop) Publish(ctx context.Context, userID string, payload any) error { return nil }
func (Nop) Close() error                                                  { return nil }
