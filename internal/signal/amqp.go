package signal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// AMQPMirror publishes signals to a topic exchange, routed by signal name
type AMQPMirror struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPMirror connects to the broker and declares a durable topic exchange
func NewAMQPMirror(url, exchange string, logger *slog.Logger) (*AMQPMirror, error) {
	m := &AMQPMirror{
		url:      url,
		exchange: exchange,
		logger:   logger.With("component", "amqp_mirror"),
	}
	if err := m.connect(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AMQPMirror) connect() error {
	conn, err := amqp.Dial(m.url)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		m.exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", m.exchange, err)
	}

	m.conn = conn
	m.ch = ch
	return nil
}

// Publish sends body with routing key name. A closed connection is
// re-dialed once.
func (m *AMQPMirror) Publish(ctx context.Context, name string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || m.conn.IsClosed() {
		m.logger.Info("reconnecting to broker")
		if err := m.connect(); err != nil {
			return err
		}
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Type:         name,
		Body:         body,
	}
	if err := m.ch.Publish(m.exchange, name, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}

// Close closes the channel and connection
func (m *AMQPMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ch != nil {
		m.ch.Close()
	}
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
