package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"narrative-server/internal/interfaces"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Compile-time check to ensure RabbitMQRunUpdatePublisher implements RunUpdatePublisher
var _ interfaces.RunUpdatePublisher = (*RabbitMQRunUpdatePublisher)(nil)

// RabbitMQRunUpdatePublisher fans engine lifecycle updates out to a durable
// exchange. The connection is assumed stable; reconnection is the caller's
// concern.
type RabbitMQRunUpdatePublisher struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	exchange string
	logger   *zap.Logger
}

// NewRabbitMQRunUpdatePublisher opens a channel on the given connection and
// declares the fanout exchange.
func NewRabbitMQRunUpdatePublisher(conn *amqp091.Connection, exchange string, logger *zap.Logger) (*RabbitMQRunUpdatePublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	log := logger.Named("RunUpdatePublisher")

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}
	log.Info("Run update exchange declared", zap.String("exchange", exchange))

	return &RabbitMQRunUpdatePublisher{conn: conn, ch: ch, exchange: exchange, logger: log}, nil
}

// PublishRunUpdate publishes one lifecycle update as JSON.
func (p *RabbitMQRunUpdatePublisher) PublishRunUpdate(ctx context.Context, update interfaces.RunUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal run update: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		"",    // routing key (unused for fanout)
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish run update",
			zap.String("runID", update.RunID),
			zap.String("kind", update.Kind),
			zap.Error(err))
		return fmt.Errorf("failed to publish run update: %w", err)
	}

	p.logger.Debug("Run update published",
		zap.String("runID", update.RunID),
		zap.String("kind", update.Kind),
		zap.Int("turn", update.Turn))
	return nil
}

// Close releases the channel. The connection is owned by the caller.
func (p *RabbitMQRunUpdatePublisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}
