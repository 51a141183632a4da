package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"dmsrelay/pkg/logger"
)

// DefaultExchange is the topic exchange receipts are published to.
const DefaultExchange = "dmsrelay.receipts"

var (
	// ErrNack indicates the broker refused a publish.
	ErrNack = errors.New("receipts: broker nacked publish")
	// ErrClosed is returned by Publish once the connection is gone.
	ErrClosed = errors.New("receipts: publisher closed")
)

// AMQPPublisher publishes receipts to a durable topic exchange with publisher
// confirms.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	exchange string
	log      zerolog.Logger
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{
		conn:     conn,
		exchange: exchange,
		log:      logger.Component("receipts"),
	}, nil
}

// Publish sends one receipt and waits for the broker confirm.
func (p *AMQPPublisher) Publish(ctx context.Context, r Receipt) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}

	p.mu.Lock()
	if p.conn == nil || p.conn.IsClosed() {
		p.mu.Unlock()
		return ErrClosed
	}
	ch, err := p.conn.Channel()
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable confirms: %w", err)
	}

	key := r.RoutingKey()
	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     r.ID,
		CorrelationId: r.MessageID,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !ok {
		return ErrNack
	}

	p.log.Debug().Str("key", key).Str("exchange", p.exchange).Str("message_id", r.MessageID).Msg("receipt published")
	return nil
}

// Close closes the broker connection. Closing twice is a no-op.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}
