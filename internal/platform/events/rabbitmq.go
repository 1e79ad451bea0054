package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const contentTypeJSON = "application/json"

var errNotConfirming = errors.New("channel is not in confirm mode")

// RabbitPublisher publishes persistent messages to a durable topic exchange
// and waits for the broker to confirm each one. Every publish gets its own
// deferred confirmation, so concurrent publishes never see each other's acks.
type RabbitPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   zerolog.Logger
}

func DialRabbit(url, exchange string, logger zerolog.Logger) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	p, err := NewRabbitPublisher(conn, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func NewRabbitPublisher(conn *amqp.Connection, exchange string, logger zerolog.Logger) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &RabbitPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

func encode(e TransitionEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.OccurredAt,
		Type:         e.RoutingKey(),
		Body:         body,
	}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, e TransitionEvent) error {
	msg, err := encode(e)
	if err != nil {
		return err
	}

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, e.RoutingKey(), false, false, msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.RoutingKey(), err)
	}
	if dc == nil {
		return fmt.Errorf("publish %s: %w", e.RoutingKey(), errNotConfirming)
	}
	if err := awaitConfirm(ctx, e.RoutingKey(), dc.DeliveryTag, dc); err != nil {
		return err
	}

	p.logger.Debug().
		Str("event_id", e.ID).
		Int64("order_id", e.OrderID).
		Str("routing_key", e.RoutingKey()).
		Msg("settlement event published")
	return nil
}

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// awaitConfirm blocks until the broker acks or nacks the given delivery.
func awaitConfirm(ctx context.Context, key string, tag uint64, c confirmation) error {
	ack, err := c.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish %s: await confirm for delivery %d: %w", key, tag, err)
	}
	if !ack {
		return fmt.Errorf("publish %s: broker nacked delivery %d", key, tag)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("close amqp channel")
	}
	return p.conn.Close()
}
