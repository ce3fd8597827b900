// Package broker implements the settlement queue's Publisher and Consumer,
// grounded on Glebsky-balance-app/internal/consumer.Consumer's
// dial/channel/QueueDeclare/reconnect idiom against
// github.com/rabbitmq/amqp091-go.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/payoutpipeline/payout-pipeline/internal/apperr"
)

// Publisher is the narrow capability Gateway needs from the settlement
// queue, per spec.md §9's "define them behind narrow capability
// interfaces" redesign. AMQPPublisher below is the only production
// implementation.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Republish(ctx context.Context, body []byte, retryCount int32) error
}

// AMQPPublisher sends persistent settlement envelopes to the payout queue.
// It implements Publisher.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	log      *logrus.Logger
	confirms bool
}

// NewAMQPPublisher dials url, declares the spec.md §6 topology, and
// optionally enables publisher confirms for the strictest durability.
func NewAMQPPublisher(url string, log *logrus.Logger, withConfirms bool) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: failed to open channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("broker: failed to declare topology: %w", err)
	}

	if withConfirms {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("broker: failed to enable confirms: %w", err)
		}
	}

	return &AMQPPublisher{conn: conn, channel: ch, log: log, confirms: withConfirms}, nil
}

// Publish sends env as a persistent message with the transaction id as the
// broker-level message id, so redelivery is idempotent at the consumer.
// On backpressure or any send failure it returns a QUEUE_ERROR AppError,
// per spec.md §4.4 — the caller must treat this as aborting initiation.
func (p *AMQPPublisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to marshal settlement envelope", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.TransactionID,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{HeaderRetryCount: int32(0)},
		Body:         body,
	}

	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, "", QueuePayout, false, false, msg)
	if err != nil {
		return apperr.Wrap(apperr.KindQueueError, "failed to publish settlement envelope", err)
	}

	if p.confirms && confirmation != nil {
		ok, err := confirmation.WaitContext(ctx)
		if err != nil {
			return apperr.Wrap(apperr.KindQueueError, "publisher confirm wait failed", err)
		}
		if !ok {
			return apperr.New(apperr.KindQueueError, "broker nacked the published message")
		}
	}

	return nil
}

// Republish resends body with an incremented x-retry-count header, used by
// the Consumer's requeue policy.
func (p *AMQPPublisher) Republish(ctx context.Context, body []byte, retryCount int32) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{HeaderRetryCount: retryCount},
		Body:         body,
	}
	if err := p.channel.PublishWithContext(ctx, "", QueuePayout, false, false, msg); err != nil {
		return apperr.Wrap(apperr.KindQueueError, "failed to republish settlement envelope", err)
	}
	return nil
}

// Close tears down the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
