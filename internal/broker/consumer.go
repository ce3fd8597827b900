package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/payoutpipeline/payout-pipeline/internal/apperr"
)

// Handler processes one settlement envelope. It returns a non-nil error to
// signal the Consumer should apply the requeue policy (spec.md §4.7); a
// nil return means the message should be acked.
type Handler func(ctx context.Context, env Envelope, retryCount int32) error

// Consumer is a bounded-concurrency dequeue loop over the payout queue,
// adapted from Glebsky-balance-app/internal/consumer.Consumer's
// connect/worker-pool shape, generalized from a batch hand-off channel to
// a direct per-message Handler call, since settlement re-verifies and
// mutates state per-message rather than in upsert batches. It connects
// once in NewConsumer and does not monitor the connection or reconnect.
type Consumer struct {
	url         string
	concurrency int
	maxRetries  int
	retryDelay  time.Duration
	log         *logrus.Logger
	handler     Handler
	publisher   Publisher

	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.RWMutex

	wg sync.WaitGroup
}

// NewConsumer dials url, declares the topology, and sets prefetch =
// concurrency per spec.md §4.5.
func NewConsumer(url string, concurrency, maxRetries int, retryDelay time.Duration, log *logrus.Logger, publisher Publisher, handler Handler) (*Consumer, error) {
	c := &Consumer{
		url:         url,
		concurrency: concurrency,
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
		log:         log,
		handler:     handler,
		publisher:   publisher,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("broker: failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker: failed to open channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("broker: failed to declare topology: %w", err)
	}

	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("broker: failed to set QoS: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = ch
	c.mu.Unlock()

	c.log.WithField("prefetch", c.concurrency).Info("connected to RabbitMQ")
	return nil
}

// Start consumes payout_queue until ctx is cancelled, processing up to
// concurrency messages in parallel. On cancel it stops accepting new work
// and waits for in-flight handlers to finish without nacking them — an
// unacked message is redelivered by the broker.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.RLock()
	channel := c.channel
	c.mu.RUnlock()

	msgs, err := channel.Consume(QueuePayout, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: failed to start consuming: %w", err)
	}

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.worker(ctx, msgs, i)
	}

	<-ctx.Done()
	c.log.Info("stopping consumer workers")
	c.wg.Wait()
	return nil
}

func (c *Consumer) worker(ctx context.Context, msgs <-chan amqp.Delivery, workerID int) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.process(ctx, msg, workerID)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg amqp.Delivery, workerID int) {
	var env Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		c.log.WithFields(logrus.Fields{"worker_id": workerID, "error": err}).Error("failed to unmarshal settlement envelope")
		_ = msg.Nack(false, false)
		return
	}

	retryCount := retryCountFromHeaders(msg.Headers)

	err := c.handler(ctx, env, retryCount)
	if err == nil {
		_ = msg.Ack(false)
		return
	}

	c.handleFailure(ctx, msg, env, retryCount, err)
}

// handleFailure applies the requeue policy from spec.md §4.7:
// ALREADY_PROCESSING is nacked without requeue (dead-lettered to the DLQ);
// other non-retriable business errors ack (preventing redelivery); a
// failure while ctx is cancelled leaves the message unacked so the broker
// redelivers it; retriable infrastructure
// errors nack-without-requeue and republish with an incremented retry
// count, until max_retries is exhausted, at which point the broker's
// dead-letter routing carries the message to the DLQ.
func (c *Consumer) handleFailure(ctx context.Context, msg amqp.Delivery, env Envelope, retryCount int32, err error) {
	kind := apperr.KindOf(err)
	log := c.log.WithFields(logrus.Fields{
		"transaction_id": env.TransactionID,
		"retry_count":    retryCount,
		"error_kind":     kind,
	})

	if kind == apperr.KindAlreadyProcessing {
		log.WithError(err).Warn("conflicting redelivery of an in-flight transaction, routing to DLQ")
		_ = msg.Nack(false, false)
		return
	}

	if !apperr.Retryable(kind) {
		log.WithError(err).Warn("non-retriable settlement error, acking to drop")
		_ = msg.Ack(false)
		return
	}

	if ctx.Err() != nil {
		log.WithError(err).Warn("consumer stopping, leaving message unacked for redelivery")
		return
	}

	if int(retryCount) >= c.maxRetries {
		log.WithError(err).Warn("retry budget exhausted, routing to DLQ")
		_ = msg.Nack(false, false)
		return
	}

	log.WithError(err).Warn("retriable settlement error, scheduling republish")
	_ = msg.Nack(false, false)

	select {
	case <-time.After(c.retryDelay):
	case <-ctx.Done():
		return
	}

	if pubErr := c.publisher.Republish(ctx, msg.Body, retryCount+1); pubErr != nil {
		log.WithError(pubErr).Error("failed to republish after retriable failure")
	}
}

func retryCountFromHeaders(headers amqp.Table) int32 {
	if headers == nil {
		return 0
	}
	switch v := headers[HeaderRetryCount].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	default:
		return 0
	}
}

// Close stops the consumer and releases the connection.
func (c *Consumer) Close() {
	c.wg.Wait()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
