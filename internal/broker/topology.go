package broker

import amqp "github.com/rabbitmq/amqp091-go"

// declareTopology declares the durable exchange/queue topology from
// spec.md §6: a direct dead-letter exchange dlx_payout, a durable DLQ
// bound to it, and the main durable queue routed to that DLX on
// rejection or TTL expiry.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeDLX, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(QueueDLQ, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(QueueDLQ, RoutingKeyPayout, ExchangeDLX, false, nil); err != nil {
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    ExchangeDLX,
		"x-dead-letter-routing-key": RoutingKeyPayout,
		"x-message-ttl":             int32(MessageTTLMillis),
	}
	if _, err := ch.QueueDeclare(QueuePayout, true, false, false, false, args); err != nil {
		return err
	}

	return nil
}
