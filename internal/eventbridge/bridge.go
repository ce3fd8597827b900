// Package eventbridge relays worker-produced status events across
// gateway instances, per spec.md §4.8: Worker publishes onto a single
// cache pub/sub channel, every gateway instance subscribes, and each
// instance delivers only to the sessions it actually owns. This has no
// direct analog in the teacher repo, whose WebSocketHub broadcasts
// in-process only; it is generalized from that hub's
// register/unregister/broadcast idiom plus the teacher's
// RedisService's go-redis/v9 client to add the missing cross-instance
// fan-out leg.
package eventbridge

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/payoutpipeline/payout-pipeline/internal/ws"
)

// Channel is the cache pub/sub channel name from spec.md §6.
const Channel = "websocket:events"

// Bridge subscribes to Channel and delivers every event whose user has
// a live session on this instance's Hub.
type Bridge struct {
	rdb *redis.Client
	hub *ws.Hub
	log *logrus.Logger
}

func New(rdb *redis.Client, hub *ws.Hub, log *logrus.Logger) *Bridge {
	return &Bridge{rdb: rdb, hub: hub, log: log}
}

// Publish broadcasts event on Channel. Called by the Worker after each
// transaction state transition, per spec.md §4.7's
// deduct→persist→update→release→emit ordering.
func (b *Bridge) Publish(ctx context.Context, event *ws.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, Channel, body).Err()
}

// Run subscribes to Channel and delivers events until ctx is cancelled.
// A message for a user not connected to this instance is silently
// dropped — per spec.md §4.8, some other instance owns that session.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, Channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(msg.Payload)
		}
	}
}

func (b *Bridge) deliver(payload string) {
	var event ws.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		b.log.WithError(err).Warn("failed to unmarshal event bridge payload")
		return
	}
	if event.UserID == "" {
		return
	}
	if !b.hub.HasSession(event.UserID) {
		return
	}
	b.hub.Emit(event.UserID, &event)
}
