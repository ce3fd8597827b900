package eventbridge

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/payoutpipeline/payout-pipeline/internal/ws"
)

func silentLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(logDiscard{})
	return log
}

type logDiscard struct{}

func (logDiscard) Write(p []byte) (int, error) { return len(p), nil }

func TestDeliverDropsEventsForUsersWithNoLocalSession(t *testing.T) {
	hub := ws.NewHub(silentLogger())
	b := &Bridge{hub: hub, log: silentLogger()}

	// No session registered for user-1, so deliver must be a silent no-op
	// rather than erroring, per spec.md §4.8.
	assert.NotPanics(t, func() {
		b.deliver(`{"type":"PAYOUT_COMPLETED","user_id":"user-1","timestamp":"2026-01-01T00:00:00Z"}`)
	})
}

func TestDeliverIgnoresMalformedPayload(t *testing.T) {
	hub := ws.NewHub(silentLogger())
	b := &Bridge{hub: hub, log: silentLogger()}

	assert.NotPanics(t, func() {
		b.deliver("not json")
	})
}

func TestDeliverIgnoresEventsMissingUserID(t *testing.T) {
	hub := ws.NewHub(silentLogger())
	b := &Bridge{hub: hub, log: silentLogger()}

	assert.NotPanics(t, func() {
		b.deliver(`{"type":"PAYOUT_INITIATED","timestamp":"2026-01-01T00:00:00Z"}`)
	})
}
