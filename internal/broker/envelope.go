package broker

import "time"

// Envelope is the settlement work item body, per spec.md §3. LockToken
// is not in spec.md's envelope shape but is required by the handoff
// spec.md §4.6 step 10 describes ("lock is handed off to the worker via
// the queue"): without it the worker has no fencing token to release or
// extend the lock it did not itself acquire.
type Envelope struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	LockToken     string    `json:"lock_token"`
	Metadata      Metadata  `json:"metadata,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Metadata carries the originating request's context through to settlement.
type Metadata struct {
	IP          string `json:"ip,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	Source      string `json:"source,omitempty"`
	Description string `json:"description,omitempty"`
}

const (
	// HeaderRetryCount is the AMQP header counting redelivery attempts.
	HeaderRetryCount = "x-retry-count"

	ExchangeDLX       = "dlx_payout"
	QueueDLQ          = "payout_dlq"
	QueuePayout       = "payout_queue"
	RoutingKeyPayout  = "payout"
	MessageTTLMillis  = 86400000 // 24h, per spec.md §6
)
