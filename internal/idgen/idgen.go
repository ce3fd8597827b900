// Package idgen generates the opaque, globally-unique transaction ids used
// throughout the pipeline.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NewTransactionID returns an id of the form TXN_{base36(ms-epoch)}_{hex(16)},
// uppercased, per spec.md §6. The random tail is 128 bits, so the id stays
// globally unique even under clock skew between gateway instances.
func NewTransactionID() string {
	ms := time.Now().UnixMilli()
	epoch := strconv.FormatInt(ms, 36)

	tail := make([]byte, 16)
	if _, err := rand.Read(tail); err != nil {
		// crypto/rand failing is a fatal environment error almost everywhere,
		// but we never want id generation on the hot path to panic; fall
		// back to a time-derived tail rather than returning a degenerate id.
		for i := range tail {
			tail[i] = byte(time.Now().UnixNano() >> uint(i))
		}
	}

	return strings.ToUpper(fmt.Sprintf("TXN_%s_%s", epoch, hex.EncodeToString(tail)))
}
