package idgen_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/payoutpipeline/payout-pipeline/internal/idgen"
)

var txnIDPattern = regexp.MustCompile(`^TXN_[0-9A-Z]+_[0-9A-F]{32}$`)

func TestNewTransactionIDFormat(t *testing.T) {
	id := idgen.NewTransactionID()
	assert.Regexp(t, txnIDPattern, id)
}

func TestNewTransactionIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := idgen.NewTransactionID()
		assert.False(t, seen[id], "duplicate id generated: %s", id)
		seen[id] = true
	}
}
