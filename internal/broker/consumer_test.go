package broker

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestRetryCountFromHeadersDefaultsToZero(t *testing.T) {
	assert.EqualValues(t, 0, retryCountFromHeaders(nil))
	assert.EqualValues(t, 0, retryCountFromHeaders(amqp.Table{}))
}

func TestRetryCountFromHeadersReadsNumericTypes(t *testing.T) {
	assert.EqualValues(t, 2, retryCountFromHeaders(amqp.Table{HeaderRetryCount: int32(2)}))
	assert.EqualValues(t, 3, retryCountFromHeaders(amqp.Table{HeaderRetryCount: int64(3)}))
	assert.EqualValues(t, 4, retryCountFromHeaders(amqp.Table{HeaderRetryCount: 4}))
}
