package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payoutpipeline/payout-pipeline/internal/model"
)

func TestMoneyMarshalsAsTwoDecimalPlaceString(t *testing.T) {
	body, err := json.Marshal(model.Money(10050))
	require.NoError(t, err)
	assert.Equal(t, `"100.50"`, string(body))

	body, err = json.Marshal(model.Money(5))
	require.NoError(t, err)
	assert.Equal(t, `"0.05"`, string(body))
}

func TestMoneyUnmarshalsQuotedDecimalString(t *testing.T) {
	var m model.Money
	require.NoError(t, json.Unmarshal([]byte(`"100.50"`), &m))
	assert.Equal(t, model.Money(10050), m)
}

func TestMoneyUnmarshalsBareNumericLiteral(t *testing.T) {
	var m model.Money
	require.NoError(t, json.Unmarshal([]byte(`100.50`), &m))
	assert.Equal(t, model.Money(10050), m)

	require.NoError(t, json.Unmarshal([]byte(`100`), &m))
	assert.Equal(t, model.Money(10000), m)
}

func TestMoneyRejectsMoreThanTwoDecimalPlaces(t *testing.T) {
	var m model.Money
	err := json.Unmarshal([]byte(`"100.505"`), &m)
	assert.Error(t, err)
}

func TestMoneyRoundTripsThroughJSON(t *testing.T) {
	original := model.Money(123456)
	body, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded model.Money
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, original, decoded)
}
