package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	module := "disbursement"
	id := GenerateUUIDWithSuffix(module)
	assert.True(t, strings.HasPrefix(id, module+"_"))
	assert.NotEqual(t, id, GenerateUUIDWithSuffix(module))
}

func TestHashAPIKey(t *testing.T) {
	assert.Equal(t, HashAPIKey("key"), HashAPIKey("key"))
	assert.NotEqual(t, HashAPIKey("key"), HashAPIKey("other"))
	assert.Len(t, HashAPIKey("key"), 64)
}

func TestDisbursementStatus(t *testing.T) {
	assert.True(t, StatusAccepted.IsActive())
	assert.True(t, StatusQueued.IsActive())
	assert.False(t, StatusRejected.IsActive())
	assert.True(t, StatusSuccess.IsFinal())
	assert.False(t, StatusAccepted.IsFinal())
}

func TestBlockActiveAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, Block{}.ActiveAt(now))
	assert.False(t, Block{ExpiresAt: &past}.ActiveAt(now))
	assert.True(t, Block{ExpiresAt: &future}.ActiveAt(now))
}

func TestParseAccountBalance(t *testing.T) {
	raw := "Working Account|KES|700000.00|700000.00|0.00|0.00&Float Account|KES|0.00|0.00|0.00|0.00&Utility Account|KES|228037.00|228037.00|0.00|0.00&Charges Paid Account|KES|-1540.00|-1540.00|0.00|0.00"
	readings, err := ParseAccountBalance(raw)
	require.NoError(t, err)
	require.Len(t, readings, 4)

	sample := &BalanceSample{}
	sample.ApplyReadings(readings)
	require.NotNil(t, sample.UtilityBalance)
	assert.True(t, sample.UtilityBalance.Equal(decimal.NewFromInt(228037)))
	assert.True(t, sample.WorkingBalance.Equal(decimal.NewFromInt(700000)))
	assert.True(t, sample.ChargesBalance.Equal(decimal.NewFromInt(-1540)))
	assert.Equal(t, "KES", sample.Currency)

	funds, ok := sample.AvailableFunds()
	assert.True(t, ok)
	assert.True(t, funds.Equal(decimal.NewFromInt(228037)))
}

func TestParseAccountBalanceErrors(t *testing.T) {
	_, err := ParseAccountBalance("")
	assert.Error(t, err)

	_, err = ParseAccountBalance("Working Account|KES")
	assert.Error(t, err)

	_, err = ParseAccountBalance("Working Account|KES|abc")
	assert.Error(t, err)
}

func TestParseProviderCallback(t *testing.T) {
	raw := `{"Result":{"ResultType":0,"ResultCode":0,"ResultDesc":"The service request is processed successfully.",
		"OriginatorConversationID":"10571-7910404-1","ConversationID":"AG_20191219_00004e48cf7e3533f581",
		"TransactionID":"NLJ41HAY6Q",
		"ResultParameters":{"ResultParameter":[{"Key":"TransactionAmount","Value":10},{"Key":"TransactionReceipt","Value":"NLJ41HAY6Q"}]},
		"ReferenceData":{"ReferenceItem":{"Key":"Occasion","Value":"disbursement_123"}}}}`

	cb, err := ParseProviderCallback([]byte(raw))
	require.NoError(t, err)

	code, err := cb.Result.Code()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "disbursement_123", cb.Result.Occasion())

	receipt, ok := cb.Result.Param("TransactionReceipt")
	assert.True(t, ok)
	assert.Equal(t, "NLJ41HAY6Q", receipt)

	amount, ok := cb.Result.Param("TransactionAmount")
	assert.True(t, ok)
	assert.Equal(t, "10", amount)
}

func TestCallbackResultCodeAsString(t *testing.T) {
	cb, err := ParseProviderCallback([]byte(`{"Result":{"ResultCode":"2001","ConversationID":"AG_1"}}`))
	require.NoError(t, err)
	code, err := cb.Result.Code()
	require.NoError(t, err)
	assert.Equal(t, 2001, code)
}

func TestParseProviderCallbackRejectsAnonymousPayload(t *testing.T) {
	_, err := ParseProviderCallback([]byte(`{"Result":{"ResultCode":0}}`))
	assert.Error(t, err)

	_, err = ParseProviderCallback([]byte(`not json`))
	assert.Error(t, err)
}

func TestMetadataEnvelope(t *testing.T) {
	env := MetadataEnvelope{Value: ChargeMetadata{ChargeAmount: decimal.NewFromInt(33), ChargeType: "b2c"}}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"charge"`)

	var decoded MetadataEnvelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	charge, ok := decoded.Value.(ChargeMetadata)
	require.True(t, ok)
	assert.Equal(t, "b2c", charge.ChargeType)

	err = json.Unmarshal([]byte(`{"type":"loyalty","payload":{}}`), &decoded)
	assert.Error(t, err)
}
