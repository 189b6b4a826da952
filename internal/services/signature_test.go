package services_test

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rayhan/internal/services"
)

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestComputeClickSignPrepareFieldOrder(t *testing.T) {
	sign, err := services.ComputeClickSign(services.ClickSignParams{
		ClickTransID:    "1234",
		ServiceID:       "22",
		SecretKey:       "secret",
		MerchantTransID: "order-77",
		Amount:          "1000.00",
		Action:          "0",
		SignTime:        "2024-05-01 12:00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, md5hex("123422secretorder-771000.0002024-05-01 12:00:00"), sign)
}

func TestComputeClickSignCompleteIncludesPrepareID(t *testing.T) {
	sign, err := services.ComputeClickSign(services.ClickSignParams{
		ClickTransID:      "1234",
		ServiceID:         "22",
		SecretKey:         "secret",
		MerchantTransID:   "order-77",
		MerchantPrepareID: "555",
		Amount:            "1000.00",
		Action:            "1",
		SignTime:          "2024-05-01 12:00:00",
	})
	require.NoError(t, err)
	assert.Equal(t, md5hex("123422secretorder-775551000.0012024-05-01 12:00:00"), sign)
}

func TestComputeClickSignMissingFieldFails(t *testing.T) {
	_, err := services.ComputeClickSign(services.ClickSignParams{
		ClickTransID:    "1234",
		ServiceID:       "22",
		SecretKey:       "secret",
		MerchantTransID: "order-77",
		Amount:          "1000.00",
		Action:          "0",
		// SignTime absent
	})
	assert.ErrorIs(t, err, services.ErrSignFieldMissing)

	// Complete without the echoed prepare id is also incomplete.
	_, err = services.ComputeClickSign(services.ClickSignParams{
		ClickTransID:    "1234",
		ServiceID:       "22",
		SecretKey:       "secret",
		MerchantTransID: "order-77",
		Amount:          "1000.00",
		Action:          "1",
		SignTime:        "2024-05-01 12:00:00",
	})
	assert.ErrorIs(t, err, services.ErrSignFieldMissing)
}

func TestVerifySign(t *testing.T) {
	computed := md5hex("payload")

	assert.True(t, services.VerifySign(computed, computed))
	assert.True(t, services.VerifySign("  "+computed+"\n", computed), "whitespace is trimmed")
	assert.False(t, services.VerifySign(md5hex("other"), computed))
	assert.False(t, services.VerifySign("", computed))
}

func TestComputeFiscalAuthHeader(t *testing.T) {
	header := services.ComputeFiscalAuthHeader("merchant-1", "key", 1700000000)

	assert.Regexp(t, `^merchant-1:[0-9a-f]{40}:1700000000$`, header)

	// Deterministic for the same inputs, distinct across timestamps.
	assert.Equal(t, header, services.ComputeFiscalAuthHeader("merchant-1", "key", 1700000000))
	assert.NotEqual(t, header, services.ComputeFiscalAuthHeader("merchant-1", "key", 1700000001))
}
