package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rayhan/internal/models"
	"github.com/example/rayhan/internal/services"
)

func newPaymeFixture(t *testing.T) (*services.PaymeService, *fakeSessionRepo, *recordingFiscal, uuid.UUID) {
	t.Helper()

	repo := newFakeSessionRepo()
	fiscal := &recordingFiscal{}
	svc := services.NewPaymeService(repo, fiscal)

	sessionID := repo.seedSession(models.PaymentSession{
		ProviderID:   models.ProviderPayme,
		Amount:       5000000,
		CurrencyCode: "UZS",
		Status:       models.SessionStatusPending,
		OrderDetails: []byte(`{"items":[{"title":"Atir","price":4500000,"count":1,"code":"00000000","vat_percent":12}],"shipping_title":"Yetkazib berish","shipping_price":500000}`),
	})

	return svc, repo, fiscal, sessionID
}

func paymeErrorCode(t *testing.T, err error) int {
	t.Helper()
	txErr, ok := err.(*services.TransactionError)
	require.True(t, ok, "expected *TransactionError, got %v", err)
	return txErr.Info.Code
}

func TestCheckPerformTransactionUnknownAccount(t *testing.T) {
	svc, _, _, _ := newPaymeFixture(t)

	_, err := svc.CheckPerformTransaction(context.Background(), services.CheckPerformParams{
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: uuid.NewString()},
	}, 1)

	assert.Equal(t, -31050, paymeErrorCode(t, err))
}

func TestCheckPerformTransactionWrongAmount(t *testing.T) {
	svc, _, _, sessionID := newPaymeFixture(t)

	_, err := svc.CheckPerformTransaction(context.Background(), services.CheckPerformParams{
		Amount:  4999999,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 1)

	assert.Equal(t, -31001, paymeErrorCode(t, err))
}

func TestCheckPerformTransactionReturnsReceiptDetail(t *testing.T) {
	svc, _, _, sessionID := newPaymeFixture(t)

	result, err := svc.CheckPerformTransaction(context.Background(), services.CheckPerformParams{
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 1)
	require.NoError(t, err)

	assert.True(t, result.Allow)
	require.NotNil(t, result.Detail)
	require.Len(t, result.Detail.Items, 1)
	require.NotNil(t, result.Detail.Shipping)
	assert.Equal(t, int64(5000000), result.Detail.Items[0].Price+result.Detail.Shipping.Price)
}

func TestCreateTransactionIdempotent(t *testing.T) {
	svc, _, _, sessionID := newPaymeFixture(t)
	ctx := context.Background()

	params := services.CreateTransactionParams{
		ID:      "payme-tx-1",
		Time:    time.Now().UnixMilli(),
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}

	first, err := svc.CreateTransaction(ctx, params, 1)
	require.NoError(t, err)
	assert.Equal(t, services.TransactionStatePending, first.State)
	assert.Equal(t, params.Time, first.CreateTime)

	second, err := svc.CreateTransaction(ctx, params, 2)
	require.NoError(t, err)
	assert.Equal(t, first.CreateTime, second.CreateTime)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Transaction, second.Transaction)
}

func TestCreateTransactionSecondForBusyAccountRefused(t *testing.T) {
	svc, _, _, sessionID := newPaymeFixture(t)
	ctx := context.Background()

	_, err := svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-1",
		Time:    time.Now().UnixMilli(),
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 1)
	require.NoError(t, err)

	_, err = svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-2",
		Time:    time.Now().UnixMilli(),
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 2)
	assert.Equal(t, -31008, paymeErrorCode(t, err))
}

func TestCreateTransactionRetryWithDifferentAmountRefused(t *testing.T) {
	svc, _, _, sessionID := newPaymeFixture(t)
	ctx := context.Background()

	_, err := svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-1",
		Time:    time.Now().UnixMilli(),
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 1)
	require.NoError(t, err)

	_, err = svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-1",
		Time:    time.Now().UnixMilli(),
		Amount:  4000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 2)
	assert.Equal(t, -31008, paymeErrorCode(t, err))
}

func TestPerformTransactionSuccessAndIdempotent(t *testing.T) {
	svc, repo, fiscal, sessionID := newPaymeFixture(t)
	ctx := context.Background()

	_, err := svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-1",
		Time:    time.Now().UnixMilli(),
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 1)
	require.NoError(t, err)

	first, err := svc.PerformTransaction(ctx, services.PerformTransactionParams{ID: "payme-tx-1"}, 2)
	require.NoError(t, err)
	assert.Equal(t, services.TransactionStatePaid, first.State)
	assert.NotZero(t, first.PerformTime)

	session, err := repo.FindByID(ctx, sessionID.String())
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCaptured, session.Status)

	second, err := svc.PerformTransaction(ctx, services.PerformTransactionParams{ID: "payme-tx-1"}, 3)
	require.NoError(t, err)
	assert.Equal(t, first.PerformTime, second.PerformTime)

	assert.Eventually(t, func() bool { return fiscal.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestPerformTransactionUnknown(t *testing.T) {
	svc, _, _, _ := newPaymeFixture(t)

	_, err := svc.PerformTransaction(context.Background(), services.PerformTransactionParams{ID: "no-such-tx"}, 1)
	assert.Equal(t, -31003, paymeErrorCode(t, err))
}

func TestPerformTransactionOnCanceledRefused(t *testing.T) {
	svc, _, _, sessionID := newPaymeFixture(t)
	ctx := context.Background()

	_, err := svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-1",
		Time:    time.Now().UnixMilli(),
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 1)
	require.NoError(t, err)

	_, err = svc.CancelTransaction(ctx, services.CancelTransactionParams{ID: "payme-tx-1", Reason: 3}, 2)
	require.NoError(t, err)

	_, err = svc.PerformTransaction(ctx, services.PerformTransactionParams{ID: "payme-tx-1"}, 3)
	assert.Equal(t, -31008, paymeErrorCode(t, err))
}

func TestCancelTransactionBeforeAndAfterPerform(t *testing.T) {
	svc, _, _, sessionID := newPaymeFixture(t)
	ctx := context.Background()

	// Cancel before perform: state -1.
	_, err := svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-1",
		Time:    time.Now().UnixMilli(),
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 1)
	require.NoError(t, err)

	canceled, err := svc.CancelTransaction(ctx, services.CancelTransactionParams{ID: "payme-tx-1", Reason: 3}, 2)
	require.NoError(t, err)
	assert.Equal(t, services.TransactionStatePendingCanceled, canceled.State)
	assert.NotZero(t, canceled.CancelTime)

	// Repeat cancel is idempotent.
	again, err := svc.CancelTransaction(ctx, services.CancelTransactionParams{ID: "payme-tx-1", Reason: 3}, 3)
	require.NoError(t, err)
	assert.Equal(t, canceled.CancelTime, again.CancelTime)
	assert.Equal(t, canceled.State, again.State)
}

func TestCancelAfterPerformUsesRefundState(t *testing.T) {
	svc, repo, _, _ := newPaymeFixture(t)
	ctx := context.Background()

	// Seed a second payme session and take it through perform.
	sessionID := repo.seedSession(models.PaymentSession{
		ProviderID: models.ProviderPayme,
		Amount:     1000000,
		Status:     models.SessionStatusPending,
	})

	_, err := svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-9",
		Time:    time.Now().UnixMilli(),
		Amount:  1000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 1)
	require.NoError(t, err)

	_, err = svc.PerformTransaction(ctx, services.PerformTransactionParams{ID: "payme-tx-9"}, 2)
	require.NoError(t, err)

	canceled, err := svc.CancelTransaction(ctx, services.CancelTransactionParams{ID: "payme-tx-9", Reason: 5}, 3)
	require.NoError(t, err)
	assert.Equal(t, services.TransactionStatePaidCanceled, canceled.State)

	session, err := repo.FindByID(ctx, sessionID.String())
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCanceled, session.Status)
}

func TestCheckTransactionIsPureRead(t *testing.T) {
	svc, repo, _, sessionID := newPaymeFixture(t)
	ctx := context.Background()

	createTime := time.Now().UnixMilli()
	_, err := svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-1",
		Time:    createTime,
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 1)
	require.NoError(t, err)

	before, err := repo.FindByID(ctx, sessionID.String())
	require.NoError(t, err)

	result, err := svc.CheckTransaction(ctx, services.CheckTransactionParams{ID: "payme-tx-1"}, 2)
	require.NoError(t, err)
	assert.Equal(t, createTime, result.CreateTime)
	assert.Equal(t, services.TransactionStatePending, result.State)
	assert.Zero(t, result.PerformTime)

	after, err := repo.FindByID(ctx, sessionID.String())
	require.NoError(t, err)
	assert.Equal(t, before.Data, after.Data)
	assert.Equal(t, before.Status, after.Status)
}

func TestGetStatementListsRange(t *testing.T) {
	svc, repo, _, sessionID := newPaymeFixture(t)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	_, err := svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-1",
		Time:    base,
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 1)
	require.NoError(t, err)

	// A session outside the range.
	other := repo.seedSession(models.PaymentSession{
		ProviderID: models.ProviderPayme,
		Amount:     1000000,
		Status:     models.SessionStatusPending,
	})
	_, err = svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-2",
		Time:    base + 100000,
		Amount:  1000000,
		Account: services.PaymeAccount{OrderID: other.String()},
	}, 2)
	require.NoError(t, err)

	result, err := svc.GetStatement(ctx, services.StatementParams{From: base - 1000, To: base + 1000})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "payme-tx-1", result[0].Transaction)
	assert.Equal(t, int64(5000000), result[0].Amount)
}

func TestCreateTransactionPendingTimeout(t *testing.T) {
	svc, repo, _, sessionID := newPaymeFixture(t)
	ctx := context.Background()

	// A transaction created 13 minutes ago is expired on the next touch.
	stale := time.Now().Add(-13 * time.Minute).UnixMilli()
	_, err := svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-1",
		Time:    stale,
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 1)
	require.NoError(t, err)

	_, err = svc.CreateTransaction(ctx, services.CreateTransactionParams{
		ID:      "payme-tx-1",
		Time:    stale,
		Amount:  5000000,
		Account: services.PaymeAccount{OrderID: sessionID.String()},
	}, 2)
	assert.Equal(t, -31008, paymeErrorCode(t, err))

	session, err := repo.FindByID(ctx, sessionID.String())
	require.NoError(t, err)
	data, err := session.DecodeData()
	require.NoError(t, err)
	assert.Equal(t, services.TransactionStatePendingCanceled, data.State)
	require.NotNil(t, data.Reason)
	assert.Equal(t, 4, *data.Reason)
}
