package events

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() PaymentRecord {
	return PaymentRecord{
		EventID:    "razorpay:pay_1:captured",
		Gateway:    "razorpay",
		OrderRef:   "order_1",
		Kind:       "captured",
		Amount:     50000,
		Currency:   "INR",
		OccurredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPostgresPaymentLogAppendNew(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	log := newPostgresPaymentLogWithExec(mock)
	rec := testRecord()
	mock.ExpectExec("INSERT INTO payment_events").
		WithArgs(rec.EventID, rec.Gateway, rec.OrderRef, rec.Kind, rec.Amount, rec.Currency, rec.OccurredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	status, inserted, err := log.Append(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, PaymentEventPending, status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPaymentLogAppendDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	log := newPostgresPaymentLogWithExec(mock)
	rec := testRecord()
	mock.ExpectExec("INSERT INTO payment_events").
		WithArgs(rec.EventID, rec.Gateway, rec.OrderRef, rec.Kind, rec.Amount, rec.Currency, rec.OccurredAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT status FROM payment_events").
		WithArgs(rec.EventID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("applied"))

	status, inserted, err := log.Append(context.Background(), rec)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, PaymentEventApplied, status)
	assert.True(t, status.Settled())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPaymentLogMarkFlagged(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	log := newPostgresPaymentLogWithExec(mock)
	mock.ExpectExec("UPDATE payment_events").
		WithArgs("evt-1", "flagged", "amount mismatch").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, log.MarkFlagged(context.Background(), "evt-1", "amount mismatch"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryPaymentLogStatuses(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryPaymentLog()
	rec := testRecord()

	status, inserted, err := log.Append(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.False(t, status.Settled())

	status, inserted, err = log.Append(ctx, rec)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, PaymentEventPending, status, "pending events stay retryable")

	require.NoError(t, log.MarkApplied(ctx, rec.EventID))
	status, _, err = log.Append(ctx, rec)
	require.NoError(t, err)
	assert.True(t, status.Settled())
	assert.Equal(t, 1, log.Len())
}
