package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightreel/reelforge/internal/models"
)

type fakeUsers struct {
	users map[int64]*models.User
}

func (f *fakeUsers) Ensure(_ context.Context, telegramID int64, _, _, _, _ string) (*models.User, bool, error) {
	if u, ok := f.users[telegramID]; ok {
		return u, false, nil
	}
	u := &models.User{ID: telegramID * 10, TelegramID: telegramID, BotName: "reelforge"}
	f.users[telegramID] = u
	return u, true, nil
}

func TestHandlePaymentEvent_IncomeCreditsOnce(t *testing.T) {
	users := &fakeUsers{users: make(map[int64]*models.User)}
	balance := &fakeBalance{}
	svc := NewIngestService(slog.New(slog.NewTextHandler(io.Discard, nil)), users, balance)

	event := models.PaymentEvent{
		TelegramID:  42,
		BotName:     "reelforge",
		Amount:      300,
		Direction:   models.DirectionIncome,
		InvoiceID:   "gw-pay-1",
		ServiceType: models.ServiceTopUp,
		Category:    models.CategoryReal,
	}
	require.NoError(t, svc.HandlePaymentEvent(context.Background(), event))

	require.Len(t, balance.credits, 1)
	assert.Equal(t, "gw-pay-1", balance.credits[0].InvoiceID)
	assert.Equal(t, int64(420), balance.credits[0].UserID, "credit lands on the resolved user")
}

func TestHandlePaymentEvent_ExpenseOverdraftIsTerminal(t *testing.T) {
	users := &fakeUsers{users: make(map[int64]*models.User)}
	balance := &fakeBalance{balance: 5}
	svc := NewIngestService(slog.New(slog.NewTextHandler(io.Discard, nil)), users, balance)

	event := models.PaymentEvent{
		TelegramID:  42,
		Amount:      30,
		Direction:   models.DirectionExpense,
		InvoiceID:   "evt-overdraft",
		ServiceType: models.ServiceVideo,
	}
	// The handler swallows the overdraft so the queue does not retry it;
	// callers observe the rejection as a settlement timeout.
	require.NoError(t, svc.HandlePaymentEvent(context.Background(), event))
	assert.Empty(t, balance.debits)
	assert.Equal(t, int64(5), balance.balance)
}

func TestHandlePaymentEvent_RejectsMalformed(t *testing.T) {
	users := &fakeUsers{users: make(map[int64]*models.User)}
	balance := &fakeBalance{}
	svc := NewIngestService(slog.New(slog.NewTextHandler(io.Discard, nil)), users, balance)

	err := svc.HandlePaymentEvent(context.Background(), models.PaymentEvent{TelegramID: 1, Amount: 10, Direction: models.DirectionIncome})
	assert.Error(t, err, "missing invoice id")

	err = svc.HandlePaymentEvent(context.Background(), models.PaymentEvent{TelegramID: 1, Amount: 0, Direction: models.DirectionIncome, InvoiceID: "x"})
	assert.Error(t, err, "non-positive amount")

	err = svc.HandlePaymentEvent(context.Background(), models.PaymentEvent{TelegramID: 1, Amount: 10, Direction: "sideways", InvoiceID: "y"})
	assert.Error(t, err, "unknown direction")

	assert.Empty(t, balance.credits)
	assert.Empty(t, balance.debits)
}
