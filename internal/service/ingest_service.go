package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nightreel/reelforge/internal/billing"
	"github.com/nightreel/reelforge/internal/models"
)

// UserEnsurer resolves a platform identity to a local user, creating one on
// first contact.
type UserEnsurer interface {
	Ensure(ctx context.Context, telegramID int64, username, firstName, lastName, locale string) (*models.User, bool, error)
}

// IngestService is the dispatcher-side handler for payment events. It may
// see the same event more than once; the invoice id keeps the ledger
// mutation single-shot.
type IngestService struct {
	log     *slog.Logger
	users   UserEnsurer
	balance BalanceEngine
}

func NewIngestService(log *slog.Logger, users UserEnsurer, balance BalanceEngine) *IngestService {
	return &IngestService{log: log, users: users, balance: balance}
}

func (s *IngestService) HandlePaymentEvent(ctx context.Context, event models.PaymentEvent) error {
	if event.InvoiceID == "" {
		return fmt.Errorf("payment event missing invoice id")
	}
	if event.Amount <= 0 {
		return fmt.Errorf("payment event amount must be positive, got %d", event.Amount)
	}

	user, _, err := s.users.Ensure(ctx, event.TelegramID, "", "", "", "")
	if err != nil {
		return fmt.Errorf("resolve user for payment: %w", err)
	}

	switch event.Direction {
	case models.DirectionIncome:
		_, err := s.balance.Credit(ctx, billing.CreditParams{
			UserID:      user.ID,
			BotName:     user.BotName,
			Amount:      event.Amount,
			InvoiceID:   event.InvoiceID,
			Category:    event.Category,
			ServiceType: event.ServiceType,
		})
		if err != nil {
			return fmt.Errorf("credit %s: %w", event.InvoiceID, err)
		}
		return nil
	case models.DirectionExpense:
		_, err := s.balance.Debit(ctx, billing.DebitParams{
			UserID:      user.ID,
			BotName:     user.BotName,
			Amount:      event.Amount,
			ServiceType: event.ServiceType,
			InvoiceID:   event.InvoiceID,
		})
		if err != nil {
			if errors.Is(err, billing.ErrInsufficientFunds) {
				// Terminal: retrying an overdraft cannot make it affordable.
				// No completed row appears, so a settlement waiter times out,
				// which is the rejection signal.
				s.log.Warn("expense event rejected", "invoice_id", event.InvoiceID, "telegram_id", event.TelegramID, "amount", event.Amount)
				return nil
			}
			return fmt.Errorf("debit %s: %w", event.InvoiceID, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown payment direction %q", event.Direction)
	}
}
