package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nightreel/reelforge/internal/models"
)

// ErrInsufficientFunds is returned by Debit when the balance cannot cover
// the amount. No ledger state changes when it is returned.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Store is the ledger persistence the engine runs on. ApplyDebit must be a
// single atomic conditional mutation at the storage layer; an application
// level read-then-write would race under concurrent debits.
type Store interface {
	TransactionByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error)
	ApplyCredit(ctx context.Context, t *models.Transaction) (*models.Transaction, error)
	ApplyDebit(ctx context.Context, t *models.Transaction) (newBalance int64, ok bool, err error)
	Balance(ctx context.Context, userID int64) (int64, error)
	SumCompleted(ctx context.Context, userID int64) (int64, error)
}

type Engine struct {
	store Store
	log   *slog.Logger
}

type CreditParams struct {
	UserID      int64
	BotName     string
	Amount      int64
	InvoiceID   string
	Category    models.Category
	ServiceType models.ServiceType
}

type DebitParams struct {
	UserID      int64
	BotName     string
	Amount      int64
	ServiceType models.ServiceType
	// InvoiceID is optional. Callers that own an idempotency key (ledger
	// events) supply it so a redelivered debit is a no-op; the orchestrator
	// leaves it empty and gets a generated one.
	InvoiceID string
}

type DebitResult struct {
	Transaction *models.Transaction
	NewBalance  int64
	Charged     int64
}

func NewEngine(store Store, log *slog.Logger) *Engine {
	return &Engine{store: store, log: log}
}

func (e *Engine) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return e.store.Balance(ctx, userID)
}

// Credit applies an income transaction idempotently. A completed transaction
// already carrying the invoice id is returned unchanged, so redelivered
// gateway callbacks never double-credit.
func (e *Engine) Credit(ctx context.Context, p CreditParams) (*models.Transaction, error) {
	if p.Amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", p.Amount)
	}
	if p.InvoiceID == "" {
		return nil, fmt.Errorf("credit requires an invoice id")
	}

	existing, err := e.store.TransactionByInvoiceID(ctx, p.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("lookup invoice %s: %w", p.InvoiceID, err)
	}
	if existing != nil && existing.Status == models.StatusCompleted {
		e.log.Info("duplicate credit ignored", "invoice_id", p.InvoiceID, "user_id", p.UserID)
		return existing, nil
	}

	category := p.Category
	if category == "" {
		category = models.CategoryReal
	}
	t := &models.Transaction{
		InvoiceID:   p.InvoiceID,
		UserID:      p.UserID,
		BotName:     p.BotName,
		Amount:      p.Amount,
		Category:    category,
		ServiceType: p.ServiceType,
	}
	applied, err := e.store.ApplyCredit(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("apply credit: %w", err)
	}
	e.log.Info("credit applied", "invoice_id", applied.InvoiceID, "user_id", applied.UserID, "amount", applied.Amount)
	return applied, nil
}

// Debit charges the user if and only if the balance covers the amount. The
// expense row carries a generated invoice id so artifacts and refunds can
// correlate back to the charge.
func (e *Engine) Debit(ctx context.Context, p DebitParams) (*DebitResult, error) {
	if p.Amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", p.Amount)
	}

	invoiceID := p.InvoiceID
	if invoiceID == "" {
		invoiceID = "op-" + uuid.NewString()
	} else {
		existing, err := e.store.TransactionByInvoiceID(ctx, invoiceID)
		if err != nil {
			return nil, fmt.Errorf("lookup invoice %s: %w", invoiceID, err)
		}
		if existing != nil && existing.Status == models.StatusCompleted {
			balance, err := e.store.Balance(ctx, p.UserID)
			if err != nil {
				return nil, err
			}
			e.log.Info("duplicate debit ignored", "invoice_id", invoiceID, "user_id", p.UserID)
			return &DebitResult{Transaction: existing, NewBalance: balance, Charged: existing.Amount}, nil
		}
	}

	t := &models.Transaction{
		InvoiceID:   invoiceID,
		UserID:      p.UserID,
		BotName:     p.BotName,
		Amount:      p.Amount,
		Category:    models.CategoryReal,
		ServiceType: p.ServiceType,
	}
	newBalance, ok, err := e.store.ApplyDebit(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("apply debit: %w", err)
	}
	if !ok {
		return nil, ErrInsufficientFunds
	}

	e.log.Info("debit applied", "invoice_id", t.InvoiceID, "user_id", p.UserID, "amount", p.Amount, "new_balance", newBalance)
	return &DebitResult{Transaction: t, NewBalance: newBalance, Charged: p.Amount}, nil
}

// Reconcile compares the cached balance against the sum over completed
// transactions and reports a mismatch. The cache must always be re-derivable
// from the log.
func (e *Engine) Reconcile(ctx context.Context, userID int64) (cached int64, derived int64, err error) {
	cached, err = e.store.Balance(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	derived, err = e.store.SumCompleted(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	if cached != derived {
		e.log.Warn("balance cache mismatch", "user_id", userID, "cached", cached, "derived", derived)
	}
	return cached, derived, nil
}
