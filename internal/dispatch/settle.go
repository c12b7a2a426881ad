package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nightreel/reelforge/internal/models"
)

// ErrSettlementTimeout reports that a queued payment event did not reach a
// completed ledger row within the wait window. For an overdraft-protected
// debit event this is the expected outcome, not a transport problem.
var ErrSettlementTimeout = errors.New("settlement wait timed out")

type LedgerReader interface {
	TransactionByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error)
}

// WaitForSettlement polls the ledger for a completed transaction carrying
// the invoice id, backing off exponentially up to the deadline. Producers
// call this instead of assuming the handler ran when Enqueue returned.
func WaitForSettlement(ctx context.Context, ledger LedgerReader, invoiceID string, timeout time.Duration) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := 100 * time.Millisecond
	const maxBackoff = 2 * time.Second

	for {
		t, err := ledger.TransactionByInvoiceID(ctx, invoiceID)
		if err != nil {
			return nil, fmt.Errorf("poll invoice %s: %w", invoiceID, err)
		}
		if t != nil && t.Status == models.StatusCompleted {
			return t, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("invoice %s: %w", invoiceID, ErrSettlementTimeout)
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
