package billing

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightreel/reelforge/internal/models"
)

// memStore is an in-memory Store with the same atomicity guarantees the
// MySQL implementation provides: the conditional decrement and the invoice
// uniqueness check happen under one lock.
type memStore struct {
	mu       sync.Mutex
	balances map[int64]int64
	byInv    map[string]*models.Transaction
	rows     []*models.Transaction
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{
		balances: make(map[int64]int64),
		byInv:    make(map[string]*models.Transaction),
	}
}

func (s *memStore) TransactionByInvoiceID(_ context.Context, invoiceID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.byInv[invoiceID]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) ApplyCredit(_ context.Context, t *models.Transaction) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byInv[t.InvoiceID]; ok {
		cp := *existing
		return &cp, nil
	}
	s.nextID++
	t.ID = s.nextID
	t.Direction = models.DirectionIncome
	t.Status = models.StatusCompleted
	s.byInv[t.InvoiceID] = t
	s.rows = append(s.rows, t)
	s.balances[t.UserID] += t.Amount
	return t, nil
}

func (s *memStore) ApplyDebit(_ context.Context, t *models.Transaction) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[t.UserID] < t.Amount {
		return 0, false, nil
	}
	s.balances[t.UserID] -= t.Amount
	s.nextID++
	t.ID = s.nextID
	t.Direction = models.DirectionExpense
	t.Status = models.StatusCompleted
	s.byInv[t.InvoiceID] = t
	s.rows = append(s.rows, t)
	return s.balances[t.UserID], true, nil
}

func (s *memStore) Balance(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *memStore) SumCompleted(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, t := range s.rows {
		if t.UserID != userID || t.Status != models.StatusCompleted {
			continue
		}
		if t.Direction == models.DirectionIncome {
			sum += t.Amount
		} else {
			sum -= t.Amount
		}
	}
	return sum, nil
}

func (s *memStore) transactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func newTestEngine(t *testing.T) (*Engine, *memStore) {
	t.Helper()
	store := newMemStore()
	return NewEngine(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestCredit_Idempotent(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	params := CreditParams{
		UserID:      1,
		BotName:     "reelforge",
		Amount:      500,
		InvoiceID:   "pay-abc",
		Category:    models.CategoryReal,
		ServiceType: models.ServiceTopUp,
	}

	first, err := engine.Credit(ctx, params)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, first.Status)

	// Redelivered callback: same invoice id, must be a no-op success.
	second, err := engine.Credit(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	balance, err := engine.GetBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance, "balance must increase exactly once")
	assert.Equal(t, 1, store.transactionCount(), "exactly one completed transaction")
}

func TestCredit_RejectsBadInput(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Credit(ctx, CreditParams{UserID: 1, Amount: 0, InvoiceID: "x"})
	assert.Error(t, err)

	_, err = engine.Credit(ctx, CreditParams{UserID: 1, Amount: 10})
	assert.Error(t, err)

	assert.Equal(t, 0, store.transactionCount())
}

func TestDebit_InsufficientFunds(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Credit(ctx, CreditParams{UserID: 7, Amount: 5, InvoiceID: "pay-1", ServiceType: models.ServiceTopUp})
	require.NoError(t, err)

	_, err = engine.Debit(ctx, DebitParams{UserID: 7, Amount: 30, ServiceType: models.ServiceVideo})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err := engine.GetBalance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance, "rejected debit must not change state")
	assert.Equal(t, 1, store.transactionCount(), "no expense row for a rejected debit")
}

func TestDebit_Charges(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Credit(ctx, CreditParams{UserID: 2, Amount: 100000, InvoiceID: "pay-big", ServiceType: models.ServiceTopUp})
	require.NoError(t, err)

	res, err := engine.Debit(ctx, DebitParams{UserID: 2, Amount: 30, ServiceType: models.ServiceVideo})
	require.NoError(t, err)
	assert.Equal(t, int64(99970), res.NewBalance)
	assert.Equal(t, int64(30), res.Charged)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, models.StatusCompleted, res.Transaction.Status)
	assert.NotEmpty(t, res.Transaction.InvoiceID)
}

func TestDebit_ConcurrentNoOverdraft(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	// Balance covers exactly 3 debits of 30.
	_, err := engine.Credit(ctx, CreditParams{UserID: 3, Amount: 90, InvoiceID: "pay-90", ServiceType: models.ServiceTopUp})
	require.NoError(t, err)

	const attempts = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Debit(ctx, DebitParams{UserID: 3, Amount: 30, ServiceType: models.ServiceVideo})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded, "only the affordable subset may succeed")
	balance, err := engine.GetBalance(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
	assert.GreaterOrEqual(t, balance, int64(0), "balance never negative")
}

func TestDebit_IdempotentByCallerInvoice(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Credit(ctx, CreditParams{UserID: 5, Amount: 100, InvoiceID: "pay-x", ServiceType: models.ServiceTopUp})
	require.NoError(t, err)

	params := DebitParams{UserID: 5, Amount: 40, ServiceType: models.ServiceVideo, InvoiceID: "evt-1"}
	first, err := engine.Debit(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, int64(60), first.NewBalance)

	// Redelivered ledger event: must not charge again.
	second, err := engine.Debit(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, int64(60), second.NewBalance)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, 2, store.transactionCount())
}

func TestReconcile_CacheMatchesLog(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Credit(ctx, CreditParams{UserID: 4, Amount: 120, InvoiceID: "pay-a", ServiceType: models.ServiceTopUp})
	require.NoError(t, err)
	_, err = engine.Credit(ctx, CreditParams{UserID: 4, Amount: 80, InvoiceID: "pay-b", Category: models.CategoryBonus, ServiceType: models.ServiceTopUp})
	require.NoError(t, err)
	_, err = engine.Debit(ctx, DebitParams{UserID: 4, Amount: 50, ServiceType: models.ServicePhoto})
	require.NoError(t, err)

	cached, derived, err := engine.Reconcile(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(150), cached)
	assert.Equal(t, cached, derived)
}
