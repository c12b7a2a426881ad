package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/nightreel/reelforge/internal/models"
)

const duplicateEntryErrNo = 1062

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const transactionColumns = `id, invoice_id, user_id, bot_name, amount, direction, category, service_type, status, created_at`

func scanTransaction(row *sql.Row) (*models.Transaction, error) {
	var t models.Transaction
	if err := row.Scan(&t.ID, &t.InvoiceID, &t.UserID, &t.BotName, &t.Amount, &t.Direction, &t.Category, &t.ServiceType, &t.Status, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

func (r *LedgerRepository) TransactionByInvoiceID(ctx context.Context, invoiceID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE invoice_id = ?`
	return scanTransaction(r.db.QueryRowContext(ctx, query, invoiceID))
}

// ApplyCredit inserts a completed income transaction and increments the
// cached balance in one database transaction. A duplicate invoice id is not
// an error: the previously written row is read back and returned unchanged,
// which makes redelivered payment callbacks safe.
func (r *LedgerRepository) ApplyCredit(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback()

	const insert = `
INSERT INTO transactions (invoice_id, user_id, bot_name, amount, direction, category, service_type, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, insert, t.InvoiceID, t.UserID, t.BotName, t.Amount, models.DirectionIncome, t.Category, t.ServiceType, models.StatusCompleted)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntryErrNo {
			return r.TransactionByInvoiceID(ctx, t.InvoiceID)
		}
		return nil, fmt.Errorf("insert income transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("income last insert id: %w", err)
	}

	const bump = `UPDATE users SET balance = balance + ?, updated_at = NOW() WHERE id = ?`
	if _, err := tx.ExecContext(ctx, bump, t.Amount, t.UserID); err != nil {
		return nil, fmt.Errorf("apply credit balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credit tx: %w", err)
	}

	t.ID = id
	t.Direction = models.DirectionIncome
	t.Status = models.StatusCompleted
	return t, nil
}

// ApplyDebit performs the conditional decrement and records the completed
// expense row atomically. The WHERE balance >= ? guard is what keeps two
// concurrent debits from both succeeding when only one is affordable; the
// check never happens in application code.
func (r *LedgerRepository) ApplyDebit(ctx context.Context, t *models.Transaction) (int64, bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, false, fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback()

	const decrement = `
UPDATE users SET balance = balance - ?, updated_at = NOW()
WHERE id = ? AND balance >= ?`
	res, err := tx.ExecContext(ctx, decrement, t.Amount, t.UserID, t.Amount)
	if err != nil {
		return 0, false, fmt.Errorf("conditional decrement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("decrement rows affected: %w", err)
	}
	if affected == 0 {
		return 0, false, nil
	}

	var newBalance int64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = ?`, t.UserID).Scan(&newBalance); err != nil {
		return 0, false, fmt.Errorf("read balance after debit: %w", err)
	}

	const insert = `
INSERT INTO transactions (invoice_id, user_id, bot_name, amount, direction, category, service_type, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	ins, err := tx.ExecContext(ctx, insert, t.InvoiceID, t.UserID, t.BotName, t.Amount, models.DirectionExpense, t.Category, t.ServiceType, models.StatusCompleted)
	if err != nil {
		return 0, false, fmt.Errorf("insert expense transaction: %w", err)
	}
	id, err := ins.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("expense last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit debit tx: %w", err)
	}

	t.ID = id
	t.Direction = models.DirectionExpense
	t.Status = models.StatusCompleted
	return newBalance, true, nil
}

func (r *LedgerRepository) Balance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	if err := r.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = ?`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// SumCompleted re-derives the balance from the transaction log. The cached
// users.balance column must always agree with this sum.
func (r *LedgerRepository) SumCompleted(ctx context.Context, userID int64) (int64, error) {
	const query = `
SELECT COALESCE(SUM(CASE WHEN direction = 'income' THEN amount ELSE -amount END), 0)
FROM transactions
WHERE user_id = ? AND status = 'completed'`
	var sum int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum completed transactions: %w", err)
	}
	return sum, nil
}

func (r *LedgerRepository) TransactionsByUser(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.InvoiceID, &t.UserID, &t.BotName, &t.Amount, &t.Direction, &t.Category, &t.ServiceType, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction list: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
