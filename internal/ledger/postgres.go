package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kittybank/kitty/internal/apperr"
)

// numericOutOfRange is raised when balances.amount + amount leaves BIGINT.
const numericOutOfRange = "22003"

// PostgresLedger keeps one balance row per account. Credits and debits are
// single conditional statements so concurrent postings never lose updates.
type PostgresLedger struct {
	db DBTX
}

// NewPostgresLedger constructs a Postgres-backed ledger. db may be a pool or
// an open transaction.
func NewPostgresLedger(db DBTX) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Balance returns the stored balance, or zero for an unknown account.
func (l *PostgresLedger) Balance(ctx context.Context, account string) (int64, error) {
	var balance int64
	err := l.db.QueryRow(ctx, `SELECT amount FROM balances WHERE account = $1`, account).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, apperr.Storage("read balance", err)
	}
	return balance, nil
}

// Credit upserts the account row and adds amount in one statement.
func (l *PostgresLedger) Credit(ctx context.Context, account string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit %s by %d: %w", account, amount, ErrInvalidAmount)
	}

	const query = `
        INSERT INTO balances (account, amount, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (account) DO UPDATE
            SET amount = balances.amount + EXCLUDED.amount, updated_at = now()
        RETURNING amount`
	var balance int64
	if err := l.db.QueryRow(ctx, query, account, amount).Scan(&balance); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == numericOutOfRange {
			return 0, fmt.Errorf("credit %s by %d: %w", account, amount, ErrBalanceOverflow)
		}
		return 0, apperr.Storage("credit balance", err)
	}
	return balance, nil
}

// Debit subtracts amount only when the balance covers it.
func (l *PostgresLedger) Debit(ctx context.Context, account string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit %s by %d: %w", account, amount, ErrInvalidAmount)
	}

	const query = `
        UPDATE balances SET amount = amount - $2, updated_at = now()
        WHERE account = $1 AND amount >= $2
        RETURNING amount`
	var balance int64
	err := l.db.QueryRow(ctx, query, account, amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.Storage("debit balance", err)
	}

	current, balErr := l.Balance(ctx, account)
	if balErr != nil {
		return 0, balErr
	}
	return current, fmt.Errorf("debit %s by %d: %w", account, amount, ErrInsufficientBalance)
}
