package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kittybank/kitty/internal/apperr"
)

// rowDB answers every QueryRow with the same row and refuses other calls.
type rowDB struct {
	row pgx.Row
}

func (rowDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unexpected exec")
}

func (rowDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (d rowDB) QueryRow(context.Context, string, ...any) pgx.Row { return d.row }

type failedRow struct {
	err error
}

func (r failedRow) Scan(...any) error { return r.err }

func TestPostgresLedger_CreditOverflowIsNotRetryable(t *testing.T) {
	l := NewPostgresLedger(rowDB{row: failedRow{err: &pgconn.PgError{Code: "22003", Message: "bigint out of range"}}})

	_, err := l.Credit(context.Background(), UserAccount("a"), 10)
	if !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if apperr.Retryable(err) {
		t.Fatalf("overflow must not be reported as retryable: %v", err)
	}
}

func TestPostgresLedger_CreditWrapsOtherFailures(t *testing.T) {
	l := NewPostgresLedger(rowDB{row: failedRow{err: &pgconn.PgError{Code: "40001"}}})

	_, err := l.Credit(context.Background(), UserAccount("a"), 10)
	if !apperr.Retryable(err) {
		t.Fatalf("expected a retryable storage failure, got %v", err)
	}
}

func TestPostgresLedger_DebitWithoutRowReportsInsufficient(t *testing.T) {
	l := NewPostgresLedger(rowDB{row: failedRow{err: pgx.ErrNoRows}})

	_, err := l.Debit(context.Background(), UserAccount("a"), 10)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}
