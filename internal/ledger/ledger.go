package ledger

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kittybank/kitty/internal/apperr"
)

var (
	// ErrInsufficientBalance occurs when a debit exceeds the stored balance.
	ErrInsufficientBalance = apperr.ErrInsufficientBalance

	// ErrInvalidAmount rejects zero or negative postings.
	ErrInvalidAmount = apperr.ErrInvalidAmount

	// ErrBalanceOverflow rejects a credit whose result does not fit in int64.
	ErrBalanceOverflow = apperr.ErrBalanceOverflow
)

const (
	userAccountPrefix   = "user:"
	walletAccountPrefix = "wallet:"
)

// UserAccount is the ledger key of an identity's personal balance.
func UserAccount(identity string) string { return userAccountPrefix + identity }

// WalletAccount is the ledger key of a shared wallet's pooled balance.
func WalletAccount(walletUID string) string { return walletAccountPrefix + walletUID }

// Store maps account keys to balances in minor units. Every mutation is a
// single atomic step per account.
type Store interface {
	Balance(ctx context.Context, account string) (int64, error)
	Credit(ctx context.Context, account string, amount int64) (int64, error)
	Debit(ctx context.Context, account string, amount int64) (int64, error)
}

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so repositories can run
// standalone or inside a caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
