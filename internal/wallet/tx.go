package wallet

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kittybank/kitty/internal/apperr"
	"github.com/kittybank/kitty/internal/ledger"
)

// TxRunner executes fn as one all-or-nothing unit over wallet rows and the
// ledger.
type TxRunner interface {
	InTx(ctx context.Context, fn func(repo Repository, balances ledger.Store) error) error
}

// PostgresTxRunner binds both stores to a single database transaction.
type PostgresTxRunner struct {
	db *pgxpool.Pool
}

// NewPostgresTxRunner builds a runner on the shared pool.
func NewPostgresTxRunner(db *pgxpool.Pool) *PostgresTxRunner {
	return &PostgresTxRunner{db: db}
}

func (r *PostgresTxRunner) InTx(ctx context.Context, fn func(repo Repository, balances ledger.Store) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return apperr.Storage("begin wallet tx", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(NewPostgresRepository(tx), ledger.NewPostgresLedger(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Storage("commit wallet tx", err)
	}
	return nil
}

// memoryTxRunner serializes units and reverses ledger postings of a failed
// unit. Repository writes are always the last step of a unit, so they never
// need undoing.
type memoryTxRunner struct {
	mu       sync.Mutex
	repo     Repository
	balances ledger.Store
}

// NewMemoryTxRunner builds a runner over in-memory stores.
func NewMemoryTxRunner(repo Repository, balances ledger.Store) TxRunner {
	return &memoryTxRunner{repo: repo, balances: balances}
}

func (r *memoryTxRunner) InTx(ctx context.Context, fn func(repo Repository, balances ledger.Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	postings := ledger.NewJournal(r.balances)
	err := fn(r.repo, postings)
	if err == nil {
		return nil
	}
	if cerr := postings.Compensate(context.WithoutCancel(ctx)); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}
