package redemption

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kittybank/kitty/internal/apperr"
	"github.com/kittybank/kitty/internal/ledger"
)

// TxRunner executes fn as one all-or-nothing unit over the code registry and
// the ledger. A non-nil error from fn leaves no trace of fn's writes.
type TxRunner interface {
	InTx(ctx context.Context, fn func(codes Repository, balances ledger.Store) error) error
}

// PostgresTxRunner binds both stores to a single database transaction.
type PostgresTxRunner struct {
	db *pgxpool.Pool
}

// NewPostgresTxRunner builds a runner on the shared pool.
func NewPostgresTxRunner(db *pgxpool.Pool) *PostgresTxRunner {
	return &PostgresTxRunner{db: db}
}

func (r *PostgresTxRunner) InTx(ctx context.Context, fn func(codes Repository, balances ledger.Store) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return apperr.Storage("begin redemption tx", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(NewPostgresRepository(tx), ledger.NewPostgresLedger(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Storage("commit redemption tx", err)
	}
	return nil
}

type reverter interface {
	revertRedemption(code string)
}

// memoryTxRunner gives the in-memory stores the same all-or-nothing contract
// through compensation: ledger postings are reversed and marks reverted when
// fn fails.
type memoryTxRunner struct {
	codes    Repository
	balances ledger.Store
}

// NewMemoryTxRunner builds a runner over in-memory stores.
func NewMemoryTxRunner(codes Repository, balances ledger.Store) TxRunner {
	return &memoryTxRunner{codes: codes, balances: balances}
}

func (r *memoryTxRunner) InTx(ctx context.Context, fn func(codes Repository, balances ledger.Store) error) error {
	marks := &markJournal{Repository: r.codes}
	postings := ledger.NewJournal(r.balances)

	err := fn(marks, postings)
	if err == nil {
		return nil
	}
	undo := context.WithoutCancel(ctx)
	if cerr := postings.Compensate(undo); cerr != nil {
		err = errors.Join(err, cerr)
	}
	marks.compensate()
	return err
}

// markJournal remembers which codes were marked inside a unit of work.
type markJournal struct {
	Repository

	mu     sync.Mutex
	marked []string
}

func (j *markJournal) MarkRedeemed(ctx context.Context, code, by string, at time.Time) (Code, error) {
	c, err := j.Repository.MarkRedeemed(ctx, code, by, at)
	if err == nil {
		j.mu.Lock()
		j.marked = append(j.marked, code)
		j.mu.Unlock()
	}
	return c, err
}

func (j *markJournal) compensate() {
	rv, ok := j.Repository.(reverter)
	if !ok {
		return
	}
	j.mu.Lock()
	marked := j.marked
	j.marked = nil
	j.mu.Unlock()
	for i := len(marked) - 1; i >= 0; i-- {
		rv.revertRedemption(marked[i])
	}
}
