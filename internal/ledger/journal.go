package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type posting struct {
	account string
	amount  int64 // positive for credits, negative for debits
}

// Journal records the postings made through it so an in-memory unit of work
// can undo them when a later step fails. Stores with real transactions do not
// need it.
type Journal struct {
	Store

	mu       sync.Mutex
	postings []posting
}

// NewJournal wraps s.
func NewJournal(s Store) *Journal {
	return &Journal{Store: s}
}

func (j *Journal) Credit(ctx context.Context, account string, amount int64) (int64, error) {
	balance, err := j.Store.Credit(ctx, account, amount)
	if err == nil {
		j.record(account, amount)
	}
	return balance, err
}

func (j *Journal) Debit(ctx context.Context, account string, amount int64) (int64, error) {
	balance, err := j.Store.Debit(ctx, account, amount)
	if err == nil {
		j.record(account, -amount)
	}
	return balance, err
}

func (j *Journal) record(account string, amount int64) {
	j.mu.Lock()
	j.postings = append(j.postings, posting{account: account, amount: amount})
	j.mu.Unlock()
}

// Compensate reverses every recorded posting, newest first, and clears the
// journal.
func (j *Journal) Compensate(ctx context.Context) error {
	j.mu.Lock()
	postings := j.postings
	j.postings = nil
	j.mu.Unlock()

	var errs []error
	for i := len(postings) - 1; i >= 0; i-- {
		p := postings[i]
		var err error
		if p.amount > 0 {
			_, err = j.Store.Debit(ctx, p.account, p.amount)
		} else {
			_, err = j.Store.Credit(ctx, p.account, -p.amount)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("compensate %s: %w", p.account, err))
		}
	}
	return errors.Join(errs...)
}
