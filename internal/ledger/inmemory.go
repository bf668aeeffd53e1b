package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"
)

type inMemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and development runs without Postgres.
func NewInMemory() Store {
	return &inMemoryLedger{balances: make(map[string]int64)}
}

func (l *inMemoryLedger) Balance(_ context.Context, account string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account], nil
}

func (l *inMemoryLedger) Credit(_ context.Context, account string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit %s by %d: %w", account, amount, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.balances[account]
	if amount > math.MaxInt64-current {
		return current, fmt.Errorf("credit %s by %d: %w", account, amount, ErrBalanceOverflow)
	}
	balance := current + amount
	l.balances[account] = balance
	return balance, nil
}

func (l *inMemoryLedger) Debit(_ context.Context, account string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit %s by %d: %w", account, amount, ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balances[account]
	if balance < amount {
		return balance, fmt.Errorf("debit %s by %d: %w", account, amount, ErrInsufficientBalance)
	}
	balance -= amount
	l.balances[account] = balance
	return balance, nil
}
