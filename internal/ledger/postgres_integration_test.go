//go:build integration

package ledger_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/kittybank/kitty/internal/apperr"
	"github.com/kittybank/kitty/internal/infra"
	"github.com/kittybank/kitty/internal/ledger"
)

func TestPostgresLedger_ConcurrentPostings(t *testing.T) {
	l := ledger.NewPostgresLedger(infra.OpenTestPool(t))
	ctx := context.Background()
	account := ledger.UserAccount("it-" + uuid.NewString())

	if _, err := l.Credit(ctx, account, 1_000); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	debited := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Debit(ctx, account, 50)
			switch {
			case err == nil:
				mu.Lock()
				debited++
				mu.Unlock()
			case !errors.Is(err, ledger.ErrInsufficientBalance):
				t.Errorf("debit: %v", err)
			}
		}()
	}
	wg.Wait()

	if debited != 20 {
		t.Fatalf("expected exactly 20 debits of 50 from 1000, got %d", debited)
	}
	balance, err := l.Balance(ctx, account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected 0, got %d", balance)
	}
}

func TestPostgresLedger_CreditOverflowAtBoundary(t *testing.T) {
	l := ledger.NewPostgresLedger(infra.OpenTestPool(t))
	ctx := context.Background()
	account := ledger.UserAccount("it-" + uuid.NewString())

	if _, err := l.Credit(ctx, account, math.MaxInt64); err != nil {
		t.Fatalf("credit to the maximum: %v", err)
	}
	_, err := l.Credit(ctx, account, 10)
	if !errors.Is(err, ledger.ErrBalanceOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if apperr.Retryable(err) {
		t.Fatalf("overflow must not be retryable")
	}
	if balance, _ := l.Balance(ctx, account); balance != math.MaxInt64 {
		t.Fatalf("balance changed to %d", balance)
	}
}
