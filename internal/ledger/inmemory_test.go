package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
)

func TestInMemoryLedger_UnknownAccountIsZero(t *testing.T) {
	l := NewInMemory()
	balance, err := l.Balance(context.Background(), UserAccount("nobody"))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected 0, got %d", balance)
	}

	mem := l.(*inMemoryLedger)
	if _, exists := mem.balances[UserAccount("nobody")]; exists {
		t.Fatalf("balance read must not create an account")
	}
}

func TestInMemoryLedger_CreditRoundTrip(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	account := UserAccount("alice")
	SeedBalance(l, account, 250)

	for _, amount := range []int64{1, 99, 1_000, 7} {
		before, _ := l.Balance(ctx, account)
		after, err := l.Credit(ctx, account, amount)
		if err != nil {
			t.Fatalf("credit %d: %v", amount, err)
		}
		if after != before+amount {
			t.Fatalf("expected %d, got %d", before+amount, after)
		}
		read, _ := l.Balance(ctx, account)
		if read != after {
			t.Fatalf("balance read %d does not match credit result %d", read, after)
		}
	}
}

func TestInMemoryLedger_RejectsNonPositiveAmounts(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	if _, err := l.Credit(ctx, "user:a", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := l.Debit(ctx, "user:a", -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestInMemoryLedger_CreditRejectsOverflow(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	account := UserAccount("a")

	if _, err := l.Credit(ctx, account, math.MaxInt64); err != nil {
		t.Fatalf("credit to the maximum: %v", err)
	}
	balance, err := l.Credit(ctx, account, 10)
	if !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected overflow, got balance=%d err=%v", balance, err)
	}
	if read, _ := l.Balance(ctx, account); read != math.MaxInt64 {
		t.Fatalf("balance must stay at the maximum, got %d", read)
	}
}

func TestInMemoryLedger_DebitInsufficientLeavesBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	account := WalletAccount("w1")
	SeedBalance(l, account, 5_000)

	if _, err := l.Debit(ctx, account, 1_500); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if _, err := l.Debit(ctx, account, 10_000); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	balance, _ := l.Balance(ctx, account)
	if balance != 3_500 {
		t.Fatalf("expected balance 3500 after failed debit, got %d", balance)
	}
}

func TestInMemoryLedger_ConcurrentPostings(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	account := WalletAccount("shared")
	SeedBalance(l, account, 10_000)

	const workers = 50
	const amount = int64(300)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		debited int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := l.Credit(ctx, account, 100); err != nil {
				t.Errorf("credit failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := l.Debit(ctx, account, amount); err == nil {
				mu.Lock()
				debited += amount
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientBalance) {
				t.Errorf("debit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, _ := l.Balance(ctx, account)
	if balance < 0 {
		t.Fatalf("balance went negative: %d", balance)
	}
	if want := 10_000 + workers*100 - debited; balance != want {
		t.Fatalf("lost update: expected %d, got %d", want, balance)
	}
}
