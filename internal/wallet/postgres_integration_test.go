//go:build integration

package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittybank/kitty/internal/apperr"
	"github.com/kittybank/kitty/internal/auth"
	"github.com/kittybank/kitty/internal/infra"
	"github.com/kittybank/kitty/internal/ledger"
	"github.com/kittybank/kitty/internal/logging"
)

type pgFixture struct {
	repo     *PostgresRepository
	balances *ledger.PostgresLedger
	manager  *Manager
	owner    auth.Principal
}

func newPgFixture(t *testing.T) *pgFixture {
	t.Helper()
	pool := infra.OpenTestPool(t)
	return &pgFixture{
		repo:     NewPostgresRepository(pool),
		balances: ledger.NewPostgresLedger(pool),
		manager:  NewManager(NewPostgresTxRunner(pool), nil, nil, logging.Discard(), 5*time.Second),
		owner:    auth.Principal{UserID: "it-owner-" + uuid.NewString()},
	}
}

func (f *pgFixture) funded(t *testing.T, amount int64) Wallet {
	t.Helper()
	w, err := f.manager.CreateWallet(context.Background(), f.owner, "Integration")
	require.NoError(t, err)
	if amount > 0 {
		_, err = f.balances.Credit(context.Background(), w.AccountCode, amount)
		require.NoError(t, err)
	}
	return w
}

func TestPostgresUpdateMemberKeepsLimitAboveUsed(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()
	w := f.funded(t, 1_000)
	_, err := f.manager.AddMember(ctx, f.owner, AddMemberInput{WalletUID: w.UID, MemberUID: "bob", CreditLimit: limit(500)})
	require.NoError(t, err)

	_, err = f.manager.Spend(ctx, auth.Principal{UserID: "bob"}, w.UID, 300)
	require.NoError(t, err)

	_, err = f.repo.UpdateMember(ctx, w.UID, "bob", nil, limit(200), time.Now())
	assert.ErrorIs(t, err, apperr.ErrCreditLimitBelowUsed)

	alias := "Bobby"
	m, err := f.repo.UpdateMember(ctx, w.UID, "bob", &alias, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Bobby", m.Alias)
	require.NotNil(t, m.CreditLimit)
	assert.Equal(t, int64(500), *m.CreditLimit)

	_, err = f.repo.UpdateMember(ctx, w.UID, "nobody", &alias, nil, time.Now())
	assert.ErrorIs(t, err, apperr.ErrMemberNotFound)

	m, err = f.repo.ResetCreditUsed(ctx, w.UID, "bob", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.CreditUsed)
	m, err = f.repo.UpdateMember(ctx, w.UID, "bob", nil, limit(100), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.CreditUsed)
}

func TestPostgresAddCreditUsedStopsAtLimit(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()
	w := f.funded(t, 0)
	_, err := f.manager.AddMember(ctx, f.owner, AddMemberInput{WalletUID: w.UID, MemberUID: "bob", CreditLimit: limit(100)})
	require.NoError(t, err)

	m, err := f.repo.AddCreditUsed(ctx, w.UID, "bob", 100, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(100), m.CreditUsed)

	_, err = f.repo.AddCreditUsed(ctx, w.UID, "bob", 1, time.Now())
	assert.ErrorIs(t, err, apperr.ErrCreditLimitExceeded)

	_, err = f.repo.AddCreditUsed(ctx, w.UID, "ghost", 1, time.Now())
	assert.ErrorIs(t, err, apperr.ErrMemberNotFound)
}

func TestPostgresConcurrentSpendsRespectLimitAndBalance(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()
	w := f.funded(t, 1_000)
	members := []string{"m1", "m2", "m3", "m4"}
	for _, id := range members {
		_, err := f.manager.AddMember(ctx, f.owner, AddMemberInput{WalletUID: w.UID, MemberUID: id, CreditLimit: limit(300)})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, id := range members {
		for i := 0; i < 15; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				<-start
				_, err := f.manager.Spend(ctx, auth.Principal{UserID: id}, w.UID, 25)
				if err != nil && !errors.Is(err, apperr.ErrCreditLimitExceeded) && !errors.Is(err, apperr.ErrInsufficientBalance) {
					t.Errorf("unexpected error: %v", err)
				}
			}(id)
		}
	}
	close(start)
	wg.Wait()

	balance, err := f.balances.Balance(ctx, w.AccountCode)
	require.NoError(t, err)

	var spent int64
	for _, id := range members {
		m, err := f.repo.GetMember(ctx, w.UID, id)
		require.NoError(t, err)
		assert.LessOrEqual(t, m.CreditUsed, int64(300))
		spent += m.CreditUsed
	}
	assert.Equal(t, int64(1_000)-balance, spent)
	assert.Equal(t, int64(1_000), spent)
}
