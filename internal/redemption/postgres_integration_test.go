//go:build integration

package redemption

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
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

func uniqueCode() string {
	return "IT" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func insertCode(t *testing.T, repo *PostgresRepository, amount int64, expiredAt *time.Time) Code {
	t.Helper()
	c := Code{Code: uniqueCode(), Amount: amount, ExpiredAt: expiredAt, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

func TestPostgresMarkRedeemedExactlyOnce(t *testing.T) {
	repo := NewPostgresRepository(infra.OpenTestPool(t))
	code := insertCode(t, repo, 1_000, nil)

	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := repo.MarkRedeemed(context.Background(), code.Code, "user-"+string(rune('a'+i)), time.Now())
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, apperr.ErrAlreadyRedeemed):
				losses.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(24), losses.Load())
}

func TestPostgresMarkRedeemedClassifiesRejections(t *testing.T) {
	repo := NewPostgresRepository(infra.OpenTestPool(t))
	ctx := context.Background()

	_, err := repo.MarkRedeemed(ctx, uniqueCode(), "alice", time.Now())
	assert.ErrorIs(t, err, apperr.ErrCodeNotFound)

	expiry := time.Now().UTC().Truncate(time.Microsecond)
	expired := insertCode(t, repo, 10, &expiry)
	_, err = repo.MarkRedeemed(ctx, expired.Code, "alice", expiry.Add(time.Millisecond))
	assert.ErrorIs(t, err, apperr.ErrExpired)
	stored, err := repo.Get(ctx, expired.Code)
	require.NoError(t, err)
	assert.False(t, stored.Redeemed)

	_, err = repo.MarkRedeemed(ctx, expired.Code, "alice", expiry)
	require.NoError(t, err, "the expiry instant itself is still redeemable")

	_, err = repo.MarkRedeemed(ctx, expired.Code, "bob", expiry)
	assert.ErrorIs(t, err, apperr.ErrAlreadyRedeemed)
}

func TestPostgresCreateReportsDuplicate(t *testing.T) {
	repo := NewPostgresRepository(infra.OpenTestPool(t))
	code := insertCode(t, repo, 10, nil)

	err := repo.Create(context.Background(), Code{Code: code.Code, Amount: 20, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrDuplicateCode)
}

func TestPostgresRedeemRollsBackOnOverflow(t *testing.T) {
	pool := infra.OpenTestPool(t)
	repo := NewPostgresRepository(pool)
	balances := ledger.NewPostgresLedger(pool)
	engine := NewEngine(NewPostgresTxRunner(pool), 5*time.Second, nil, logging.Discard())
	ctx := context.Background()
	user := "it-" + uuid.NewString()

	_, err := balances.Credit(ctx, ledger.UserAccount(user), math.MaxInt64-5)
	require.NoError(t, err)
	code := insertCode(t, repo, 10, nil)

	_, err = engine.Redeem(ctx, auth.Principal{UserID: user}, code.Code)
	assert.ErrorIs(t, err, apperr.ErrBalanceOverflow)

	stored, err := repo.Get(ctx, code.Code)
	require.NoError(t, err)
	assert.False(t, stored.Redeemed, "the mark must roll back with the failed credit")
}
