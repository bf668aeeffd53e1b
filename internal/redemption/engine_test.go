package redemption

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittybank/kitty/internal/apperr"
	"github.com/kittybank/kitty/internal/auth"
	"github.com/kittybank/kitty/internal/ledger"
	"github.com/kittybank/kitty/internal/logging"
	"github.com/kittybank/kitty/internal/notification"
)

var admin = auth.Principal{UserID: "admin-1", Admin: true}

type fixture struct {
	codes    Repository
	balances ledger.Store
	registry *Registry
	engine   *Engine
	notes    *notification.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codes := NewMemoryRepository()
	balances := ledger.NewInMemory()
	notes := &notification.Recorder{}
	logger := logging.Discard()
	return &fixture{
		codes:    codes,
		balances: balances,
		registry: NewRegistry(codes, nil, 0, logger),
		engine:   NewEngine(NewMemoryTxRunner(codes, balances), time.Second, notes, logger),
		notes:    notes,
	}
}

func (f *fixture) issue(t *testing.T, in CreateInput) Code {
	t.Helper()
	code, err := f.registry.Create(context.Background(), admin, in)
	require.NoError(t, err)
	return code
}

func TestRedeemCreditsOnceThenRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := auth.Principal{UserID: "alice"}

	code := f.issue(t, CreateInput{Amount: 1000})

	balance, err := f.engine.Redeem(ctx, alice, code.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	_, err = f.engine.Redeem(ctx, alice, code.Code)
	assert.ErrorIs(t, err, apperr.ErrAlreadyRedeemed)

	balance, err = f.balances.Balance(ctx, ledger.UserAccount("alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	stored, err := f.codes.Get(ctx, code.Code)
	require.NoError(t, err)
	assert.True(t, stored.Redeemed)
	require.NotNil(t, stored.RedeemedBy)
	assert.Equal(t, "alice", *stored.RedeemedBy)
	assert.Equal(t, StatusRedeemed, stored.Status(time.Now()))

	msgs := f.notes.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notification.KindCodeRedeemed, msgs[0].Kind)
	assert.Equal(t, "alice", msgs[0].Destination)
}

func TestRedeemConcurrentCallersExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	code := f.issue(t, CreateInput{Amount: 250})

	const callers = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		already   int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.Redeem(context.Background(), auth.Principal{UserID: "bob"}, code.Code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrAlreadyRedeemed):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, already)
	balance, err := f.balances.Balance(context.Background(), ledger.UserAccount("bob"))
	require.NoError(t, err)
	assert.Equal(t, int64(250), balance)
}

func TestRedeemUnknownAndExpiredCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carol := auth.Principal{UserID: "carol"}

	_, err := f.engine.Redeem(ctx, carol, "NOPE")
	assert.ErrorIs(t, err, apperr.ErrCodeNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	past := time.Now().Add(-time.Minute)
	expired := f.issue(t, CreateInput{Amount: 10, ExpiredAt: &past})

	_, err = f.engine.Redeem(ctx, carol, expired.Code)
	assert.ErrorIs(t, err, apperr.ErrExpired)

	stored, err := f.codes.Get(ctx, expired.Code)
	require.NoError(t, err)
	assert.False(t, stored.Redeemed)
	assert.Equal(t, StatusExpired, stored.Status(time.Now()))

	balance, err := f.balances.Balance(ctx, ledger.UserAccount("carol"))
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestRedeemNormalizesInput(t *testing.T) {
	f := newFixture(t)
	code := f.issue(t, CreateInput{Amount: 5})

	lower := "  " + strings.ToLower(code.Code) + "\n"
	balance, err := f.engine.Redeem(context.Background(), auth.Principal{UserID: "dan"}, lower)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)
}

func TestRedeemRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	code := f.issue(t, CreateInput{Amount: 5})

	_, err := f.engine.Redeem(context.Background(), auth.Principal{}, code.Code)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

// failingLedger refuses every credit with a storage failure.
type failingLedger struct {
	ledger.Store
}

func (failingLedger) Credit(context.Context, string, int64) (int64, error) {
	return 0, apperr.Storage("credit balance", context.DeadlineExceeded)
}

func TestRedeemRollsBackMarkWhenCreditFails(t *testing.T) {
	codes := NewMemoryRepository()
	balances := ledger.NewInMemory()
	logger := logging.Discard()
	registry := NewRegistry(codes, nil, 0, logger)
	broken := NewEngine(NewMemoryTxRunner(codes, failingLedger{Store: balances}), time.Second, nil, logger)
	healthy := NewEngine(NewMemoryTxRunner(codes, balances), time.Second, nil, logger)
	ctx := context.Background()

	code, err := registry.Create(ctx, admin, CreateInput{Amount: 700})
	require.NoError(t, err)

	_, err = broken.Redeem(ctx, auth.Principal{UserID: "erin"}, code.Code)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.True(t, apperr.Retryable(err))

	stored, err := codes.Get(ctx, code.Code)
	require.NoError(t, err)
	assert.False(t, stored.Redeemed)
	assert.Nil(t, stored.RedeemedBy)

	balance, err := healthy.Redeem(ctx, auth.Principal{UserID: "erin"}, code.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(700), balance)
}

func TestRedeemRejectsBalanceOverflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gina := auth.Principal{UserID: "gina"}

	first := f.issue(t, CreateInput{Amount: math.MaxInt64})
	second := f.issue(t, CreateInput{Amount: 10})

	balance, err := f.engine.Redeem(ctx, gina, first.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), balance)

	_, err = f.engine.Redeem(ctx, gina, second.Code)
	assert.ErrorIs(t, err, apperr.ErrBalanceOverflow)
	assert.False(t, apperr.Retryable(err))

	stored, err := f.codes.Get(ctx, second.Code)
	require.NoError(t, err)
	assert.False(t, stored.Redeemed)

	balance, err = f.balances.Balance(ctx, ledger.UserAccount("gina"))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), balance)
}

func TestRedeemSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	code := f.issue(t, CreateInput{Amount: 42})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	balance, err := f.engine.Redeem(ctx, auth.Principal{UserID: "frank"}, code.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance)
}
