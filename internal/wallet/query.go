package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kittybank/kitty/internal/apperr"
	"github.com/kittybank/kitty/internal/auth"
	"github.com/kittybank/kitty/internal/ledger"
)

// QueryService answers read-only wallet questions outside of transactions.
type QueryService struct {
	repo     Repository
	balances ledger.Store
	cache    DetailCache
	logger   *slog.Logger
}

// NewQueryService wires the read side. A nil cache disables caching.
func NewQueryService(repo Repository, balances ledger.Store, cache DetailCache, logger *slog.Logger) *QueryService {
	if cache == nil {
		cache = NoopCache{}
	}
	return &QueryService{repo: repo, balances: balances, cache: cache, logger: logger}
}

// ListAccessible returns the wallets the caller owns or belongs to, oldest
// first, with the caller's role and own credit position.
func (q *QueryService) ListAccessible(ctx context.Context, p auth.Principal) ([]Summary, error) {
	if !p.Authenticated() {
		return nil, fmt.Errorf("list wallets: %w", apperr.ErrForbidden)
	}
	accesses, err := q.repo.ListAccessible(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(accesses))
	for _, a := range accesses {
		balance, err := q.balances.Balance(ctx, a.Wallet.AccountCode)
		if err != nil {
			return nil, err
		}
		s := Summary{Wallet: a.Wallet, Role: RoleOwner, Balance: balance}
		if a.Membership != nil {
			used := a.Membership.CreditUsed
			s.Role = RoleMember
			s.Alias = a.Membership.Alias
			s.CreditLimit = a.Membership.CreditLimit
			s.CreditUsed = &used
		}
		out = append(out, s)
	}
	return out, nil
}

// Detail returns the wallet, its balance and every member. Owners, members
// and administrators may read it. Access is always decided from the
// repository; the cache only serves the projection.
func (q *QueryService) Detail(ctx context.Context, p auth.Principal, walletUID string) (Detail, error) {
	if err := q.authorizeRead(ctx, p, walletUID); err != nil {
		return Detail{}, err
	}
	if d, ok := q.cache.Get(ctx, walletUID); ok {
		return d, nil
	}

	gen, cacheable := q.cache.Generation(ctx, walletUID)
	w, err := q.repo.GetWallet(ctx, walletUID)
	if err != nil {
		return Detail{}, err
	}
	balance, err := q.balances.Balance(ctx, w.AccountCode)
	if err != nil {
		return Detail{}, err
	}
	members, err := q.repo.ListMembers(ctx, w.UID)
	if err != nil {
		return Detail{}, err
	}
	d := Detail{Wallet: w, Balance: balance, Members: members}
	if cacheable {
		q.cache.Set(ctx, d, gen)
	}
	return d, nil
}

// PersonalBalance returns the caller's own balance, which redemptions credit.
func (q *QueryService) PersonalBalance(ctx context.Context, p auth.Principal) (int64, error) {
	if !p.Authenticated() {
		return 0, fmt.Errorf("read balance: %w", apperr.ErrForbidden)
	}
	return q.balances.Balance(ctx, ledger.UserAccount(p.UserID))
}

func (q *QueryService) authorizeRead(ctx context.Context, p auth.Principal, walletUID string) error {
	w, err := q.repo.GetWallet(ctx, walletUID)
	if err != nil {
		return err
	}
	if p.Admin || (p.Authenticated() && w.OwnerID == p.UserID) {
		return nil
	}
	if !p.Authenticated() {
		return fmt.Errorf("read wallet %s: %w", walletUID, apperr.ErrForbidden)
	}
	if _, err := q.repo.GetMember(ctx, walletUID, p.UserID); err != nil {
		if errors.Is(err, apperr.ErrMemberNotFound) {
			return fmt.Errorf("read wallet %s: %w", walletUID, apperr.ErrForbidden)
		}
		return err
	}
	return nil
}
