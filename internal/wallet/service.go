package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kittybank/kitty/internal/apperr"
	"github.com/kittybank/kitty/internal/auth"
	"github.com/kittybank/kitty/internal/ledger"
	"github.com/kittybank/kitty/internal/metrics"
	"github.com/kittybank/kitty/internal/money"
	"github.com/kittybank/kitty/internal/notification"
)

const (
	defaultWalletName     = "Shared wallet"
	defaultStorageTimeout = 5 * time.Second
)

// Manager owns every mutation of wallets, member rows and pooled balances.
// Each operation is one unit of work on the TxRunner, detached from caller
// cancellation and bounded by the storage timeout.
type Manager struct {
	tx       TxRunner
	cache    DetailCache
	notifier notification.Notifier
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewManager wires a manager. A nil cache disables caching; timeout <= 0
// uses 5s.
func NewManager(tx TxRunner, cache DetailCache, notifier notification.Notifier, logger *slog.Logger, timeout time.Duration) *Manager {
	if cache == nil {
		cache = NoopCache{}
	}
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	return &Manager{
		tx:       tx,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
		timeout:  timeout,
		now:      time.Now,
	}
}

// CreateWallet provisions a wallet owned by the caller with a zero balance.
func (m *Manager) CreateWallet(ctx context.Context, p auth.Principal, name string) (Wallet, error) {
	if !p.Authenticated() {
		return Wallet{}, fmt.Errorf("create wallet: %w", apperr.ErrForbidden)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultWalletName
	}
	uid := uuid.NewString()
	w := Wallet{
		UID:         uid,
		OwnerID:     p.UserID,
		Name:        name,
		AccountCode: ledger.WalletAccount(uid),
		CreatedAt:   m.now().UTC(),
	}

	err := m.run(ctx, "create_wallet", func(ctx context.Context, repo Repository, _ ledger.Store) error {
		return repo.CreateWallet(ctx, w)
	})
	if err != nil {
		return Wallet{}, err
	}
	m.logger.Info("wallet.created", slog.String("wallet_uid", w.UID), slog.String("owner_id", w.OwnerID))
	return w, nil
}

// AddMember grants MemberUID access with an optional credit limit.
func (m *Manager) AddMember(ctx context.Context, p auth.Principal, in AddMemberInput) (Member, error) {
	if in.CreditLimit != nil && *in.CreditLimit < 0 {
		return Member{}, fmt.Errorf("credit limit %d: %w", *in.CreditLimit, apperr.ErrInvalidAmount)
	}

	var added Member
	err := m.run(ctx, "add_member", func(ctx context.Context, repo Repository, _ ledger.Store) error {
		w, err := ownedWallet(ctx, repo, p, in.WalletUID)
		if err != nil {
			return err
		}
		if in.MemberUID == w.OwnerID {
			return fmt.Errorf("owner of wallet %s: %w", w.UID, apperr.ErrAlreadyMember)
		}
		now := m.now().UTC()
		added = Member{
			WalletUID:   w.UID,
			MemberUID:   in.MemberUID,
			Alias:       strings.TrimSpace(in.Alias),
			CreditLimit: in.CreditLimit,
			CreditUsed:  0,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return repo.InsertMember(ctx, added)
	})
	if err != nil {
		return Member{}, err
	}

	m.cache.Invalidate(context.WithoutCancel(ctx), in.WalletUID)
	m.logger.Info("wallet.member_added",
		slog.String("wallet_uid", in.WalletUID),
		slog.String("member_uid", in.MemberUID),
		slog.String("by", p.UserID),
	)
	if m.notifier != nil {
		msg := notification.Message{
			Kind:        notification.KindMemberAdded,
			Destination: in.MemberUID,
			Body:        fmt.Sprintf("you were added to wallet %s", in.WalletUID),
		}
		if err := m.notifier.Send(ctx, msg); err != nil {
			m.logger.Warn("notification failed", slog.String("kind", msg.Kind), slog.Any("error", err))
		}
	}
	return added, nil
}

// RemoveMember revokes a member's access. The pooled balance is untouched.
func (m *Manager) RemoveMember(ctx context.Context, p auth.Principal, walletUID, memberUID string) error {
	err := m.run(ctx, "remove_member", func(ctx context.Context, repo Repository, _ ledger.Store) error {
		if _, err := ownedWallet(ctx, repo, p, walletUID); err != nil {
			return err
		}
		return repo.DeleteMember(ctx, walletUID, memberUID)
	})
	if err != nil {
		return err
	}
	m.cache.Invalidate(context.WithoutCancel(ctx), walletUID)
	m.logger.Info("wallet.member_removed",
		slog.String("wallet_uid", walletUID),
		slog.String("member_uid", memberUID),
		slog.String("by", p.UserID),
	)
	return nil
}

// UpdateMember either resets CreditUsed or applies alias and limit changes.
func (m *Manager) UpdateMember(ctx context.Context, p auth.Principal, in UpdateMemberInput) (Member, error) {
	if !in.ResetCreditUsed && in.CreditLimit != nil && *in.CreditLimit < 0 {
		return Member{}, fmt.Errorf("credit limit %d: %w", *in.CreditLimit, apperr.ErrInvalidAmount)
	}
	op := "update_member"
	if in.ResetCreditUsed {
		op = "reset_credit_used"
	}

	var updated Member
	err := m.run(ctx, op, func(ctx context.Context, repo Repository, _ ledger.Store) error {
		if _, err := ownedWallet(ctx, repo, p, in.WalletUID); err != nil {
			return err
		}
		var err error
		switch {
		case in.ResetCreditUsed:
			updated, err = repo.ResetCreditUsed(ctx, in.WalletUID, in.MemberUID, m.now())
		case in.Alias == nil && in.CreditLimit == nil:
			updated, err = repo.GetMember(ctx, in.WalletUID, in.MemberUID)
		default:
			var alias *string
			if in.Alias != nil {
				trimmed := strings.TrimSpace(*in.Alias)
				alias = &trimmed
			}
			updated, err = repo.UpdateMember(ctx, in.WalletUID, in.MemberUID, alias, in.CreditLimit, m.now())
		}
		return err
	})
	if err != nil {
		return Member{}, err
	}
	m.cache.Invalidate(context.WithoutCancel(ctx), in.WalletUID)
	m.logger.Info("wallet."+op,
		slog.String("wallet_uid", in.WalletUID),
		slog.String("member_uid", in.MemberUID),
		slog.String("by", p.UserID),
	)
	return updated, nil
}

// Spend draws amount from the pooled balance. Members are held to their
// credit limit; the limit check, the increment and the debit commit together.
func (m *Manager) Spend(ctx context.Context, p auth.Principal, walletUID string, amount int64) (SpendResult, error) {
	if amount <= 0 {
		return SpendResult{}, fmt.Errorf("spend amount %d: %w", amount, apperr.ErrInvalidAmount)
	}

	var res SpendResult
	err := m.run(ctx, "spend", func(ctx context.Context, repo Repository, balances ledger.Store) error {
		w, member, err := accessibleWallet(ctx, repo, p, walletUID)
		if err != nil {
			return err
		}
		if member != nil && member.CreditLimit != nil && member.CreditUsed+amount > *member.CreditLimit {
			return fmt.Errorf("member %s of wallet %s: %w", p.UserID, w.UID, apperr.ErrCreditLimitExceeded)
		}
		balance, err := balances.Debit(ctx, w.AccountCode, amount)
		if err != nil {
			return err
		}
		res = SpendResult{Balance: balance}
		if member == nil {
			return nil
		}
		updated, err := repo.AddCreditUsed(ctx, w.UID, p.UserID, amount, m.now())
		if err != nil {
			if errors.Is(err, apperr.ErrMemberNotFound) {
				return fmt.Errorf("spend from wallet %s: %w", w.UID, apperr.ErrForbidden)
			}
			return err
		}
		res.CreditUsed = &updated.CreditUsed
		return nil
	})
	if err != nil {
		return SpendResult{}, err
	}
	m.cache.Invalidate(context.WithoutCancel(ctx), walletUID)
	m.logger.Info("wallet.spent",
		slog.String("wallet_uid", walletUID),
		slog.String("by", p.UserID),
		slog.String("amount", money.Format(amount)),
	)
	return res, nil
}

// Fund moves amount from the caller's personal balance into the wallet.
func (m *Manager) Fund(ctx context.Context, p auth.Principal, walletUID string, amount int64) (FundResult, error) {
	if amount <= 0 {
		return FundResult{}, fmt.Errorf("fund amount %d: %w", amount, apperr.ErrInvalidAmount)
	}

	var res FundResult
	err := m.run(ctx, "fund", func(ctx context.Context, repo Repository, balances ledger.Store) error {
		w, _, err := accessibleWallet(ctx, repo, p, walletUID)
		if err != nil {
			return err
		}
		personal, err := balances.Debit(ctx, ledger.UserAccount(p.UserID), amount)
		if err != nil {
			return err
		}
		balance, err := balances.Credit(ctx, w.AccountCode, amount)
		if err != nil {
			return err
		}
		res = FundResult{Balance: balance, PersonalBalance: personal}
		return nil
	})
	if err != nil {
		return FundResult{}, err
	}
	m.cache.Invalidate(context.WithoutCancel(ctx), walletUID)
	m.logger.Info("wallet.funded",
		slog.String("wallet_uid", walletUID),
		slog.String("by", p.UserID),
		slog.String("amount", money.Format(amount)),
	)
	return res, nil
}

// run executes fn as one unit detached from caller cancellation and records
// its outcome.
func (m *Manager) run(ctx context.Context, op string, fn func(ctx context.Context, repo Repository, balances ledger.Store) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	err := m.tx.InTx(ctx, func(repo Repository, balances ledger.Store) error {
		return fn(ctx, repo, balances)
	})
	metrics.WalletOperations.WithLabelValues(op, metrics.Outcome(err)).Inc()
	if err != nil && apperr.Retryable(err) {
		m.logger.Error("wallet operation failed", slog.String("operation", op), slog.Any("error", err))
	}
	return err
}

// ownedWallet locks the wallet and requires the caller to own it.
func ownedWallet(ctx context.Context, repo Repository, p auth.Principal, walletUID string) (Wallet, error) {
	w, err := repo.LockWallet(ctx, walletUID)
	if err != nil {
		return Wallet{}, err
	}
	if !p.Authenticated() || w.OwnerID != p.UserID {
		return Wallet{}, fmt.Errorf("administer wallet %s: %w", walletUID, apperr.ErrForbidden)
	}
	return w, nil
}

// accessibleWallet requires the caller to be the owner or a member. The
// member row is nil for the owner.
func accessibleWallet(ctx context.Context, repo Repository, p auth.Principal, walletUID string) (Wallet, *Member, error) {
	w, err := repo.GetWallet(ctx, walletUID)
	if err != nil {
		return Wallet{}, nil, err
	}
	if !p.Authenticated() {
		return Wallet{}, nil, fmt.Errorf("access wallet %s: %w", walletUID, apperr.ErrForbidden)
	}
	if w.OwnerID == p.UserID {
		return w, nil, nil
	}
	member, err := repo.GetMember(ctx, walletUID, p.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrMemberNotFound) {
			return Wallet{}, nil, fmt.Errorf("access wallet %s: %w", walletUID, apperr.ErrForbidden)
		}
		return Wallet{}, nil, err
	}
	return w, &member, nil
}
