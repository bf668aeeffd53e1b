package wallet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kittybank/kitty/internal/apperr"
)

type memberKey struct {
	wallet string
	member string
}

type memoryRepository struct {
	mu      sync.RWMutex
	wallets map[string]Wallet
	members map[memberKey]Member
}

// NewMemoryRepository constructs an in-memory repository for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		wallets: make(map[string]Wallet),
		members: make(map[memberKey]Member),
	}
}

func (r *memoryRepository) CreateWallet(_ context.Context, w Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.wallets[w.UID]; exists {
		return fmt.Errorf("wallet %s already exists", w.UID)
	}
	r.wallets[w.UID] = w
	return nil
}

func (r *memoryRepository) GetWallet(_ context.Context, uid string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[uid]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet %s: %w", uid, apperr.ErrWalletNotFound)
	}
	return w, nil
}

// LockWallet has nothing to lock: the in-memory runner serializes units.
func (r *memoryRepository) LockWallet(ctx context.Context, uid string) (Wallet, error) {
	return r.GetWallet(ctx, uid)
}

func (r *memoryRepository) ListAccessible(_ context.Context, identity string) ([]Access, error) {
	r.mu.RLock()
	out := make([]Access, 0)
	for _, w := range r.wallets {
		if w.OwnerID == identity {
			out = append(out, Access{Wallet: w})
			continue
		}
		if m, ok := r.members[memberKey{wallet: w.UID, member: identity}]; ok {
			m := m
			out = append(out, Access{Wallet: w, Membership: &m})
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Wallet, out[j].Wallet
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.UID < b.UID
	})
	return out, nil
}

func (r *memoryRepository) GetMember(_ context.Context, walletUID, memberUID string) (Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.member(walletUID, memberUID)
}

func (r *memoryRepository) member(walletUID, memberUID string) (Member, error) {
	m, ok := r.members[memberKey{wallet: walletUID, member: memberUID}]
	if !ok {
		return Member{}, fmt.Errorf("member %s of wallet %s: %w", memberUID, walletUID, apperr.ErrMemberNotFound)
	}
	return m, nil
}

func (r *memoryRepository) ListMembers(_ context.Context, walletUID string) ([]Member, error) {
	r.mu.RLock()
	members := make([]Member, 0)
	for k, m := range r.members {
		if k.wallet == walletUID {
			members = append(members, m)
		}
	}
	r.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		if !members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].CreatedAt.Before(members[j].CreatedAt)
		}
		return members[i].MemberUID < members[j].MemberUID
	})
	return members, nil
}

func (r *memoryRepository) InsertMember(_ context.Context, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memberKey{wallet: m.WalletUID, member: m.MemberUID}
	if _, exists := r.members[key]; exists {
		return fmt.Errorf("member %s of wallet %s: %w", m.MemberUID, m.WalletUID, apperr.ErrAlreadyMember)
	}
	r.members[key] = m
	return nil
}

func (r *memoryRepository) DeleteMember(_ context.Context, walletUID, memberUID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.member(walletUID, memberUID); err != nil {
		return err
	}
	delete(r.members, memberKey{wallet: walletUID, member: memberUID})
	return nil
}

func (r *memoryRepository) UpdateMember(_ context.Context, walletUID, memberUID string, alias *string, creditLimit *int64, at time.Time) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.member(walletUID, memberUID)
	if err != nil {
		return Member{}, err
	}
	if creditLimit != nil && *creditLimit < m.CreditUsed {
		return Member{}, fmt.Errorf("member %s of wallet %s: %w", memberUID, walletUID, apperr.ErrCreditLimitBelowUsed)
	}
	if alias != nil {
		m.Alias = *alias
	}
	if creditLimit != nil {
		limit := *creditLimit
		m.CreditLimit = &limit
	}
	m.UpdatedAt = at.UTC()
	r.members[memberKey{wallet: walletUID, member: memberUID}] = m
	return m, nil
}

func (r *memoryRepository) ResetCreditUsed(_ context.Context, walletUID, memberUID string, at time.Time) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.member(walletUID, memberUID)
	if err != nil {
		return Member{}, err
	}
	m.CreditUsed = 0
	m.UpdatedAt = at.UTC()
	r.members[memberKey{wallet: walletUID, member: memberUID}] = m
	return m, nil
}

func (r *memoryRepository) AddCreditUsed(_ context.Context, walletUID, memberUID string, amount int64, at time.Time) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.member(walletUID, memberUID)
	if err != nil {
		return Member{}, err
	}
	if m.CreditLimit != nil && m.CreditUsed+amount > *m.CreditLimit {
		return Member{}, fmt.Errorf("member %s of wallet %s: %w", memberUID, walletUID, apperr.ErrCreditLimitExceeded)
	}
	m.CreditUsed += amount
	m.UpdatedAt = at.UTC()
	r.members[memberKey{wallet: walletUID, member: memberUID}] = m
	return m, nil
}
