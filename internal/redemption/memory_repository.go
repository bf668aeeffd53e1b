package redemption

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kittybank/kitty/internal/apperr"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Code
}

// NewMemoryRepository constructs an in-memory repository for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Code)}
}

func (r *memoryRepository) Create(_ context.Context, code Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[code.Code]; exists {
		return ErrDuplicateCode
	}
	code.Redeemed = false
	code.RedeemedBy = nil
	code.RedeemedAt = nil
	r.storage[code.Code] = code
	return nil
}

func (r *memoryRepository) Get(_ context.Context, code string) (Code, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.storage[code]
	if !ok {
		return Code{}, fmt.Errorf("code %q: %w", code, apperr.ErrCodeNotFound)
	}
	return c, nil
}

func (r *memoryRepository) List(_ context.Context) ([]Code, error) {
	r.mu.RLock()
	codes := make([]Code, 0, len(r.storage))
	for _, c := range r.storage {
		codes = append(codes, c)
	}
	r.mu.RUnlock()

	sort.Slice(codes, func(i, j int) bool {
		if !codes[i].CreatedAt.Equal(codes[j].CreatedAt) {
			return codes[i].CreatedAt.After(codes[j].CreatedAt)
		}
		return codes[i].Code < codes[j].Code
	})
	return codes, nil
}

func (r *memoryRepository) MarkRedeemed(_ context.Context, code, by string, at time.Time) (Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.storage[code]
	if !ok {
		return Code{}, fmt.Errorf("code %q: %w", code, apperr.ErrCodeNotFound)
	}
	if err := rejection(c, at); err != nil {
		return Code{}, err
	}
	at = at.UTC()
	c.Redeemed = true
	c.RedeemedBy = &by
	c.RedeemedAt = &at
	r.storage[code] = c
	return c, nil
}

// revertRedemption puts a code back to active. Only the in-memory unit of
// work calls it, to compensate a mark whose credit failed.
func (r *memoryRepository) revertRedemption(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.storage[code]
	if !ok {
		return
	}
	c.Redeemed = false
	c.RedeemedBy = nil
	c.RedeemedAt = nil
	r.storage[code] = c
}
