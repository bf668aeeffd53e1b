package redemption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kittybank/kitty/internal/apperr"
	"github.com/kittybank/kitty/internal/auth"
)

// DefaultMaxAttempts bounds code generation retries on collision.
const DefaultMaxAttempts = 5

// Registry issues and lists redemption codes on behalf of administrators.
type Registry struct {
	repo        Repository
	generate    Generator
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

// NewRegistry wires a registry. A nil generator falls back to
// RandomGenerator(DefaultCodeLength); maxAttempts <= 0 means DefaultMaxAttempts.
func NewRegistry(repo Repository, generate Generator, maxAttempts int, logger *slog.Logger) *Registry {
	if generate == nil {
		generate = RandomGenerator(DefaultCodeLength)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Registry{
		repo:        repo,
		generate:    generate,
		maxAttempts: maxAttempts,
		now:         time.Now,
		logger:      logger,
	}
}

// CanIssue reports ErrForbidden unless p may issue and list codes.
func CanIssue(p auth.Principal) error {
	if !p.Admin {
		return fmt.Errorf("manage redemption codes: %w", apperr.ErrForbidden)
	}
	return nil
}

// Create stores a new active code worth in.Amount.
func (r *Registry) Create(ctx context.Context, p auth.Principal, in CreateInput) (Code, error) {
	if err := CanIssue(p); err != nil {
		return Code{}, err
	}
	if in.Amount <= 0 {
		return Code{}, fmt.Errorf("code amount %d: %w", in.Amount, apperr.ErrInvalidAmount)
	}

	remark := in.Remark
	if remark != nil {
		trimmed := strings.TrimSpace(*remark)
		remark = &trimmed
	}
	var expiredAt *time.Time
	if in.ExpiredAt != nil {
		t := in.ExpiredAt.UTC()
		expiredAt = &t
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		value, err := r.generate()
		if err != nil {
			return Code{}, err
		}
		code := Code{
			Code:      value,
			Amount:    in.Amount,
			Remark:    remark,
			ExpiredAt: expiredAt,
			CreatedAt: r.now().UTC(),
		}
		err = r.repo.Create(ctx, code)
		if errors.Is(err, ErrDuplicateCode) {
			r.logger.Warn("redemption code collision", slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return Code{}, err
		}
		r.logger.Info("redemption.code_created",
			slog.String("created_by", p.UserID),
			slog.Int64("amount", code.Amount),
		)
		return code, nil
	}
	return Code{}, fmt.Errorf("after %d attempts: %w", r.maxAttempts, apperr.ErrGenerationExhausted)
}

// ListAll returns every code, newest first.
func (r *Registry) ListAll(ctx context.Context, p auth.Principal) ([]Code, error) {
	if err := CanIssue(p); err != nil {
		return nil, err
	}
	return r.repo.List(ctx)
}
