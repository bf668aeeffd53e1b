package redemption

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kittybank/kitty/internal/apperr"
	"github.com/kittybank/kitty/internal/auth"
	"github.com/kittybank/kitty/internal/ledger"
	"github.com/kittybank/kitty/internal/metrics"
	"github.com/kittybank/kitty/internal/money"
	"github.com/kittybank/kitty/internal/notification"
)

// DefaultStorageTimeout bounds one redemption unit of work.
const DefaultStorageTimeout = 5 * time.Second

// Engine turns a code into personal balance, exactly once.
type Engine struct {
	tx       TxRunner
	timeout  time.Duration
	now      func() time.Time
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewEngine wires an engine. timeout <= 0 means DefaultStorageTimeout.
func NewEngine(tx TxRunner, timeout time.Duration, notifier notification.Notifier, logger *slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultStorageTimeout
	}
	return &Engine{
		tx:       tx,
		timeout:  timeout,
		now:      time.Now,
		notifier: notifier,
		logger:   logger,
	}
}

// Redeem marks code as redeemed by the caller and credits its amount to the
// caller's personal balance, returning the new balance. The unit is detached
// from ctx cancellation so a disconnecting client cannot leave it half done;
// it is still bounded by the engine timeout.
func (e *Engine) Redeem(ctx context.Context, p auth.Principal, code string) (int64, error) {
	if !p.Authenticated() {
		return 0, fmt.Errorf("redeem: %w", apperr.ErrForbidden)
	}
	code = NormalizeCode(code)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	var (
		redeemed Code
		balance  int64
	)
	err := e.tx.InTx(ctx, func(codes Repository, balances ledger.Store) error {
		c, err := codes.MarkRedeemed(ctx, code, p.UserID, e.now())
		if err != nil {
			return err
		}
		bal, err := balances.Credit(ctx, ledger.UserAccount(p.UserID), c.Amount)
		if err != nil {
			return err
		}
		redeemed, balance = c, bal
		return nil
	})
	metrics.Redemptions.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		if apperr.Retryable(err) {
			e.logger.Error("redemption failed", slog.String("user_id", p.UserID), slog.Any("error", err))
		} else {
			e.logger.Info("redemption rejected", slog.String("user_id", p.UserID), slog.String("reason", apperr.CodeOf(err)))
		}
		return 0, err
	}

	e.logger.Info("redemption.redeemed",
		slog.String("user_id", p.UserID),
		slog.Int64("amount", redeemed.Amount),
		slog.Int64("balance", balance),
	)
	if e.notifier != nil {
		msg := notification.Message{
			Kind:        notification.KindCodeRedeemed,
			Destination: p.UserID,
			Body:        fmt.Sprintf("redeemed %s, balance is now %s", money.Format(redeemed.Amount), money.Format(balance)),
		}
		if err := e.notifier.Send(ctx, msg); err != nil {
			e.logger.Warn("notification failed", slog.String("kind", msg.Kind), slog.Any("error", err))
		}
	}
	return balance, nil
}

// NormalizeCode trims whitespace and upper-cases user input.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
