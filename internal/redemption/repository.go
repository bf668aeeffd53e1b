package redemption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kittybank/kitty/internal/apperr"
	"github.com/kittybank/kitty/internal/ledger"
)

// ErrDuplicateCode is returned by Create when the code string is taken.
var ErrDuplicateCode = errors.New("duplicate redemption code")

const uniqueViolation = "23505"

// Repository persists redemption codes.
type Repository interface {
	Create(ctx context.Context, code Code) error
	Get(ctx context.Context, code string) (Code, error)
	List(ctx context.Context) ([]Code, error)
	// MarkRedeemed is the only state transition. Of several concurrent calls
	// for the same code exactly one succeeds.
	MarkRedeemed(ctx context.Context, code, by string, at time.Time) (Code, error)
}

// PostgresRepository stores codes in the redemption_codes table.
type PostgresRepository struct {
	db ledger.DBTX
}

// NewPostgresRepository builds a repository on a pool or an open transaction.
func NewPostgresRepository(db ledger.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const codeColumns = `code, amount, remark, expired_at, redeemed, redeemed_by, redeemed_at, created_at`

// Create inserts an active code.
func (r *PostgresRepository) Create(ctx context.Context, code Code) error {
	_, err := r.db.Exec(ctx, `INSERT INTO redemption_codes (code, amount, remark, expired_at, redeemed, created_at)
        VALUES ($1, $2, $3, $4, FALSE, $5)`, code.Code, code.Amount, code.Remark, code.ExpiredAt, code.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateCode
		}
		return apperr.Storage("insert redemption code", err)
	}
	return nil
}

// Get fetches a code by its string.
func (r *PostgresRepository) Get(ctx context.Context, code string) (Code, error) {
	row := r.db.QueryRow(ctx, `SELECT `+codeColumns+` FROM redemption_codes WHERE code = $1`, code)
	c, err := scanCode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, fmt.Errorf("code %q: %w", code, apperr.ErrCodeNotFound)
		}
		return Code{}, apperr.Storage("read redemption code", err)
	}
	return c, nil
}

// List returns every code, newest first.
func (r *PostgresRepository) List(ctx context.Context) ([]Code, error) {
	rows, err := r.db.Query(ctx, `SELECT `+codeColumns+` FROM redemption_codes ORDER BY created_at DESC, code ASC`)
	if err != nil {
		return nil, apperr.Storage("list redemption codes", err)
	}
	defer rows.Close()

	codes := make([]Code, 0)
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, apperr.Storage("scan redemption code", err)
		}
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list redemption codes", err)
	}
	return codes, nil
}

// MarkRedeemed flips an active, unexpired code in a single conditional
// update. Concurrent updates of the same row serialize on the row lock and
// the losers no longer match the WHERE clause.
func (r *PostgresRepository) MarkRedeemed(ctx context.Context, code, by string, at time.Time) (Code, error) {
	const query = `
        UPDATE redemption_codes
        SET redeemed = TRUE, redeemed_by = $2, redeemed_at = $3
        WHERE code = $1 AND redeemed = FALSE AND (expired_at IS NULL OR expired_at >= $3)
        RETURNING ` + codeColumns
	c, err := scanCode(r.db.QueryRow(ctx, query, code, by, at.UTC()))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Code{}, apperr.Storage("mark code redeemed", err)
	}

	current, err := r.Get(ctx, code)
	if err != nil {
		return Code{}, err
	}
	if err := rejection(current, at); err != nil {
		return Code{}, err
	}
	return Code{}, apperr.Storage("mark code redeemed", fmt.Errorf("code %q changed concurrently", code))
}

// rejection classifies why code cannot transition at the given time.
func rejection(c Code, at time.Time) error {
	if c.Redeemed {
		return fmt.Errorf("code %q: %w", c.Code, apperr.ErrAlreadyRedeemed)
	}
	if c.expiredAt(at) {
		return fmt.Errorf("code %q: %w", c.Code, apperr.ErrExpired)
	}
	return nil
}

func scanCode(row pgx.Row) (Code, error) {
	var c Code
	if err := row.Scan(&c.Code, &c.Amount, &c.Remark, &c.ExpiredAt, &c.Redeemed, &c.RedeemedBy, &c.RedeemedAt, &c.CreatedAt); err != nil {
		return Code{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}
