package wallet

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

// Repository persists wallets and member rows.
type Repository interface {
	CreateWallet(ctx context.Context, w Wallet) error
	GetWallet(ctx context.Context, uid string) (Wallet, error)
	// LockWallet reads a wallet and, inside a transaction, holds it until
	// commit so membership changes on one wallet serialize.
	LockWallet(ctx context.Context, uid string) (Wallet, error)
	ListAccessible(ctx context.Context, identity string) ([]Access, error)

	GetMember(ctx context.Context, walletUID, memberUID string) (Member, error)
	ListMembers(ctx context.Context, walletUID string) ([]Member, error)
	InsertMember(ctx context.Context, m Member) error
	DeleteMember(ctx context.Context, walletUID, memberUID string) error
	UpdateMember(ctx context.Context, walletUID, memberUID string, alias *string, creditLimit *int64, at time.Time) (Member, error)
	ResetCreditUsed(ctx context.Context, walletUID, memberUID string, at time.Time) (Member, error)
	// AddCreditUsed raises CreditUsed by amount only if the result stays
	// within the member's limit.
	AddCreditUsed(ctx context.Context, walletUID, memberUID string, amount int64, at time.Time) (Member, error)
}

const uniqueViolation = "23505"

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db ledger.DBTX
}

// NewPostgresRepository builds a repository on a pool or an open transaction.
func NewPostgresRepository(db ledger.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const (
	walletColumns = `uid, owner_id, name, account_code, created_at`
	memberColumns = `wallet_uid, member_uid, alias, credit_limit, credit_used, created_at, updated_at`
)

// CreateWallet inserts a wallet record.
func (r *PostgresRepository) CreateWallet(ctx context.Context, w Wallet) error {
	_, err := r.db.Exec(ctx, `INSERT INTO wallets (uid, owner_id, name, account_code, created_at)
        VALUES ($1, $2, $3, $4, $5)`, w.UID, w.OwnerID, w.Name, w.AccountCode, w.CreatedAt.UTC())
	return apperr.Storage("insert wallet", err)
}

// GetWallet fetches wallet metadata by uid.
func (r *PostgresRepository) GetWallet(ctx context.Context, uid string) (Wallet, error) {
	return r.getWallet(ctx, `SELECT `+walletColumns+` FROM wallets WHERE uid = $1`, uid)
}

// LockWallet is GetWallet with a row lock.
func (r *PostgresRepository) LockWallet(ctx context.Context, uid string) (Wallet, error) {
	return r.getWallet(ctx, `SELECT `+walletColumns+` FROM wallets WHERE uid = $1 FOR UPDATE`, uid)
}

func (r *PostgresRepository) getWallet(ctx context.Context, query, uid string) (Wallet, error) {
	var w Wallet
	err := r.db.QueryRow(ctx, query, uid).Scan(&w.UID, &w.OwnerID, &w.Name, &w.AccountCode, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, fmt.Errorf("wallet %s: %w", uid, apperr.ErrWalletNotFound)
		}
		return Wallet{}, apperr.Storage("read wallet", err)
	}
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}

// ListAccessible returns wallets the identity owns or is a member of, oldest first.
func (r *PostgresRepository) ListAccessible(ctx context.Context, identity string) ([]Access, error) {
	rows, err := r.db.Query(ctx, `
        SELECT w.uid, w.owner_id, w.name, w.account_code, w.created_at,
               m.member_uid, m.alias, m.credit_limit, m.credit_used, m.created_at, m.updated_at
        FROM wallets w
        LEFT JOIN wallet_members m ON m.wallet_uid = w.uid AND m.member_uid = $1
        WHERE w.owner_id = $1 OR m.member_uid IS NOT NULL
        ORDER BY w.created_at ASC, w.uid ASC`, identity)
	if err != nil {
		return nil, apperr.Storage("list wallets", err)
	}
	defer rows.Close()

	out := make([]Access, 0)
	for rows.Next() {
		var (
			w          Wallet
			memberUID  *string
			alias      *string
			limit      *int64
			used       *int64
			mCreatedAt *time.Time
			mUpdatedAt *time.Time
		)
		if err := rows.Scan(&w.UID, &w.OwnerID, &w.Name, &w.AccountCode, &w.CreatedAt,
			&memberUID, &alias, &limit, &used, &mCreatedAt, &mUpdatedAt); err != nil {
			return nil, apperr.Storage("scan wallet", err)
		}
		w.CreatedAt = w.CreatedAt.UTC()
		access := Access{Wallet: w}
		if memberUID != nil {
			access.Membership = &Member{
				WalletUID:   w.UID,
				MemberUID:   *memberUID,
				Alias:       deref(alias),
				CreditLimit: limit,
				CreditUsed:  deref(used),
				CreatedAt:   deref(mCreatedAt).UTC(),
				UpdatedAt:   deref(mUpdatedAt).UTC(),
			}
		}
		out = append(out, access)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list wallets", err)
	}
	return out, nil
}

// GetMember fetches a member row.
func (r *PostgresRepository) GetMember(ctx context.Context, walletUID, memberUID string) (Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `SELECT `+memberColumns+`
        FROM wallet_members WHERE wallet_uid = $1 AND member_uid = $2`, walletUID, memberUID))
	if err != nil {
		return Member{}, memberErr(walletUID, memberUID, "read member", err)
	}
	return m, nil
}

// ListMembers returns a wallet's members in join order.
func (r *PostgresRepository) ListMembers(ctx context.Context, walletUID string) ([]Member, error) {
	rows, err := r.db.Query(ctx, `SELECT `+memberColumns+`
        FROM wallet_members WHERE wallet_uid = $1 ORDER BY created_at ASC, member_uid ASC`, walletUID)
	if err != nil {
		return nil, apperr.Storage("list members", err)
	}
	defer rows.Close()

	members := make([]Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, apperr.Storage("scan member", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list members", err)
	}
	return members, nil
}

// InsertMember adds a member row; an existing row is ErrAlreadyMember.
func (r *PostgresRepository) InsertMember(ctx context.Context, m Member) error {
	_, err := r.db.Exec(ctx, `INSERT INTO wallet_members (`+memberColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.WalletUID, m.MemberUID, m.Alias, m.CreditLimit, m.CreditUsed, m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("member %s of wallet %s: %w", m.MemberUID, m.WalletUID, apperr.ErrAlreadyMember)
		}
		return apperr.Storage("insert member", err)
	}
	return nil
}

// DeleteMember removes a member row.
func (r *PostgresRepository) DeleteMember(ctx context.Context, walletUID, memberUID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM wallet_members WHERE wallet_uid = $1 AND member_uid = $2`, walletUID, memberUID)
	if err != nil {
		return apperr.Storage("delete member", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("member %s of wallet %s: %w", memberUID, walletUID, apperr.ErrMemberNotFound)
	}
	return nil
}

// UpdateMember applies non-nil fields. A limit below credit_used does not match.
func (r *PostgresRepository) UpdateMember(ctx context.Context, walletUID, memberUID string, alias *string, creditLimit *int64, at time.Time) (Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `
        UPDATE wallet_members
        SET alias = COALESCE($3, alias),
            credit_limit = COALESCE($4, credit_limit),
            updated_at = $5
        WHERE wallet_uid = $1 AND member_uid = $2
          AND ($4::BIGINT IS NULL OR $4::BIGINT >= credit_used)
        RETURNING `+memberColumns, walletUID, memberUID, alias, creditLimit, at.UTC()))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Member{}, apperr.Storage("update member", err)
	}
	if _, err := r.GetMember(ctx, walletUID, memberUID); err != nil {
		return Member{}, err
	}
	return Member{}, fmt.Errorf("member %s of wallet %s: %w", memberUID, walletUID, apperr.ErrCreditLimitBelowUsed)
}

// ResetCreditUsed zeroes credit_used.
func (r *PostgresRepository) ResetCreditUsed(ctx context.Context, walletUID, memberUID string, at time.Time) (Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `
        UPDATE wallet_members SET credit_used = 0, updated_at = $3
        WHERE wallet_uid = $1 AND member_uid = $2
        RETURNING `+memberColumns, walletUID, memberUID, at.UTC()))
	if err != nil {
		return Member{}, memberErr(walletUID, memberUID, "reset credit used", err)
	}
	return m, nil
}

// AddCreditUsed is a single conditional update so the limit check and the
// increment cannot interleave with another spend.
func (r *PostgresRepository) AddCreditUsed(ctx context.Context, walletUID, memberUID string, amount int64, at time.Time) (Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `
        UPDATE wallet_members SET credit_used = credit_used + $3, updated_at = $4
        WHERE wallet_uid = $1 AND member_uid = $2
          AND (credit_limit IS NULL OR credit_used + $3 <= credit_limit)
        RETURNING `+memberColumns, walletUID, memberUID, amount, at.UTC()))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Member{}, apperr.Storage("add credit used", err)
	}
	if _, err := r.GetMember(ctx, walletUID, memberUID); err != nil {
		return Member{}, err
	}
	return Member{}, fmt.Errorf("member %s of wallet %s: %w", memberUID, walletUID, apperr.ErrCreditLimitExceeded)
}

func scanMember(row pgx.Row) (Member, error) {
	var m Member
	if err := row.Scan(&m.WalletUID, &m.MemberUID, &m.Alias, &m.CreditLimit, &m.CreditUsed, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Member{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func memberErr(walletUID, memberUID, op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("member %s of wallet %s: %w", memberUID, walletUID, apperr.ErrMemberNotFound)
	}
	return apperr.Storage(op, err)
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}
