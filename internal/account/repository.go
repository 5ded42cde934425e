package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abduss/appdrive/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repositoryTimeout = 5 * time.Second

const accountColumns = `uid, status, plan_id, used_bytes, pending_bytes, storage_cap_bytes, created_at, updated_at`

// Repository persists accounts. Every counter mutation is a single conditional
// UPDATE on the account row, so concurrent writers never lose updates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs an account repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ensure inserts the account when absent and returns the stored row.
func (r *Repository) Ensure(ctx context.Context, uid, planID string, capBytes int64) (Account, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	conn := storage.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `
INSERT INTO accounts (uid, status, plan_id, storage_cap_bytes)
VALUES ($1, 'active', $2, $3)
ON CONFLICT (uid) DO NOTHING;`, uid, planID, capBytes); err != nil {
		return Account{}, storage.Classify(fmt.Errorf("ensure account: %w", err))
	}

	return scanAccount(conn.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE uid = $1;`, uid), "get account")
}

// Get fetches an account.
func (r *Repository) Get(ctx context.Context, uid string) (Account, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	row := storage.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE uid = $1;`, uid)
	return scanAccount(row, "get account")
}

// Reserve adds bytes to pending_bytes when the cap allows it.
func (r *Repository) Reserve(ctx context.Context, uid string, bytes int64) (Account, error) {
	query := `
UPDATE accounts
SET pending_bytes = pending_bytes + $2,
    updated_at    = NOW()
WHERE uid = $1
  AND used_bytes + pending_bytes + $2 <= storage_cap_bytes
RETURNING ` + accountColumns + `;`

	acct, err := r.update(ctx, "reserve quota", query, uid, bytes)
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, r.explainMiss(ctx, uid, ErrQuotaExceeded)
	}
	return acct, err
}

// Commit moves bytes from pending_bytes to used_bytes.
func (r *Repository) Commit(ctx context.Context, uid string, bytes int64) (Account, error) {
	query := `
UPDATE accounts
SET pending_bytes = pending_bytes - $2,
    used_bytes    = used_bytes + $2,
    updated_at    = NOW()
WHERE uid = $1
  AND pending_bytes >= $2
RETURNING ` + accountColumns + `;`

	acct, err := r.update(ctx, "commit quota", query, uid, bytes)
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, r.explainMiss(ctx, uid, ErrReservationMissing)
	}
	return acct, err
}

// Release removes bytes from pending_bytes, never going below zero.
func (r *Repository) Release(ctx context.Context, uid string, bytes int64) (Account, error) {
	query := `
UPDATE accounts
SET pending_bytes = GREATEST(pending_bytes - $2, 0),
    updated_at    = NOW()
WHERE uid = $1
RETURNING ` + accountColumns + `;`

	return r.update(ctx, "release quota", query, uid, bytes)
}

// Free removes bytes from used_bytes, never going below zero.
func (r *Repository) Free(ctx context.Context, uid string, bytes int64) (Account, error) {
	query := `
UPDATE accounts
SET used_bytes = GREATEST(used_bytes - $2, 0),
    updated_at = NOW()
WHERE uid = $1
RETURNING ` + accountColumns + `;`

	return r.update(ctx, "free quota", query, uid, bytes)
}

// ChangePlan switches the account to a plan whose cap still covers usage.
func (r *Repository) ChangePlan(ctx context.Context, uid, planID string, capBytes int64) (Account, error) {
	query := `
UPDATE accounts
SET plan_id           = $2,
    storage_cap_bytes = $3,
    updated_at        = NOW()
WHERE uid = $1
  AND used_bytes + pending_bytes <= $3
RETURNING ` + accountColumns + `;`

	acct, err := r.update(ctx, "change plan", query, uid, planID, capBytes)
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, r.explainMiss(ctx, uid, ErrPlanTooSmall)
	}
	return acct, err
}

// SetStatus updates the account status.
func (r *Repository) SetStatus(ctx context.Context, uid string, status Status) (Account, error) {
	query := `
UPDATE accounts
SET status = $2, updated_at = NOW()
WHERE uid = $1
RETURNING ` + accountColumns + `;`

	return r.update(ctx, "set status", query, uid, string(status))
}

func (r *Repository) update(ctx context.Context, op, query string, args ...any) (Account, error) {
	ctx, cancel := context.WithTimeout(ctx, repositoryTimeout)
	defer cancel()

	return scanAccount(storage.Conn(ctx, r.pool).QueryRow(ctx, query, args...), op)
}

// explainMiss distinguishes a missing account from a failed guard condition.
func (r *Repository) explainMiss(ctx context.Context, uid string, guardErr error) error {
	if _, err := r.Get(ctx, uid); err != nil {
		return err
	}
	return guardErr
}

func scanAccount(row pgx.Row, op string) (Account, error) {
	var (
		acct   Account
		status string
	)
	err := row.Scan(&acct.UID, &status, &acct.PlanID, &acct.UsedBytes, &acct.PendingBytes, &acct.StorageCapBytes, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, storage.Classify(fmt.Errorf("%s: %w", op, err))
	}
	acct.Status = Status(status)
	return acct, nil
}
