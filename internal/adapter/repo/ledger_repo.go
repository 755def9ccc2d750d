package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"artforge/internal/domain"
)

// LedgerPG implements domain.Ledger on top of the users table.
//
// Reserve relies on a conditional UPDATE: the balance check and the
// decrement happen in one statement under row-level locking, so two
// concurrent reservations against a borderline balance can never both
// succeed. No application-side lock is needed.
type LedgerPG struct {
	pool *pgxpool.Pool
}

// NewLedger creates a coin ledger backed by PostgreSQL.
func NewLedger(pool *pgxpool.Pool) *LedgerPG {
	return &LedgerPG{pool: pool}
}

// Reserve atomically debits amount from the user's balance. Returns
// domain.ErrInsufficientCoins when the balance is too low and
// domain.ErrNotFound for an unknown user.
func (l *LedgerPG) Reserve(ctx context.Context, userID string, amount int64) error {
	query := `
UPDATE users
SET coins = coins - $2, updated_at = NOW()
WHERE id = $1 AND coins >= $2;
`
	tag, err := l.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows means either an unknown user or a short balance.
	if _, err := l.Balance(ctx, userID); err != nil {
		return err
	}
	return domain.ErrInsufficientCoins
}

// Refund credits amount back unconditionally. At-most-once semantics are the
// caller's responsibility and are enforced by the task's failed transition.
func (l *LedgerPG) Refund(ctx context.Context, userID string, amount int64) error {
	return l.Credit(ctx, userID, amount)
}

// Credit adds coins to the user's balance.
func (l *LedgerPG) Credit(ctx context.Context, userID string, amount int64) error {
	query := `
UPDATE users
SET coins = coins + $2, updated_at = NOW()
WHERE id = $1;
`
	tag, err := l.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Balance returns the user's current coin balance.
func (l *LedgerPG) Balance(ctx context.Context, userID string) (int64, error) {
	var coins int64
	err := l.pool.QueryRow(ctx, `SELECT coins FROM users WHERE id = $1;`, userID).Scan(&coins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return coins, nil
}

// IncrementWorks bumps the user's lifetime completed-works counter.
func (l *LedgerPG) IncrementWorks(ctx context.Context, userID string) error {
	query := `
UPDATE users
SET works_count = works_count + 1, updated_at = NOW()
WHERE id = $1;
`
	_, err := l.pool.Exec(ctx, query, userID)
	return err
}
