package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/veridoc/authgate/core"
)

// PostgresRateLimitStore is the append-only attempt log.
type PostgresRateLimitStore struct {
	db *sql.DB
}

// Insert records one attempt.
func (s *PostgresRateLimitStore) Insert(ctx context.Context, attempt *core.Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limit_attempts (id, identifier, limit_type, attempted_at, blocked_until)
		VALUES ($1, $2, $3, $4, $5)
	`, attempt.ID, attempt.Identifier, string(attempt.Type),
		attempt.AttemptedAt.UTC(), nullableTime(attempt.BlockedUntil))
	if err != nil {
		return core.StoreError("insert rate limit attempt", err)
	}
	return nil
}

// CountSince counts attempts in the trailing window.
func (s *PostgresRateLimitStore) CountSince(ctx context.Context, identifier string, typ core.LimitType, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM rate_limit_attempts
		WHERE identifier = $1 AND limit_type = $2 AND attempted_at > $3
	`, identifier, string(typ), since.UTC()).Scan(&count)
	if err != nil {
		return 0, core.StoreError("count rate limit attempts", err)
	}
	return count, nil
}

// LatestBlock returns the furthest active blocked-until, or nil.
func (s *PostgresRateLimitStore) LatestBlock(ctx context.Context, identifier string, typ core.LimitType, now time.Time) (*time.Time, error) {
	var until sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(blocked_until)
		FROM rate_limit_attempts
		WHERE identifier = $1 AND limit_type = $2 AND blocked_until > $3
	`, identifier, string(typ), now.UTC()).Scan(&until)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, core.StoreError("query rate limit block", err)
	}
	return scanTimePtr(until), nil
}

// DeleteBefore purges attempts older than cutoff.
func (s *PostgresRateLimitStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM rate_limit_attempts WHERE attempted_at < $1 AND (blocked_until IS NULL OR blocked_until < $1)
	`, cutoff.UTC())
	if err != nil {
		return 0, core.StoreError("delete rate limit attempts", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, core.StoreError("delete rate limit attempts rows", err)
	}
	return affected, nil
}
