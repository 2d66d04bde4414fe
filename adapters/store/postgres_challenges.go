package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/veridoc/authgate/core"
)

// PostgresChallengeStore persists sign-in challenges.
type PostgresChallengeStore struct {
	db *sql.DB
}

const challengeColumns = `id, address, nonce, message, issued_at, expires_at, used, used_at, ip, user_agent`

// Create supersedes any unused challenge for the address and inserts the
// new row in a single transaction, so the single-active-challenge
// invariant holds even under concurrent requests for the same address.
func (s *PostgresChallengeStore) Create(ctx context.Context, challenge *core.Challenge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.StoreError("begin challenge tx", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE challenges
		SET used = TRUE, used_at = $2
		WHERE address = $1 AND used = FALSE
	`, challenge.Address, now); err != nil {
		return core.StoreError("supersede challenges", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO challenges (id, address, nonce, message, issued_at, expires_at, used, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8)
	`, challenge.ID, challenge.Address, challenge.Nonce, challenge.Message,
		challenge.IssuedAt.UTC(), challenge.ExpiresAt.UTC(),
		nullableString(challenge.IP), nullableString(challenge.UserAgent)); err != nil {
		return core.StoreError("insert challenge", err)
	}

	if err := tx.Commit(); err != nil {
		return core.StoreError("commit challenge tx", err)
	}
	return nil
}

// ActiveForAddress returns the newest unused, unexpired challenge for the
// address, or nil when none exists.
func (s *PostgresChallengeStore) ActiveForAddress(ctx context.Context, address string) (*core.Challenge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+challengeColumns+`
		FROM challenges
		WHERE address = $1 AND used = FALSE AND expires_at > $2
		ORDER BY issued_at DESC
		LIMIT 1
	`, address, time.Now().UTC())
	return scanChallenge(row, "query active challenge")
}

// ByID returns the challenge with the given id, or nil.
func (s *PostgresChallengeStore) ByID(ctx context.Context, id string) (*core.Challenge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+challengeColumns+`
		FROM challenges
		WHERE id = $1
	`, id)
	return scanChallenge(row, "query challenge by id")
}

// ByNonce returns the challenge carrying the given nonce, or nil.
func (s *PostgresChallengeStore) ByNonce(ctx context.Context, nonce string) (*core.Challenge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+challengeColumns+`
		FROM challenges
		WHERE nonce = $1
	`, nonce)
	return scanChallenge(row, "query challenge by nonce")
}

// MarkUsed is the sole replay guard: the conditional update lets
// concurrent verifications race safely, with exactly one winner.
func (s *PostgresChallengeStore) MarkUsed(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE challenges
		SET used = TRUE, used_at = $2
		WHERE id = $1 AND used = FALSE
	`, id, time.Now().UTC())
	if err != nil {
		return false, core.StoreError("mark challenge used", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, core.StoreError("mark challenge used rows", err)
	}
	return affected > 0, nil
}

// DeleteExpired purges challenges that expired before cutoff.
func (s *PostgresChallengeStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM challenges WHERE expires_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, core.StoreError("delete expired challenges", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, core.StoreError("delete expired challenges rows", err)
	}
	return affected, nil
}

func scanChallenge(row *sql.Row, op string) (*core.Challenge, error) {
	var c core.Challenge
	var usedAt sql.NullTime
	var ip, agent sql.NullString
	err := row.Scan(&c.ID, &c.Address, &c.Nonce, &c.Message, &c.IssuedAt, &c.ExpiresAt, &c.Used, &usedAt, &ip, &agent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, core.StoreError(op, err)
	}
	c.IssuedAt = c.IssuedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.UsedAt = scanTimePtr(usedAt)
	c.IP = ip.String
	c.UserAgent = agent.String
	return &c, nil
}
