package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/veridoc/authgate/core"
)

// PostgresTokenStore persists refresh tokens. Bearer values are digested
// before they touch a query.
type PostgresTokenStore struct {
	db *sql.DB
}

const tokenColumns = `id, address, token_hash, issued_at, expires_at, used, used_at, revoked, revoked_at, replaced_by, ip, user_agent`

// Create inserts a refresh token row for the given bearer value.
func (s *PostgresTokenStore) Create(ctx context.Context, token *core.RefreshToken, value string) error {
	token.TokenHash = hashToken(value)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, address, token_hash, issued_at, expires_at, used, revoked, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, FALSE, FALSE, $6, $7)
	`, token.ID, token.Address, token.TokenHash,
		token.IssuedAt.UTC(), token.ExpiresAt.UTC(),
		nullableString(token.IP), nullableString(token.UserAgent))
	if err != nil {
		return core.StoreError("insert refresh token", err)
	}
	return nil
}

// ByValue returns the token for the bearer value in whatever state it is
// in, or nil for an unknown value. The state is deliberately not filtered
// here so the service can distinguish a replayed spent token from an
// unknown one.
func (s *PostgresTokenStore) ByValue(ctx context.Context, value string) (*core.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM refresh_tokens
		WHERE token_hash = $1
	`, hashToken(value))
	return scanToken(row, "query refresh token by value")
}

// Rotate is the replay detector: the conditional update flips used on the
// still-live old row and the replacement is inserted in the same
// transaction. Zero affected rows means a second caller already rotated
// (or the token was revoked or expired) and surfaces as ErrTokenReuse;
// any insert failure rolls the whole operation back so the old token is
// never left used without a successor.
func (s *PostgresTokenStore) Rotate(ctx context.Context, oldID string, next *core.RefreshToken, nextValue string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.StoreError("begin rotation tx", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET used = TRUE, used_at = $3, replaced_by = $2
		WHERE id = $1 AND used = FALSE AND revoked = FALSE AND expires_at > $3
	`, oldID, next.ID, now)
	if err != nil {
		return core.StoreError("consume refresh token", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.StoreError("consume refresh token rows", err)
	}
	if affected == 0 {
		return core.ErrTokenReuse
	}

	next.TokenHash = hashToken(nextValue)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, address, token_hash, issued_at, expires_at, used, revoked, ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, FALSE, FALSE, $6, $7)
	`, next.ID, next.Address, next.TokenHash,
		next.IssuedAt.UTC(), next.ExpiresAt.UTC(),
		nullableString(next.IP), nullableString(next.UserAgent)); err != nil {
		return core.StoreError("insert rotated refresh token", err)
	}

	if err := tx.Commit(); err != nil {
		return core.StoreError("commit rotation tx", err)
	}
	return nil
}

// Revoke marks the token for the bearer value revoked.
func (s *PostgresTokenStore) Revoke(ctx context.Context, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = COALESCE(revoked_at, $2)
		WHERE token_hash = $1 AND revoked = FALSE
	`, hashToken(value), time.Now().UTC())
	if err != nil {
		return false, core.StoreError("revoke refresh token", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, core.StoreError("revoke refresh token rows", err)
	}
	return affected > 0, nil
}

// RevokeAllForAddress revokes every outstanding token for the address.
func (s *PostgresTokenStore) RevokeAllForAddress(ctx context.Context, address string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE address = $1 AND revoked = FALSE
	`, address, time.Now().UTC())
	if err != nil {
		return 0, core.StoreError("revoke tokens for address", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, core.StoreError("revoke tokens for address rows", err)
	}
	return affected, nil
}

// DeleteExpired purges tokens that expired before cutoff.
func (s *PostgresTokenStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, core.StoreError("delete expired tokens", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, core.StoreError("delete expired tokens rows", err)
	}
	return affected, nil
}

func scanToken(row *sql.Row, op string) (*core.RefreshToken, error) {
	var t core.RefreshToken
	var usedAt, revokedAt sql.NullTime
	var replacedBy, ip, agent sql.NullString
	err := row.Scan(&t.ID, &t.Address, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt,
		&t.Used, &usedAt, &t.Revoked, &revokedAt, &replacedBy, &ip, &agent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, core.StoreError(op, err)
	}
	t.IssuedAt = t.IssuedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.UsedAt = scanTimePtr(usedAt)
	t.RevokedAt = scanTimePtr(revokedAt)
	t.ReplacedBy = replacedBy.String
	t.IP = ip.String
	t.UserAgent = agent.String
	return &t, nil
}
