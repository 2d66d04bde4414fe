package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"
)

// Postgres bundles the three relational stores over one connection pool.
// Every cross-request invariant is enforced here with conditional,
// transactional writes; nothing above this layer takes a lock.
type Postgres struct {
	Challenges *PostgresChallengeStore
	Tokens     *PostgresTokenStore
	RateLimits *PostgresRateLimitStore
}

// NewPostgres wires the stores over db. The pool is expected to be opened
// with the pgx stdlib driver by the caller.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{
		Challenges: &PostgresChallengeStore{db: db},
		Tokens:     &PostgresTokenStore{db: db},
		RateLimits: &PostgresRateLimitStore{db: db},
	}
}

func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	value := nt.Time.UTC()
	return &value
}
