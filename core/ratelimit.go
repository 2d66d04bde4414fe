package core

import "time"

// LimitType distinguishes what kind of identifier a rate-limit attempt
// is recorded against.
type LimitType string

const (
	LimitAddress LimitType = "ADDRESS"
	LimitIP      LimitType = "IP"
)

// Attempt is one row of the append-only rate-limit log. BlockedUntil is
// set on the attempt that crossed a tier threshold; the block applies to
// every later attempt for the same (Identifier, Type) until it lapses.
type Attempt struct {
	ID           string
	Identifier   string
	Type         LimitType
	AttemptedAt  time.Time
	BlockedUntil *time.Time
}

// LimitStatus is the outcome of a rate-limit check or recording.
type LimitStatus struct {
	Blocked      bool      `json:"is_blocked"`
	BlockedUntil time.Time `json:"blocked_until,omitempty"`
	Attempts     int       `json:"attempt_count"`
}
