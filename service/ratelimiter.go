package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/veridoc/authgate/core"
	"github.com/veridoc/authgate/ports"
	"go.uber.org/zap"
)

// Tier maps an attempt-count threshold to the block duration applied
// once the threshold is exceeded inside the rolling window.
type Tier struct {
	Threshold int
	Block     time.Duration
}

// RateLimiterConfig holds the rolling window and the ascending tiers.
type RateLimiterConfig struct {
	Window time.Duration
	Tiers  []Tier
}

// DefaultRateLimiterConfig is the relaxed development configuration.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Window: time.Hour,
		Tiers: []Tier{
			{Threshold: 20, Block: time.Hour},
			{Threshold: 40, Block: 3 * time.Hour},
			{Threshold: 80, Block: 12 * time.Hour},
		},
	}
}

// RateLimiter tracks attempts per identifier over a rolling window and
// enforces escalating blocks. All state lives in the store; concurrent
// callers for the same identifier are tolerated because the decisive
// block is carried by the attempt rows themselves.
type RateLimiter struct {
	store  ports.RateLimitStore
	cfg    RateLimiterConfig
	logger *zap.Logger
}

// NewRateLimiter creates a limiter over the given attempt log.
func NewRateLimiter(store ports.RateLimitStore, cfg RateLimiterConfig, logger *zap.Logger) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &RateLimiter{store: store, cfg: cfg, logger: logger}
}

// Check reports the current limit state without recording anything.
func (l *RateLimiter) Check(ctx context.Context, identifier string, typ core.LimitType) (core.LimitStatus, error) {
	now := time.Now().UTC()

	until, err := l.store.LatestBlock(ctx, identifier, typ, now)
	if err != nil {
		return core.LimitStatus{}, err
	}
	count, err := l.store.CountSince(ctx, identifier, typ, now.Add(-l.cfg.Window))
	if err != nil {
		return core.LimitStatus{}, err
	}

	status := core.LimitStatus{Attempts: count}
	if until != nil {
		status.Blocked = true
		status.BlockedUntil = *until
	}
	return status, nil
}

// Record registers one attempt. An active block short-circuits without
// writing a row; otherwise the attempt is persisted even when it is the
// one that crosses a tier.
func (l *RateLimiter) Record(ctx context.Context, identifier string, typ core.LimitType) (core.LimitStatus, error) {
	now := time.Now().UTC()

	until, err := l.store.LatestBlock(ctx, identifier, typ, now)
	if err != nil {
		return core.LimitStatus{}, err
	}
	if until != nil {
		count, err := l.store.CountSince(ctx, identifier, typ, now.Add(-l.cfg.Window))
		if err != nil {
			return core.LimitStatus{}, err
		}
		return core.LimitStatus{Blocked: true, BlockedUntil: *until, Attempts: count}, nil
	}

	count, err := l.store.CountSince(ctx, identifier, typ, now.Add(-l.cfg.Window))
	if err != nil {
		return core.LimitStatus{}, err
	}
	count++

	// Ascending order, so the highest crossed tier wins.
	var blockedUntil *time.Time
	for _, tier := range l.cfg.Tiers {
		if count > tier.Threshold {
			t := now.Add(tier.Block)
			blockedUntil = &t
		}
	}

	attempt := &core.Attempt{
		ID:           uuid.New().String(),
		Identifier:   identifier,
		Type:         typ,
		AttemptedAt:  now,
		BlockedUntil: blockedUntil,
	}
	if err := l.store.Insert(ctx, attempt); err != nil {
		return core.LimitStatus{}, err
	}

	status := core.LimitStatus{Attempts: count}
	if blockedUntil != nil {
		status.Blocked = true
		status.BlockedUntil = *blockedUntil
		l.logger.Warn("rate limit tier crossed",
			zap.String("identifier", identifier),
			zap.String("type", string(typ)),
			zap.Int("attempts", count),
			zap.Time("blocked_until", *blockedUntil))
	}
	return status, nil
}
