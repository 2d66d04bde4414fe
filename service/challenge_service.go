package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/veridoc/authgate/core"
	"github.com/veridoc/authgate/ports"
	"go.uber.org/zap"
)

// ChallengeConfig carries the sign-in message parameters and lifetime.
type ChallengeConfig struct {
	Domain    string
	Statement string
	URI       string
	ChainID   int64
	TTL       time.Duration
}

// ChallengeService issues sign-in challenges and verifies signed
// responses, consuming each challenge exactly once.
type ChallengeService struct {
	challenges ports.ChallengeStore
	limiter    *RateLimiter
	verifier   ports.SignatureVerifier
	logger     *zap.Logger
	cfg        ChallengeConfig
}

// NewChallengeService creates the challenge service.
func NewChallengeService(
	challenges ports.ChallengeStore,
	limiter *RateLimiter,
	verifier ports.SignatureVerifier,
	cfg ChallengeConfig,
	logger *zap.Logger,
) *ChallengeService {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return &ChallengeService{
		challenges: challenges,
		limiter:    limiter,
		verifier:   verifier,
		logger:     logger,
		cfg:        cfg,
	}
}

// Generate gates on the rate limiter for both the address and, when
// present, the origin IP, then persists a fresh challenge. Creating the
// challenge atomically supersedes any prior unused challenge for the
// address.
func (s *ChallengeService) Generate(ctx context.Context, address, ip, agent string) (*core.Challenge, error) {
	addr, err := normalizeAddress(address)
	if err != nil {
		return nil, err
	}

	identifiers := []struct {
		value string
		typ   core.LimitType
	}{{addr, core.LimitAddress}}
	if ip != "" {
		identifiers = append(identifiers, struct {
			value string
			typ   core.LimitType
		}{ip, core.LimitIP})
	}

	for _, id := range identifiers {
		status, err := s.limiter.Check(ctx, id.value, id.typ)
		if err != nil {
			return nil, err
		}
		if status.Blocked {
			return nil, &core.RateLimitedError{Until: status.BlockedUntil}
		}
	}
	for _, id := range identifiers {
		status, err := s.limiter.Record(ctx, id.value, id.typ)
		if err != nil {
			return nil, err
		}
		if status.Blocked {
			return nil, &core.RateLimitedError{Until: status.BlockedUntil}
		}
	}

	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(nonceBytes)

	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.TTL)
	challenge := &core.Challenge{
		ID:      uuid.New().String(),
		Address: addr,
		Nonce:   nonce,
		Message: core.BuildSignInMessage(core.MessageParams{
			Domain:    s.cfg.Domain,
			Address:   addr,
			Statement: s.cfg.Statement,
			URI:       s.cfg.URI,
			ChainID:   s.cfg.ChainID,
			Nonce:     nonce,
			IssuedAt:  now,
			ExpiresAt: expiresAt,
		}),
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		IP:        ip,
		UserAgent: agent,
	}

	if err := s.challenges.Create(ctx, challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// Verify checks a signed challenge response and consumes the challenge.
// Every failure collapses to false so callers present a uniform
// rejection; the specific cause stays in the logs.
func (s *ChallengeService) Verify(ctx context.Context, address, message, signature string) bool {
	addr, err := normalizeAddress(address)
	if err != nil {
		s.logger.Debug("challenge verification rejected", zap.String("reason", "bad address"))
		return false
	}

	status, err := s.limiter.Record(ctx, addr, core.LimitAddress)
	if err != nil {
		s.logger.Error("rate limit check failed during verification", zap.Error(err))
		return false
	}
	if status.Blocked {
		s.logger.Debug("challenge verification rejected",
			zap.String("reason", "rate limited"), zap.String("address", addr))
		return false
	}

	nonce, err := core.ParseMessageNonce(message)
	if err != nil {
		s.logger.Debug("challenge verification rejected", zap.String("reason", "unparseable message"))
		return false
	}

	challenge := s.resolveChallenge(ctx, addr, nonce)
	if challenge == nil {
		s.logger.Debug("challenge verification rejected",
			zap.String("reason", "no matching active challenge"), zap.String("address", addr))
		return false
	}

	ok, err := s.verifier.Verify(message, signature, addr)
	if err != nil || !ok {
		s.logger.Debug("challenge verification rejected",
			zap.String("reason", "signature check failed"), zap.String("address", addr), zap.Error(err))
		return false
	}

	// The conditional update is the sole replay guard: under concurrent
	// verifications of the same challenge exactly one caller wins.
	consumed, err := s.challenges.MarkUsed(ctx, challenge.ID)
	if err != nil {
		s.logger.Error("failed to consume challenge", zap.Error(err))
		return false
	}
	if !consumed {
		s.logger.Debug("challenge verification rejected",
			zap.String("reason", "challenge already used"), zap.String("address", addr))
	}
	return consumed
}

// resolveChallenge loads the active challenge for the address and, when
// its nonce does not match the presented one, falls back to a direct
// nonce lookup. The fallback tolerates the benign race where a newer
// challenge superseded the one the client is still answering, while the
// conditional MarkUsed keeps single-use intact.
func (s *ChallengeService) resolveChallenge(ctx context.Context, address, nonce string) *core.Challenge {
	active, err := s.challenges.ActiveForAddress(ctx, address)
	if err != nil {
		s.logger.Error("failed to load active challenge", zap.Error(err))
		return nil
	}
	if active != nil && active.Nonce == nonce {
		return active
	}

	byNonce, err := s.challenges.ByNonce(ctx, nonce)
	if err != nil {
		s.logger.Error("failed to load challenge by nonce", zap.Error(err))
		return nil
	}
	if byNonce == nil || byNonce.Address != address || !byNonce.Active(time.Now()) {
		return nil
	}
	return byNonce
}

// DeleteExpired purges challenges older than the retention window.
func (s *ChallengeService) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	return s.challenges.DeleteExpired(ctx, time.Now().UTC().Add(-retention))
}

func normalizeAddress(address string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(address))
	if !common.IsHexAddress(addr) {
		return "", core.ErrInvalidAddress
	}
	return addr, nil
}
