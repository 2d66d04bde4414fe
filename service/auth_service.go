package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/veridoc/authgate/core"
	"github.com/veridoc/authgate/ports"
	"go.uber.org/zap"
)

// AuthConfig carries token lifetimes and the degraded-mode role applied
// when the external resolver is unavailable.
type AuthConfig struct {
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	DefaultRole string
}

// AuthService turns verified signatures into sessions and keeps refresh
// tokens rotating.
type AuthService struct {
	challenges *ChallengeService
	tokens     ports.TokenStore
	tokenizer  ports.Tokenizer
	resolver   ports.RoleResolver
	events     ports.EventPublisher
	logger     *zap.Logger
	cfg        AuthConfig
}

// NewAuthService creates the orchestrator.
func NewAuthService(
	challenges *ChallengeService,
	tokens ports.TokenStore,
	tokenizer ports.Tokenizer,
	resolver ports.RoleResolver,
	events ports.EventPublisher,
	cfg AuthConfig,
	logger *zap.Logger,
) *AuthService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = "user"
	}
	return &AuthService{
		challenges: challenges,
		tokens:     tokens,
		tokenizer:  tokenizer,
		resolver:   resolver,
		events:     events,
		logger:     logger,
		cfg:        cfg,
	}
}

// Authenticate exchanges a signed challenge for a session. Role
// resolution is opportunistic: a resolver failure downgrades to the
// default role instead of blocking the login.
func (s *AuthService) Authenticate(ctx context.Context, address, message, signature, ip, agent string) (*core.Session, error) {
	addr, err := normalizeAddress(address)
	if err != nil {
		return nil, core.ErrInvalidChallenge
	}

	if !s.challenges.Verify(ctx, addr, message, signature) {
		return nil, core.ErrInvalidChallenge
	}

	identity := s.resolveIdentity(ctx, addr)

	session, tokenID, err := s.mintSession(ctx, identity, ip, agent)
	if err != nil {
		return nil, err
	}

	if err := s.events.PublishLogin(ctx, addr, tokenID); err != nil {
		s.logger.Warn("failed to publish login event", zap.Error(err))
	}
	return session, nil
}

// Refresh rotates the presented refresh token and mints a new session.
// A rotation conflict means the token was already spent: the whole
// family for the subject is revoked and the caller must re-authenticate.
func (s *AuthService) Refresh(ctx context.Context, refreshValue, ip, agent string) (*core.Session, error) {
	current, err := s.tokens.ByValue(ctx, refreshValue)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, core.ErrInvalidToken
	}

	now := time.Now().UTC()
	if current.Used {
		// A spent token presented again is the replay signal.
		s.handleReuse(ctx, current)
		return nil, core.ErrTokenReuse
	}
	if current.Revoked || !now.Before(current.ExpiresAt) {
		return nil, core.ErrInvalidToken
	}

	nextValue, err := randomTokenValue()
	if err != nil {
		return nil, err
	}
	next := &core.RefreshToken{
		ID:        uuid.New().String(),
		Address:   current.Address,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		IP:        ip,
		UserAgent: agent,
	}

	if err := s.tokens.Rotate(ctx, current.ID, next, nextValue); err != nil {
		if errors.Is(err, core.ErrTokenReuse) {
			s.handleReuse(ctx, current)
			return nil, core.ErrTokenReuse
		}
		return nil, err
	}

	identity := s.resolveIdentity(ctx, current.Address)
	accessToken, _, err := s.tokenizer.IssueAccess(identity, s.cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to mint access token: %w", err)
	}

	return &core.Session{
		Address:      identity.Address,
		Role:         identity.Role,
		Handle:       identity.Handle,
		AccessToken:  accessToken,
		RefreshToken: nextValue,
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
	}, nil
}

// Logout revokes every refresh token for the address. Revocation is best
// effort: storage trouble is logged, never surfaced, so logout always
// succeeds from the caller's point of view.
func (s *AuthService) Logout(ctx context.Context, address string) bool {
	addr, err := normalizeAddress(address)
	if err != nil {
		return false
	}

	if _, err := s.tokens.RevokeAllForAddress(ctx, addr); err != nil {
		s.logger.Warn("failed to revoke tokens on logout", zap.String("address", addr), zap.Error(err))
	}
	if err := s.events.PublishLogout(ctx, addr); err != nil {
		s.logger.Warn("failed to publish logout event", zap.Error(err))
	}
	return true
}

// VerifyAccess validates an access token for request middleware.
func (s *AuthService) VerifyAccess(token string) (*core.Identity, error) {
	return s.tokenizer.VerifyAccess(token)
}

// DeleteExpired purges refresh tokens older than the retention window.
func (s *AuthService) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	return s.tokens.DeleteExpired(ctx, time.Now().UTC().Add(-retention))
}

func (s *AuthService) resolveIdentity(ctx context.Context, address string) core.Identity {
	role, handle, err := s.resolver.ResolveRole(ctx, address)
	if err != nil {
		s.logger.Warn("role resolution failed, using default role",
			zap.String("address", address), zap.Error(err))
		return core.Identity{Address: address, Role: s.cfg.DefaultRole}
	}
	if role == "" {
		role = s.cfg.DefaultRole
	}
	return core.Identity{Address: address, Role: role, Handle: handle}
}

func (s *AuthService) mintSession(ctx context.Context, identity core.Identity, ip, agent string) (*core.Session, string, error) {
	accessToken, _, err := s.tokenizer.IssueAccess(identity, s.cfg.AccessTTL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to mint access token: %w", err)
	}

	refreshValue, err := randomTokenValue()
	if err != nil {
		return nil, "", err
	}
	now := time.Now().UTC()
	token := &core.RefreshToken{
		ID:        uuid.New().String(),
		Address:   identity.Address,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		IP:        ip,
		UserAgent: agent,
	}
	if err := s.tokens.Create(ctx, token, refreshValue); err != nil {
		return nil, "", err
	}

	return &core.Session{
		Address:      identity.Address,
		Role:         identity.Role,
		Handle:       identity.Handle,
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
	}, token.ID, nil
}

// handleReuse applies the compromise policy: a spent token presented
// again revokes the entire family for the subject.
func (s *AuthService) handleReuse(ctx context.Context, token *core.RefreshToken) {
	s.logger.Warn("refresh token reuse detected",
		zap.String("address", token.Address), zap.String("token_id", token.ID))
	if _, err := s.tokens.RevokeAllForAddress(ctx, token.Address); err != nil {
		s.logger.Error("failed to revoke token family", zap.Error(err))
	}
	if err := s.events.PublishTokenReuse(ctx, token.Address, token.ID); err != nil {
		s.logger.Warn("failed to publish token reuse event", zap.Error(err))
	}
}

func randomTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
