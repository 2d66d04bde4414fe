package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/veridoc/authgate/core"
	"github.com/veridoc/authgate/service"
)

// Challenge, signature, and rate-limit rejections all surface as this
// one message so a caller cannot probe which check failed.
const genericAuthError = "authentication failed"

// AuthHandlers contains the HTTP handlers for the auth endpoints.
type AuthHandlers struct {
	auth       *service.AuthService
	challenges *service.ChallengeService
	limiter    *service.RateLimiter
}

// NewAuthHandlers creates the handlers.
func NewAuthHandlers(auth *service.AuthService, challenges *service.ChallengeService, limiter *service.RateLimiter) *AuthHandlers {
	return &AuthHandlers{auth: auth, challenges: challenges, limiter: limiter}
}

// Challenge issues a sign-in challenge for an address.
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	challenge, err := h.challenges.Generate(c.Request.Context(), req.Address, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		var limited *core.RateLimitedError
		switch {
		case errors.As(err, &limited):
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(limited.Until)))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":         genericAuthError,
				"blocked_until": limited.Until.UTC().Format(time.RFC3339),
			})
		case errors.Is(err, core.ErrInvalidAddress):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		default:
			sentry.CaptureException(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create challenge"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    challenge.Message,
		"expires_at": challenge.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Login exchanges a signed challenge for a session.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Message   string `json:"message" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	session, err := h.auth.Authenticate(c.Request.Context(), req.Address, req.Message, req.Signature, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		if errors.Is(err, core.ErrStoreUnavailable) {
			sentry.CaptureException(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": genericAuthError})
		return
	}

	c.JSON(http.StatusOK, session)
}

// Refresh rotates a refresh token and returns a new session.
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	session, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		if errors.Is(err, core.ErrStoreUnavailable) {
			sentry.CaptureException(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
			return
		}
		// Reuse, revocation, and expiry all force re-authentication.
		c.JSON(http.StatusUnauthorized, gin.H{"error": genericAuthError})
		return
	}

	c.JSON(http.StatusOK, session)
}

// Logout revokes the caller's refresh token family. The address comes
// from the validated access token set by the auth middleware.
func (h *AuthHandlers) Logout(c *gin.Context) {
	address, exists := c.Get("userAddress")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": genericAuthError})
		return
	}

	h.auth.Logout(c.Request.Context(), address.(string))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// RateLimitStatus is a diagnostics endpoint reporting the limiter state
// for an identifier.
func (h *AuthHandlers) RateLimitStatus(c *gin.Context) {
	identifier := c.Query("identifier")
	typ := core.LimitType(c.DefaultQuery("type", string(core.LimitAddress)))
	if identifier == "" || (typ != core.LimitAddress && typ != core.LimitIP) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	status, err := h.limiter.Check(c.Request.Context(), identifier, typ)
	if err != nil {
		sentry.CaptureException(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// Me returns the identity of the authenticated caller.
func (h *AuthHandlers) Me(c *gin.Context) {
	address, _ := c.Get("userAddress")
	role, _ := c.Get("userRole")
	handle, _ := c.Get("userHandle")

	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"role":    role,
		"handle":  handle,
	})
}

// Authorize confirms the caller holds a valid access token.
func (h *AuthHandlers) Authorize(c *gin.Context) {
	address, _ := c.Get("userAddress")
	c.JSON(http.StatusOK, gin.H{"authorized": true, "address": address})
}

func retryAfterSeconds(until time.Time) int {
	seconds := int(time.Until(until).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
