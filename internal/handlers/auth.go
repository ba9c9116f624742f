package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GadCoder/BikeRoutes/internal/rate"
	"github.com/GadCoder/BikeRoutes/internal/security"
	"github.com/GadCoder/BikeRoutes/internal/storage"
	"github.com/GadCoder/BikeRoutes/libs/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"log/slog"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type AuthStore interface {
	CreateUser(ctx context.Context, email string, passwordHash string) (*storage.User, error)
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
	GetRefreshTokenByHash(ctx context.Context, hash string) (*storage.RefreshToken, error)
	CreateRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error)
	RotateToken(ctx context.Context, oldTokenID uuid.UUID, userID uuid.UUID, newHash string, expiresAt time.Time) (uuid.UUID, error)
	RevokeAllUserTokens(ctx context.Context, userID uuid.UUID, reason string) error
	RevokeTokenByHash(ctx context.Context, hash string, reason string) error
}

type AuthHandler struct {
	Store       AuthStore
	Logger      *slog.Logger
	JWTSecret   []byte
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	PBKDF2      security.PBKDF2Params
	RateLimiter rate.Limiter
	TokenGen    security.TokenGenerator
	Clock       Clock
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type sessionResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	User         userResponse `json:"user"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewAuthHandler(store AuthStore, logger *slog.Logger, jwtSecret string, accessTTL, refreshTTL time.Duration, pbkdf2Params security.PBKDF2Params, limiter rate.Limiter) *AuthHandler {
	return &AuthHandler{
		Store:       store,
		Logger:      logger,
		JWTSecret:   []byte(jwtSecret),
		AccessTTL:   accessTTL,
		RefreshTTL:  refreshTTL,
		PBKDF2:      pbkdf2Params,
		RateLimiter: limiter,
		TokenGen:    security.DefaultTokenGenerator{},
		Clock:       systemClock{},
	}
}

func (h *AuthHandler) RegisterRoutes(r *gin.Engine, gw *Gateway) {
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/auth/logout", h.Logout)
	r.GET("/auth/me", gw.Require(), h.Me)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// issueSession mints one access token and persists one refresh-token row.
// The refresh plaintext appears only in the response, never in storage or
// logs. If the row insert fails no session is returned.
func (h *AuthHandler) issueSession(ctx context.Context, user *storage.User, trigger string) (*sessionResponse, error) {
	now := h.Clock.Now()
	access, err := security.NewAccessToken(user.ID.String(), h.JWTSecret, h.AccessTTL, now)
	if err != nil {
		return nil, err
	}

	refreshToken, refreshHash, err := h.TokenGen.New()
	if err != nil {
		return nil, err
	}

	if _, err := h.Store.CreateRefreshToken(ctx, user.ID, refreshHash, now.Add(h.RefreshTTL)); err != nil {
		return nil, err
	}

	metrics.SessionsIssued.WithLabelValues(trigger).Inc()
	return &sessionResponse{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		User:         userResponse{ID: user.ID.String(), Email: user.Email},
	}, nil
}

func (h *AuthHandler) allowRate(c *gin.Context) bool {
	if h.RateLimiter == nil {
		return true
	}
	allowed, retryAfter, err := h.RateLimiter.Allow(c.Request.Context(), c.ClientIP(), h.Clock.Now())
	if err != nil {
		h.Logger.Error("rate limiter failed", "error", err)
		return true
	}
	if !allowed {
		c.Header("Retry-After", retryAfterSeconds(retryAfter))
		c.JSON(http.StatusTooManyRequests, errorResponse{Code: "rate_limited", Message: "too many requests"})
		return false
	}
	return true
}

func retryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid payload"})
		return
	}

	email := normalizeEmail(req.Email)
	if len(email) < 3 || !strings.Contains(email, "@") || len(req.Password) < 8 {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid email or password"})
		return
	}

	if !h.allowRate(c) {
		return
	}

	hash, err := security.HashPassword(req.Password, h.PBKDF2)
	if err != nil {
		h.Logger.Error("password hash failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	user, err := h.Store.CreateUser(c.Request.Context(), email, hash)
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			c.JSON(http.StatusConflict, errorResponse{Code: "email_already_registered", Message: "email already registered"})
			return
		}
		h.Logger.Error("user insert failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	session, err := h.issueSession(c.Request.Context(), user, "register")
	if err != nil {
		h.Logger.Error("session issue failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid payload"})
		return
	}

	if !h.allowRate(c) {
		return
	}

	user, err := h.Store.GetUserByEmail(c.Request.Context(), normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, errorResponse{Code: "invalid_credentials", Message: "invalid credentials"})
			return
		}
		h.Logger.Error("login lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	if !security.VerifyPassword(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "invalid_credentials", Message: "invalid credentials"})
		return
	}

	if !user.IsActive {
		c.JSON(http.StatusForbidden, errorResponse{Code: "inactive_user", Message: "user is inactive"})
		return
	}

	session, err := h.issueSession(c.Request.Context(), user, "login")
	if err != nil {
		h.Logger.Error("session issue failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid payload"})
		return
	}

	ctx := c.Request.Context()
	presentedHash := security.HashRefreshToken(req.RefreshToken)

	token, err := h.Store.GetRefreshTokenByHash(ctx, presentedHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, errorResponse{Code: "invalid_refresh_token", Message: "invalid refresh token"})
			return
		}
		h.Logger.Error("refresh lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	// Reuse is checked before expiry: a rotated-but-unexpired token is a
	// theft signal, not a stale one.
	if token.Revoked() {
		h.revokeAllForReuse(c, token.UserID)
		return
	}

	now := h.Clock.Now()
	if !token.ExpiresAt.After(now) {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "refresh_expired", Message: "refresh token expired"})
		return
	}

	user, err := h.Store.GetUserByID(ctx, token.UserID)
	if err != nil || !user.IsActive {
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			h.Logger.Error("refresh user lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
			return
		}
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "user_not_found", Message: "user not found or inactive"})
		return
	}

	newToken, newHash, err := h.TokenGen.New()
	if err != nil {
		h.Logger.Error("refresh token generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	if _, err := h.Store.RotateToken(ctx, token.ID, token.UserID, newHash, now.Add(h.RefreshTTL)); err != nil {
		if errors.Is(err, storage.ErrTokenRotated) {
			// Lost a concurrent rotation of the same token: the row is no
			// longer active, so this presentation is a reuse event too.
			h.revokeAllForReuse(c, token.UserID)
			return
		}
		h.Logger.Error("token rotation failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	access, err := security.NewAccessToken(user.ID.String(), h.JWTSecret, h.AccessTTL, now)
	if err != nil {
		h.Logger.Error("jwt sign failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	metrics.SessionsIssued.WithLabelValues("refresh").Inc()
	c.JSON(http.StatusOK, sessionResponse{
		AccessToken:  access,
		RefreshToken: newToken,
		TokenType:    "bearer",
		User:         userResponse{ID: user.ID.String(), Email: user.Email},
	})
}

// revokeAllForReuse is the one error path with a side effect: detecting
// reuse triggers mass revocation before the failure is returned.
func (h *AuthHandler) revokeAllForReuse(c *gin.Context, userID uuid.UUID) {
	if err := h.Store.RevokeAllUserTokens(c.Request.Context(), userID, storage.RevokedReasonReuse); err != nil {
		h.Logger.Error("mass revocation failed", "error", err, "user_id", userID.String())
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}
	metrics.RefreshReuseDetected.Inc()
	h.Logger.Warn("refresh token reuse detected, all sessions revoked", "user_id", userID.String())
	c.JSON(http.StatusUnauthorized, errorResponse{Code: "refresh_reuse_detected", Message: "refresh token reuse detected"})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_request", Message: "invalid payload"})
		return
	}

	hash := security.HashRefreshToken(req.RefreshToken)
	if err := h.Store.RevokeTokenByHash(c.Request.Context(), hash, storage.RevokedReasonLogout); err != nil {
		h.Logger.Error("revoke token failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "internal_error", Message: "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "not_authenticated", Message: "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, userResponse{ID: user.ID.String(), Email: user.Email})
}
