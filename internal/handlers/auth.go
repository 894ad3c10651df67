package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"authgate/api/internal/models"
	"authgate/api/internal/service"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

func (h HandlerSet) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	user, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		var svcErr *service.Error
		if errors.As(err, &svcErr) {
			status := http.StatusConflict
			if errors.Is(err, service.ErrUsernameWhitespace) {
				status = http.StatusUnprocessableEntity
			}
			c.JSON(status, gin.H{"detail": svcErr.Reason})
			return
		}
		h.log.Error().Err(err).Msg("register failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal_server_error"})
		return
	}

	c.JSON(http.StatusCreated, newUserResponse(user))
}

type loginRequest struct {
	Login    string `json:"login" binding:"required,min=3,max=255"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}

	pair, err := h.auth.Login(c.Request.Context(), req.Login, req.Password)
	if err != nil {
		var svcErr *service.Error
		if errors.As(err, &svcErr) {
			// Both failure kinds collapse to one body so callers cannot
			// probe which identifiers are registered.
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid credentials"})
			return
		}
		h.log.Error().Err(err).Msg("login failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal_server_error"})
		return
	}

	h.setRefreshCookie(c, pair.RefreshToken)
	c.JSON(http.StatusOK, loginResponse{AccessToken: pair.AccessToken, TokenType: "bearer"})
}

// Refresh rotates the session bound to the refresh cookie. The token's
// signature and expiry are checked here at the boundary; the orchestrator
// receives the raw token plus the subject it carried.
func (h HandlerSet) Refresh(c *gin.Context) {
	raw, err := c.Cookie(h.cfg.Security.RefreshCookieName)
	if err != nil || raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": service.ErrInvalidRefreshToken.Reason})
		return
	}

	claims, err := h.issuer.ParseRefresh(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": service.ErrInvalidRefreshToken.Reason})
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), raw, claims.Subject)
	if err != nil {
		var svcErr *service.Error
		if errors.As(err, &svcErr) {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": svcErr.Reason})
			return
		}
		h.log.Error().Err(err).Msg("refresh failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal_server_error"})
		return
	}

	h.setRefreshCookie(c, pair.RefreshToken)
	c.JSON(http.StatusOK, loginResponse{AccessToken: pair.AccessToken, TokenType: "bearer"})
}

// Logout always clears the cookie and always succeeds: whether a session
// existed is never revealed. Only unexpected store failures break that.
func (h HandlerSet) Logout(c *gin.Context) {
	h.clearRefreshCookie(c)

	raw, err := c.Cookie(h.cfg.Security.RefreshCookieName)
	if err != nil || raw == "" {
		c.Status(http.StatusNoContent)
		return
	}

	if err := h.auth.Logout(c.Request.Context(), raw); err != nil {
		h.log.Error().Err(err).Msg("logout failed")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal_server_error"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Me(c *gin.Context) {
	userVal, exists := c.Get("current_user")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "unauthorized"})
		return
	}

	user, ok := userVal.(models.User)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid_user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": newUserResponse(user)})
}

func newUserResponse(user models.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Email:     user.Email,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
	}
}

func (h HandlerSet) setRefreshCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		h.cfg.Security.RefreshCookieName,
		token,
		int(h.cfg.Security.JWTRefreshTTL.Seconds()),
		h.cfg.Security.CookiePath,
		h.cfg.Security.CookieDomain,
		h.cfg.Security.CookieSecure,
		true,
	)
}

func (h HandlerSet) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		h.cfg.Security.RefreshCookieName,
		"",
		-1,
		h.cfg.Security.CookiePath,
		h.cfg.Security.CookieDomain,
		h.cfg.Security.CookieSecure,
		true,
	)
}
