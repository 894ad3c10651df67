package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"authgate/api/internal/cache"
	"authgate/api/internal/models"
	"authgate/api/internal/repository"
	"authgate/api/internal/security"
)

// UserSource is the subset of the user store the auth middleware needs.
type UserSource interface {
	GetByID(ctx context.Context, id string) (models.User, error)
}

// Auth validates the bearer access token and attaches the current user to
// the request context. Lookups go through the read-through cache; the
// password digest is dropped by the cache serialization and handlers only
// read identity fields.
func Auth(issuer *security.TokenIssuer, users UserSource, userCache *cache.UserCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing_token"})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := issuer.ParseAccess(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid_token"})
			return
		}

		user, ok := userCache.Get(c.Request.Context(), claims.Subject)
		if !ok {
			user, err = users.GetByID(c.Request.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, repository.ErrUserNotFound) {
					c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "user_not_found"})
					return
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "internal_server_error"})
				return
			}
			userCache.Set(c.Request.Context(), user)
		}

		c.Set("current_user", user)

		c.Next()
	}
}
