package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/auth"
	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/logging"
)

// ClaimsContextKey is the gin context key under which validated claims are stored.
const ClaimsContextKey = "claims"

// RequireAuth validates the Authorization bearer token and stores the
// resulting claims on the gin context. Requests without a valid token are
// rejected with 401 before reaching the handler.
func RequireAuth(validator auth.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			logging.Warn(c.Request.Context(), "rejected bearer token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(ClaimsContextKey, claims)

		// Thread the identity through the request context so logs carry it.
		ctx := context.WithValue(c.Request.Context(), logging.UsernameKey, claims.Identity())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// ClaimsFrom returns the validated claims stored by RequireAuth, if any.
func ClaimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, exists := c.Get(ClaimsContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
