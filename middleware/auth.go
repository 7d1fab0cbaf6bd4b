package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docqa-platform/internal/auth"
	"docqa-platform/internal/logger"
	"docqa-platform/utils"
)

const (
	ContextUserIDKey = "user_id"
	ContextClaimsKey = "claims"
)

// TokenValidator is implemented by *auth.Tokens.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*auth.Claims, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's user id in the context.
func RequireAuth(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearer(c.GetHeader("Authorization"))
		if tokenString == "" {
			utils.RespondWithError(c, http.StatusUnauthorized, "unauthorized", "Authentication token is required", nil)
			c.Abort()
			return
		}

		claims, err := tokens.Validate(c.Request.Context(), tokenString)
		if err != nil {
			code, message := "invalid_token", "Invalid or expired token"
			switch {
			case errors.Is(err, auth.ErrRevokedToken):
				code, message = "token_revoked", "Token has been revoked"
			case !errors.Is(err, auth.ErrInvalidToken):
				logger.Warn("Token validation failed", "error", err, "request_id", GetRequestID(c))
			}
			utils.RespondWithError(c, http.StatusUnauthorized, code, message, nil)
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// GetUserID returns the authenticated user id, or "" outside RequireAuth.
func GetUserID(c *gin.Context) string {
	if userID, exists := c.Get(ContextUserIDKey); exists {
		if id, ok := userID.(string); ok {
			return id
		}
	}
	return ""
}

func GetClaims(c *gin.Context) *auth.Claims {
	if claims, exists := c.Get(ContextClaimsKey); exists {
		if cl, ok := claims.(*auth.Claims); ok {
			return cl
		}
	}
	return nil
}
