package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/securebank/internal/logging"
)

// ContextKeyAccountID is the gin context key holding the authenticated account.
const ContextKeyAccountID = "authAccountID"

// RequireAuth rejects requests without a valid bearer token and stores the
// token's account ID on the gin and request contexts.
func RequireAuth(m *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			// Browsers cannot set headers on websocket upgrades.
			raw = c.Query("token")
		}

		accountID, err := m.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": err.Error(),
			})
			return
		}

		c.Set(ContextKeyAccountID, accountID)
		c.Request = c.Request.WithContext(logging.WithAccountID(c.Request.Context(), accountID))
		c.Next()
	}
}

// AccountID returns the authenticated account, or "" on public routes.
func AccountID(c *gin.Context) string {
	return c.GetString(ContextKeyAccountID)
}
