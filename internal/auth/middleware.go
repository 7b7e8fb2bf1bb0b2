package auth

import (
	"net/http"
	"strings"
	"time"

	"callcenter/pkg/logger"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"

const codeUnauthenticated = "unauthenticated"

// RequireAccessToken admits requests carrying a valid access token and puts
// the caller identity on both the request context and the gin context.
// Refresh tokens are rejected here. Role checks happen in the handlers.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := bearerToken(c.GetHeader(authorizationHeader))
		if !ok {
			unauthorized(c, "missing bearer token")
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("access token rejected", "err", err)
			unauthorized(c, "invalid token")
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.Role)
		ctx = logger.WithAttrs(ctx, "user_id", claims.UserID)
		c.Request = c.Request.WithContext(ctx)

		// user_id is also read by the request summary log.
		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// bearerToken extracts the credential from an Authorization header. The scheme
// is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, tok, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="callcenter"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": codeUnauthenticated})
}
