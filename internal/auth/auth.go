package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/qreview/internal/apperrors"
)

// SessionTTL is how long an admin session stays valid after login.
const SessionTTL = 4 * time.Hour

const sessionContextKey = "admin_session"

// Sessions holds admin bearer tokens.
type Sessions = TokenStore[struct{}]

// NewSessions creates an empty admin session store.
func NewSessions(ttl time.Duration) *Sessions {
	return NewTokenStore[struct{}](ttl)
}

// VerifyPassword compares candidate with expected in constant time. Both are
// hashed first so neither content nor length leaks through timing.
func VerifyPassword(expected, candidate string) bool {
	if candidate == "" || expected == "" {
		return false
	}
	a := sha256.Sum256([]byte(candidate))
	b := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// socketToken also accepts a token query parameter, since a browser
// websocket upgrade cannot set headers.
func socketToken(c *gin.Context) string {
	if token := BearerToken(c); token != "" {
		return token
	}
	return c.Query("token")
}

// RequireAdmin rejects requests without a live session. Unknown, expired and
// missing tokens all get the same 401.
func RequireAdmin(sessions *Sessions) gin.HandlerFunc {
	return requireSession(sessions, BearerToken)
}

// RequireAdminSocket is RequireAdmin for the websocket upgrade route.
func RequireAdminSocket(sessions *Sessions) gin.HandlerFunc {
	return requireSession(sessions, socketToken)
}

func requireSession(sessions *Sessions, extract func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extract(c)
		if _, ok := sessions.Lookup(token); !ok {
			c.AbortWithStatusJSON(apperrors.ErrUnauthorized.HTTPStatus, gin.H{"error": apperrors.ErrUnauthorized.Message})
			return
		}
		c.Set(sessionContextKey, token)
		c.Next()
	}
}

// SessionToken returns the token RequireAdmin accepted.
func SessionToken(c *gin.Context) string {
	return c.GetString(sessionContextKey)
}
