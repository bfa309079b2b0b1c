package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/keyroom/internal/services"
)

const (
	sessionKey = "session"
	tokenKey   = "authToken"
	// AuthCookie carries the session token for browser terminals.
	AuthCookie = "auth_token"
)

// SessionAuthenticator resolves a bearer token to a session.
type SessionAuthenticator interface {
	Authenticate(token string) (*services.Session, error)
}

// AuthMiddleware requires a valid session token from the Authorization header
// or the auth cookie.
func AuthMiddleware(auth SessionAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		sess, err := auth.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
			return
		}

		c.Set(sessionKey, sess)
		c.Set(tokenKey, token)
		if entry := GetRequestLogger(c); entry != nil {
			c.Set("logger", entry.WithField("operator", sess.Username))
		}
		c.Next()
	}
}

// RequireAdmin rejects sessions without the administrator role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := services.RequireAdmin(GetSession(c)); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// ExtractToken reads the bearer token, falling back to the auth cookie.
func ExtractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := c.Cookie(AuthCookie); err == nil {
		return cookie
	}
	return ""
}

// GetSession returns the authenticated session, or nil.
func GetSession(c *gin.Context) *services.Session {
	if v, ok := c.Get(sessionKey); ok {
		if sess, ok := v.(*services.Session); ok {
			return sess
		}
	}
	return nil
}

// GetToken returns the raw token that authenticated the request.
func GetToken(c *gin.Context) string {
	return c.GetString(tokenKey)
}
