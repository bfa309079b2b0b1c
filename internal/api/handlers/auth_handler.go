package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/keyroom/internal/api/middleware"
	"github.com/Wikid82/keyroom/internal/services"
)

type AuthHandler struct {
	authService  *services.AuthService
	cookieMaxAge int
	secureCookie bool
}

func NewAuthHandler(authService *services.AuthService, cookieMaxAge int, secureCookie bool) *AuthHandler {
	return &AuthHandler{authService: authService, cookieMaxAge: cookieMaxAge, secureCookie: secureCookie}
}

// setAuthCookie writes the session cookie: HttpOnly, SameSite=Strict, Secure
// outside development.
func (h *AuthHandler) setAuthCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.AuthCookie, value, maxAge, "/", "", h.secureCookie, true)
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, sess, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	h.setAuthCookie(c, token, h.cookieMaxAge)
	c.JSON(http.StatusOK, gin.H{"token": token, "session": sess})
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.authService.Logout(middleware.GetToken(c)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
		return
	}
	h.setAuthCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.GetSession(c))
}
