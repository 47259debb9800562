package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	authmw "picvault/internal/middleware"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const jwtExpiry = 24 * time.Hour

// Login exchanges the admin credentials for a bearer token
func (h *Handler) Login(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	if h.cfg.AdminPasswordHash == "" || h.cfg.JWTSecret == "" {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Login is not configured"})
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.cfg.AdminUser)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(h.cfg.AdminPasswordHash), []byte(req.Password))
	if !userOK || passErr != nil {
		h.log.Warn("Failed login attempt", zap.String("username", req.Username), zap.String("ip", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
	}

	token, err := authmw.IssueToken([]byte(h.cfg.JWTSecret), req.Username, authmw.RoleAdmin, jwtExpiry)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to generate token"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_in": int(jwtExpiry.Seconds()),
		"user": map[string]string{
			"username": req.Username,
			"role":     authmw.RoleAdmin,
		},
	})
}
