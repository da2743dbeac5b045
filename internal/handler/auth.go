package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/table-reservation/internal/config"
	"github.com/iliyamo/table-reservation/internal/utils"
)

// AuthHandler issues admin access tokens.  There is a single admin account
// configured through ADMIN_EMAIL and ADMIN_PASSWORD_HASH.
type AuthHandler struct {
	Cfg config.Config
}

func NewAuthHandler(cfg config.Config) *AuthHandler {
	return &AuthHandler{Cfg: cfg}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// Login handles POST /v1/auth/login.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}
	if h.Cfg.AdminEmail == "" || h.Cfg.AdminPasswordHash == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "admin login disabled"})
	}

	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(strings.ToLower(h.Cfg.AdminEmail))) == 1
	// Always run bcrypt so a wrong email costs the same as a wrong password.
	passOK := utils.VerifyPassword(h.Cfg.AdminPasswordHash, req.Password)
	if !emailOK || !passOK {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid credentials"})
	}

	at, err := utils.NewAccessToken(h.Cfg.JWTSecret, email, utils.RoleAdmin, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "message": "token issue failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"access": tokenPart{Token: at.Token, Expires: at.Exp}})
}
