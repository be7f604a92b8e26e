package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/yourusername/lightning-gifts/middleware"
)

// AuthHandler exchanges operator refresh tokens for short-lived access
// tokens.
type AuthHandler struct {
	secret        string
	refreshSecret string
	accessTTL     time.Duration
}

func NewAuthHandler(secret, refreshSecret string, accessTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		secret:        secret,
		refreshSecret: refreshSecret,
		accessTTL:     accessTTL,
	}
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh handles POST /admin/token/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := &middleware.Claims{}
	token, err := jwt.ParseWithClaims(req.RefreshToken, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(h.refreshSecret), nil
	})
	if err != nil || !token.Valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired refresh token", "code": "InvalidToken"})
		return
	}

	if claims.Role != middleware.RoleOperator {
		c.JSON(http.StatusForbidden, gin.H{"error": "Refresh token is not an operator token"})
		return
	}

	accessToken, err := middleware.GenerateToken(claims.Subject, claims.Role, h.secret, h.accessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate access token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   int(h.accessTTL.Seconds()),
	})
}
