// Package apitokens manages long-lived opaque API tokens and the middleware
// that accepts them alongside session JWTs.
package apitokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mikepea/recipebox/pkg/recipebox/apperr"
	"github.com/mikepea/recipebox/pkg/recipebox/auth"
	"github.com/mikepea/recipebox/pkg/recipebox/models"
)

const (
	// TokenLength is the length of the generated token in bytes (32 bytes = 64 hex chars)
	TokenLength = 32
	// TokenPrefixLength is the number of characters stored for identification
	TokenPrefixLength = 8
)

// Handler handles API token requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new API token handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// TokenResponse represents an API token in responses
type TokenResponse struct {
	ID          uint       `json:"id"`
	TokenPrefix string     `json:"token_prefix"`
	Description string     `json:"description"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateTokenRequest represents a request to create an API token
type CreateTokenRequest struct {
	Description string `json:"description" binding:"max=255"`
}

// CreateTokenResponse includes the full token (only shown once)
type CreateTokenResponse struct {
	TokenResponse
	Token string `json:"token"`
}

func tokenToResponse(t *models.APIToken) TokenResponse {
	return TokenResponse{
		ID:          t.ID,
		TokenPrefix: t.TokenPrefix,
		Description: t.Description,
		LastUsedAt:  t.LastUsedAt,
		CreatedAt:   t.CreatedAt,
	}
}

func generateToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Create creates a new API token for the authenticated user
// @Summary Create an API token
// @Description The full token is only returned by this call
// @Tags user
// @Accept json
// @Produce json
// @Param request body CreateTokenRequest false "Token description"
// @Success 201 {object} CreateTokenResponse
// @Security BearerAuth
// @Router /user/tokens [post]
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req CreateTokenRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, apperr.FromBinding(err))
			return
		}
	}

	token, err := generateToken()
	if err != nil {
		apperr.Respond(c, apperr.Internal("failed to generate API token", err))
		return
	}

	apiToken := models.APIToken{
		UserID:      userID,
		TokenHash:   hashToken(token),
		TokenPrefix: token[:TokenPrefixLength],
		Description: strings.TrimSpace(req.Description),
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&apiToken).Error; err != nil {
		apperr.Respond(c, apperr.FromStore(err, ""))
		return
	}

	c.JSON(http.StatusCreated, CreateTokenResponse{
		TokenResponse: tokenToResponse(&apiToken),
		Token:         token,
	})
}

// List returns the authenticated user's API tokens
// @Summary List API tokens
// @Tags user
// @Produce json
// @Success 200 {array} TokenResponse
// @Security BearerAuth
// @Router /user/tokens [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var tokens []models.APIToken
	if err := h.db.WithContext(c.Request.Context()).Where("user_id = ?", userID).Order("id DESC").Find(&tokens).Error; err != nil {
		apperr.Respond(c, apperr.FromStore(err, ""))
		return
	}

	responses := make([]TokenResponse, len(tokens))
	for i := range tokens {
		responses[i] = tokenToResponse(&tokens[i])
	}
	c.JSON(http.StatusOK, responses)
}

// Delete revokes an API token
// @Summary Revoke an API token
// @Tags user
// @Param id path int true "Token ID"
// @Success 204
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /user/tokens/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	tokenID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		apperr.Respond(c, apperr.NotFound("API token not found"))
		return
	}

	result := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", tokenID, userID).
		Delete(&models.APIToken{})
	if result.Error != nil {
		apperr.Respond(c, apperr.FromStore(result.Error, ""))
		return
	}
	if result.RowsAffected == 0 {
		apperr.Respond(c, apperr.NotFound("API token not found"))
		return
	}

	c.Status(http.StatusNoContent)
}

// ValidateToken looks up the API token matching token.
func ValidateToken(db *gorm.DB, token string) (*models.APIToken, error) {
	var apiToken models.APIToken
	if err := db.Where("token_hash = ?", hashToken(token)).First(&apiToken).Error; err != nil {
		return nil, err
	}
	return &apiToken, nil
}

// CombinedAuthMiddleware authenticates via session JWT or API token, both
// passed as "Authorization: Bearer <token>". JWTs contain dots, API tokens
// are hex strings without dots. Either way the user must still exist and be
// active; the staff flag is taken from the stored user.
func CombinedAuthMiddleware(db *gorm.DB, issuer *auth.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c)
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		tx := db.WithContext(c.Request.Context())

		var userID uint
		if strings.Contains(token, ".") {
			claims, err := issuer.Validate(token)
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "Token has expired"
				}
				apperr.Respond(c, apperr.Unauthorized(msg))
				return
			}
			userID = claims.UserID
		} else {
			apiToken, err := ValidateToken(tx, token)
			if err != nil {
				apperr.Respond(c, apperr.Unauthorized("Invalid API token"))
				return
			}
			userID = apiToken.UserID
			if err := tx.Model(apiToken).Update("last_used_at", time.Now()).Error; err != nil {
				apperr.Respond(c, apperr.FromStore(err, ""))
				return
			}
		}

		var user models.User
		if err := tx.First(&user, userID).Error; err != nil || !user.IsActive {
			apperr.Respond(c, apperr.Unauthorized("User not found or inactive"))
			return
		}

		auth.SetIdentity(c, user.ID, user.Email, user.IsStaff)
		c.Next()
	}
}

// RegisterRoutes registers API token routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/tokens", h.Create)
	rg.GET("/tokens", h.List)
	rg.DELETE("/tokens/:id", h.Delete)
}
