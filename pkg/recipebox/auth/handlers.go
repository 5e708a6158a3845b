package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mikepea/recipebox/pkg/recipebox/apperr"
	"github.com/mikepea/recipebox/pkg/recipebox/models"
)

// Handler handles account requests
type Handler struct {
	db     *gorm.DB
	issuer *TokenIssuer
}

// NewHandler creates a new account handler
func NewHandler(db *gorm.DB, issuer *TokenIssuer) *Handler {
	return &Handler{db: db, issuer: issuer}
}

// CreateUserRequest represents the signup request body
type CreateUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=5"`
	Name     string `json:"name" binding:"required,max=255"`
}

// TokenRequest represents the token request body
type TokenRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse carries a session token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// UpdateMeRequest is a partial profile update
type UpdateMeRequest struct {
	Email    *string `json:"email" binding:"omitempty,email"`
	Password *string `json:"password" binding:"omitempty,min=5"`
	Name     *string `json:"name" binding:"omitempty,max=255"`
}

// ReplaceMeRequest is a full profile update
type ReplaceMeRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=5"`
	Name     string `json:"name" binding:"required,max=255"`
}

func userToResponse(u *models.User) UserResponse {
	return UserResponse{Email: u.Email, Name: u.Name}
}

// Create handles user signup
// @Summary Create a user
// @Description Create a new user account
// @Tags user
// @Accept json
// @Produce json
// @Param request body CreateUserRequest true "Account details"
// @Success 201 {object} UserResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 409 {object} map[string]interface{} "Email already registered"
// @Router /user/create [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	user, err := CreateUser(c.Request.Context(), h.db, NewUser{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, userToResponse(user))
}

// Token exchanges credentials for a session token
// @Summary Create a token
// @Description Authenticate with email and password to receive a token
// @Tags user
// @Accept json
// @Produce json
// @Param request body TokenRequest true "Credentials"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} map[string]interface{} "Invalid credentials"
// @Failure 429 {object} map[string]interface{} "Too many requests"
// @Router /user/token [post]
func (h *Handler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	user, err := Authenticate(c.Request.Context(), h.db, req.Email, req.Password)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	token, expiresAt, err := h.issuer.Generate(user)
	if err != nil {
		apperr.Respond(c, apperr.Internal("failed to generate token", err))
		return
	}

	c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expiresAt})
}

// Me returns the current authenticated user
// @Summary Get current user
// @Tags user
// @Produce json
// @Success 200 {object} UserResponse
// @Failure 401 {object} map[string]interface{} "Authentication required"
// @Security BearerAuth
// @Router /user/me [get]
func (h *Handler) Me(c *gin.Context) {
	userID, _ := GetUserID(c)

	var user models.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		apperr.Respond(c, apperr.FromStore(err, "User not found"))
		return
	}

	c.JSON(http.StatusOK, userToResponse(&user))
}

// UpdateMe partially updates the current user
// @Summary Update current user
// @Tags user
// @Accept json
// @Produce json
// @Param request body UpdateMeRequest true "Fields to change"
// @Success 200 {object} UserResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 409 {object} map[string]interface{} "Email already registered"
// @Security BearerAuth
// @Router /user/me [patch]
func (h *Handler) UpdateMe(c *gin.Context) {
	userID, _ := GetUserID(c)

	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	h.applyProfile(c, userID, ProfileUpdate{Email: req.Email, Name: req.Name, Password: req.Password})
}

// ReplaceMe replaces every profile field of the current user
// @Summary Replace current user
// @Tags user
// @Accept json
// @Produce json
// @Param request body ReplaceMeRequest true "Full profile"
// @Success 200 {object} UserResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 409 {object} map[string]interface{} "Email already registered"
// @Security BearerAuth
// @Router /user/me [put]
func (h *Handler) ReplaceMe(c *gin.Context) {
	userID, _ := GetUserID(c)

	var req ReplaceMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	h.applyProfile(c, userID, ProfileUpdate{Email: &req.Email, Name: &req.Name, Password: &req.Password})
}

func (h *Handler) applyProfile(c *gin.Context, userID uint, upd ProfileUpdate) {
	user, err := UpdateProfile(c.Request.Context(), h.db, userID, upd)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, userToResponse(user))
}

// RegisterRoutes registers account routes on the given router group.
// requireAuth guards /me; tokenGuards run before the token endpoint.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, requireAuth gin.HandlerFunc, tokenGuards ...gin.HandlerFunc) {
	rg.POST("/create", h.Create)
	rg.POST("/token", append(tokenGuards, h.Token)...)
	rg.GET("/me", requireAuth, h.Me)
	rg.PATCH("/me", requireAuth, h.UpdateMe)
	rg.PUT("/me", requireAuth, h.ReplaceMe)
}
