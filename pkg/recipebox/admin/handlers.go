package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mikepea/recipebox/pkg/recipebox/apperr"
	"github.com/mikepea/recipebox/pkg/recipebox/auth"
	"github.com/mikepea/recipebox/pkg/recipebox/models"
)

var errUserNotFound = apperr.NotFound("User not found")

// Handler handles admin requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new admin handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// UserResponse represents user data in admin responses
type UserResponse struct {
	ID          uint      `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	IsActive    bool      `json:"is_active"`
	IsStaff     bool      `json:"is_staff"`
	CreatedAt   time.Time `json:"created_at"`
	RecipeCount int64     `json:"recipe_count"`
	TagCount    int64     `json:"tag_count"`
}

// UpdateUserRequest represents the request to update a user
type UpdateUserRequest struct {
	Name     *string `json:"name" binding:"omitnil,min=1,max=255"`
	IsActive *bool   `json:"is_active"`
	IsStaff  *bool   `json:"is_staff"`
}

// StatsResponse represents store-wide statistics
type StatsResponse struct {
	TotalUsers        int64 `json:"total_users"`
	ActiveUsers       int64 `json:"active_users"`
	StaffUsers        int64 `json:"staff_users"`
	TotalRecipes      int64 `json:"total_recipes"`
	RecipesWithImages int64 `json:"recipes_with_images"`
	TotalTags         int64 `json:"total_tags"`
	TotalIngredients  int64 `json:"total_ingredients"`
	APITokens         int64 `json:"api_tokens"`
}

func userID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		apperr.Respond(c, errUserNotFound)
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) toResponse(db *gorm.DB, user *models.User) (UserResponse, error) {
	resp := UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		IsActive:  user.IsActive,
		IsStaff:   user.IsStaff,
		CreatedAt: user.CreatedAt,
	}
	if err := db.Model(&models.Recipe{}).Where("user_id = ?", user.ID).Count(&resp.RecipeCount).Error; err != nil {
		return resp, err
	}
	err := db.Model(&models.Tag{}).Where("user_id = ?", user.ID).Count(&resp.TagCount).Error
	return resp, err
}

// ListUsers returns all users (staff only)
// @Summary List users
// @Tags admin
// @Produce json
// @Param q query string false "Search email or name"
// @Param is_staff query bool false "Filter by staff flag"
// @Success 200 {array} UserResponse
// @Failure 403 {object} map[string]interface{} "Staff only"
// @Security BearerAuth
// @Router /admin/users [get]
func (h *Handler) ListUsers(c *gin.Context) {
	db := h.db.WithContext(c.Request.Context())
	query := db.Order("created_at DESC, id DESC")

	// Optional search by email or name
	if search := c.Query("q"); search != "" {
		query = query.Where("email LIKE ? OR name LIKE ?", "%"+search+"%", "%"+search+"%")
	}

	if staff := c.Query("is_staff"); staff != "" {
		isStaff, err := strconv.ParseBool(staff)
		if err != nil {
			apperr.Respond(c, apperr.ValidationField("is_staff", "must be a boolean"))
			return
		}
		query = query.Where("is_staff = ?", isStaff)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch users", err))
		return
	}

	responses := make([]UserResponse, len(users))
	for i := range users {
		resp, err := h.toResponse(db, &users[i])
		if err != nil {
			apperr.Respond(c, apperr.Internal("Failed to count user data", err))
			return
		}
		responses[i] = resp
	}

	c.JSON(http.StatusOK, responses)
}

// GetUser returns a single user by ID (staff only)
// @Summary Get a user
// @Tags admin
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} UserResponse
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /admin/users/{id} [get]
func (h *Handler) GetUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}

	db := h.db.WithContext(c.Request.Context())
	var user models.User
	if err := db.First(&user, id).Error; err != nil {
		apperr.Respond(c, apperr.FromStore(err, errUserNotFound.Message))
		return
	}

	resp, err := h.toResponse(db, &user)
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to count user data", err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateUser changes a user's name, active or staff flag (staff only)
// @Summary Update a user
// @Tags admin
// @Accept json
// @Produce json
// @Param id path int true "User ID"
// @Param request body UpdateUserRequest true "Fields to change"
// @Success 200 {object} UserResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /admin/users/{id} [patch]
func (h *Handler) UpdateUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}

	db := h.db.WithContext(c.Request.Context())
	var user models.User
	if err := db.First(&user, id).Error; err != nil {
		apperr.Respond(c, apperr.FromStore(err, errUserNotFound.Message))
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	// Staff cannot lock themselves out
	currentUserID, _ := auth.GetUserID(c)
	if id == currentUserID {
		if req.IsStaff != nil && !*req.IsStaff {
			apperr.Respond(c, apperr.ValidationField("is_staff", "Cannot remove your own staff status"))
			return
		}
		if req.IsActive != nil && !*req.IsActive {
			apperr.Respond(c, apperr.ValidationField("is_active", "Cannot deactivate yourself"))
			return
		}
	}

	updates := make(map[string]interface{})
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.IsStaff != nil {
		updates["is_staff"] = *req.IsStaff
	}

	if len(updates) > 0 {
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			apperr.Respond(c, apperr.Internal("Failed to update user", err))
			return
		}
	}

	// Reload user
	if err := db.First(&user, id).Error; err != nil {
		apperr.Respond(c, apperr.FromStore(err, errUserNotFound.Message))
		return
	}

	resp, err := h.toResponse(db, &user)
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to count user data", err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteUser removes a user and everything they own (staff only).
// Image files are left for the media sweeper.
// @Summary Delete a user
// @Tags admin
// @Param id path int true "User ID"
// @Success 204
// @Failure 400 {object} map[string]interface{} "Cannot delete yourself"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /admin/users/{id} [delete]
func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}

	currentUserID, _ := auth.GetUserID(c)
	if id == currentUserID {
		apperr.Respond(c, apperr.Validation("Cannot delete yourself"))
		return
	}

	db := h.db.WithContext(c.Request.Context())
	var user models.User
	if err := db.First(&user, id).Error; err != nil {
		apperr.Respond(c, apperr.FromStore(err, errUserNotFound.Message))
		return
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		owned := tx.Model(&models.Recipe{}).Select("id").Where("user_id = ?", user.ID)
		if err := tx.Exec("DELETE FROM recipe_tags WHERE recipe_id IN (?)", owned).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM recipe_ingredients WHERE recipe_id IN (?)", owned).Error; err != nil {
			return err
		}
		for _, model := range []interface{}{&models.Recipe{}, &models.Tag{}, &models.Ingredient{}, &models.APIToken{}} {
			if err := tx.Where("user_id = ?", user.ID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to delete user", err))
		return
	}

	c.Status(http.StatusNoContent)
}

// GetStats returns store-wide statistics (staff only)
// @Summary Store statistics
// @Tags admin
// @Produce json
// @Success 200 {object} StatsResponse
// @Security BearerAuth
// @Router /admin/stats [get]
func (h *Handler) GetStats(c *gin.Context) {
	db := h.db.WithContext(c.Request.Context())
	var stats StatsResponse

	counts := []struct {
		query *gorm.DB
		dst   *int64
	}{
		{db.Model(&models.User{}), &stats.TotalUsers},
		{db.Model(&models.User{}).Where("is_active = ?", true), &stats.ActiveUsers},
		{db.Model(&models.User{}).Where("is_staff = ?", true), &stats.StaffUsers},
		{db.Model(&models.Recipe{}), &stats.TotalRecipes},
		{db.Model(&models.Recipe{}).Where("image <> ''"), &stats.RecipesWithImages},
		{db.Model(&models.Tag{}), &stats.TotalTags},
		{db.Model(&models.Ingredient{}), &stats.TotalIngredients},
		{db.Model(&models.APIToken{}), &stats.APITokens},
	}
	for _, cnt := range counts {
		if err := cnt.query.Count(cnt.dst).Error; err != nil {
			apperr.Respond(c, apperr.Internal("Failed to compute statistics", err))
			return
		}
	}

	c.JSON(http.StatusOK, stats)
}

// RegisterRoutes registers admin routes on the given router group.
// The group is expected to run auth.RequireStaff.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", h.GetStats)
	rg.GET("/users", h.ListUsers)
	rg.GET("/users/:id", h.GetUser)
	rg.PATCH("/users/:id", h.UpdateUser)
	rg.DELETE("/users/:id", h.DeleteUser)
}
