// Package attributes serves the per-user tag and ingredient collections.
// Both share one shape, so a single Handler is configured with a Kind.
package attributes

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mikepea/recipebox/pkg/recipebox/apperr"
	"github.com/mikepea/recipebox/pkg/recipebox/auth"
)

// Kind describes where one attribute type is stored
type Kind struct {
	Name      string // singular, used in messages
	Path      string // route segment
	Table     string
	JoinTable string
	JoinKey   string // column in JoinTable referencing Table
}

var (
	// Tags are recipe labels
	Tags = Kind{Name: "tag", Path: "tags", Table: "tags", JoinTable: "recipe_tags", JoinKey: "tag_id"}
	// Ingredients are recipe ingredients
	Ingredients = Kind{Name: "ingredient", Path: "ingredients", Table: "ingredients", JoinTable: "recipe_ingredients", JoinKey: "ingredient_id"}
)

// Handler handles tag or ingredient requests
type Handler struct {
	db   *gorm.DB
	kind Kind
}

// NewHandler creates a handler for one attribute kind
func NewHandler(db *gorm.DB, kind Kind) *Handler {
	return &Handler{db: db, kind: kind}
}

// AttributeResponse represents a tag or ingredient in API responses
type AttributeResponse struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// RenameRequest is the body for PATCH and PUT
type RenameRequest struct {
	Name string `json:"name" binding:"required,max=255"`
}

func (h *Handler) notFound() *apperr.Error {
	return apperr.NotFound(strings.ToUpper(h.kind.Name[:1]) + h.kind.Name[1:] + " not found")
}

func (h *Handler) owned(userID uint) *gorm.DB {
	return h.db.Table(h.kind.Table).Where(h.kind.Table+".user_id = ?", userID)
}

func (h *Handler) find(c *gin.Context, userID uint) (AttributeResponse, bool) {
	var attr AttributeResponse
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		apperr.Respond(c, h.notFound())
		return attr, false
	}

	err = h.owned(userID).WithContext(c.Request.Context()).
		Select("id, name").Where("id = ?", id).Take(&attr).Error
	if err != nil {
		apperr.Respond(c, apperr.FromStore(err, h.notFound().Message))
		return attr, false
	}
	return attr, true
}

// List returns the user's attributes, ordered by name descending.
// assigned_only=1 limits the result to those used by at least one recipe.
// @Summary List tags or ingredients
// @Tags recipe
// @Produce json
// @Param assigned_only query int false "1 to return only attributes used by a recipe"
// @Success 200 {array} AttributeResponse
// @Security BearerAuth
// @Router /recipe/tags [get]
// @Router /recipe/ingredients [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	q := h.owned(userID).WithContext(c.Request.Context()).Select("id, name")
	if assigned, _ := strconv.Atoi(c.Query("assigned_only")); assigned == 1 {
		q = q.Where("EXISTS (SELECT 1 FROM " + h.kind.JoinTable + " j WHERE j." + h.kind.JoinKey + " = " + h.kind.Table + ".id)")
	}

	attrs := []AttributeResponse{}
	if err := q.Order("name DESC").Find(&attrs).Error; err != nil {
		apperr.Respond(c, apperr.Internal("Failed to fetch "+h.kind.Path, err))
		return
	}

	c.JSON(http.StatusOK, attrs)
}

// Rename changes an attribute's name. Used for both PATCH and PUT.
// @Summary Rename a tag or ingredient
// @Tags recipe
// @Accept json
// @Produce json
// @Param id path int true "Attribute ID"
// @Param request body RenameRequest true "New name"
// @Success 200 {object} AttributeResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Failure 409 {object} map[string]interface{} "Name already used"
// @Security BearerAuth
// @Router /recipe/tags/{id} [patch]
// @Router /recipe/ingredients/{id} [patch]
func (h *Handler) Rename(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	attr, ok := h.find(c, userID)
	if !ok {
		return
	}

	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		apperr.Respond(c, apperr.ValidationField("name", "this field may not be blank"))
		return
	}

	err := h.owned(userID).WithContext(c.Request.Context()).
		Where("id = ?", attr.ID).
		Updates(map[string]interface{}{"name": name, "updated_at": time.Now()}).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			apperr.Respond(c, apperr.Conflict("A "+h.kind.Name+" with this name already exists"))
			return
		}
		apperr.Respond(c, apperr.Internal("Failed to update "+h.kind.Name, err))
		return
	}

	attr.Name = name
	c.JSON(http.StatusOK, attr)
}

// Delete removes an attribute and detaches it from every recipe
// @Summary Delete a tag or ingredient
// @Tags recipe
// @Param id path int true "Attribute ID"
// @Success 204
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /recipe/tags/{id} [delete]
// @Router /recipe/ingredients/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	attr, ok := h.find(c, userID)
	if !ok {
		return
	}

	err := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM "+h.kind.JoinTable+" WHERE "+h.kind.JoinKey+" = ?", attr.ID).Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM "+h.kind.Table+" WHERE id = ? AND user_id = ?", attr.ID, userID).Error
	})
	if err != nil {
		apperr.Respond(c, apperr.Internal("Failed to delete "+h.kind.Name, err))
		return
	}

	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the collection routes under the kind's path
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/"+h.kind.Path, h.List)
	rg.PATCH("/"+h.kind.Path+"/:id", h.Rename)
	rg.PUT("/"+h.kind.Path+"/:id", h.Rename)
	rg.DELETE("/"+h.kind.Path+"/:id", h.Delete)
}
