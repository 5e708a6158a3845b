package importexport

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mikepea/recipebox/pkg/recipebox/apperr"
	"github.com/mikepea/recipebox/pkg/recipebox/auth"
	"github.com/mikepea/recipebox/pkg/recipebox/models"
	"github.com/mikepea/recipebox/pkg/recipebox/recipes"
)

// Handler handles import/export requests
type Handler struct {
	service *recipes.Service
}

// NewHandler creates a new import/export handler
func NewHandler(service *recipes.Service) *Handler {
	return &Handler{service: service}
}

// ExportRecipe is the portable form of a recipe. Tags and ingredients are
// carried by name since ids are per-database.
type ExportRecipe struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	TimeMinutes int             `json:"time_minutes"`
	Price       decimal.Decimal `json:"price"`
	Link        string          `json:"link"`
	Tags        []string        `json:"tags"`
	Ingredients []string        `json:"ingredients"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ImportRequest represents an import request
type ImportRequest struct {
	Recipes []ExportRecipe `json:"recipes" binding:"required"`
	// SkipExisting skips recipes whose title the user already has
	SkipExisting bool `json:"skip_existing"`
}

// ImportResult represents the result of an import operation
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

func toExport(r *models.Recipe) ExportRecipe {
	out := ExportRecipe{
		Title:       r.Title,
		Description: r.Description,
		TimeMinutes: r.TimeMinutes,
		Price:       r.Price,
		Link:        r.Link,
		Tags:        make([]string, len(r.Tags)),
		Ingredients: make([]string, len(r.Ingredients)),
		CreatedAt:   r.CreatedAt,
	}
	for i, t := range r.Tags {
		out.Tags[i] = t.Name
	}
	for i, ing := range r.Ingredients {
		out.Ingredients[i] = ing.Name
	}
	return out
}

func toInput(r ExportRecipe) recipes.CreateInput {
	in := recipes.CreateInput{
		Title:       r.Title,
		Description: r.Description,
		TimeMinutes: r.TimeMinutes,
		Price:       r.Price,
		Link:        r.Link,
	}
	for _, name := range r.Tags {
		in.Tags = append(in.Tags, recipes.AttributeInput{Name: name})
	}
	for _, name := range r.Ingredients {
		in.Ingredients = append(in.Ingredients, recipes.AttributeInput{Name: name})
	}
	return in
}

// Import creates recipes from a previous export. Each recipe is created on
// its own, so one bad entry does not stop the rest.
// @Summary Import recipes
// @Tags recipe
// @Accept json
// @Produce json
// @Param request body ImportRequest true "Recipes to import"
// @Success 200 {object} ImportResult
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Security BearerAuth
// @Router /recipe/import [post]
func (h *Handler) Import(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	ctx := c.Request.Context()

	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	existing := map[string]bool{}
	if req.SkipExisting {
		current, err := h.service.List(ctx, userID, recipes.Filter{})
		if err != nil {
			apperr.Respond(c, err)
			return
		}
		for _, r := range current {
			existing[r.Title] = true
		}
	}

	result := ImportResult{
		Errors: []string{},
	}

	for i, r := range req.Recipes {
		if existing[r.Title] {
			result.Skipped++
			continue
		}

		if _, err := h.service.Create(ctx, userID, toInput(r)); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("recipe %d: %s", i, describe(err)))
			result.Skipped++
			continue
		}
		if req.SkipExisting {
			existing[r.Title] = true
		}
		result.Imported++
	}

	c.JSON(http.StatusOK, result)
}

func describe(err error) string {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code == apperr.CodeInternal {
		return "failed to store recipe"
	}
	for field, msg := range appErr.Details {
		return field + ": " + msg
	}
	return appErr.Message
}

// Export returns all of the user's recipes
// @Summary Export recipes
// @Tags recipe
// @Produce json
// @Param download query bool false "Send as a file attachment"
// @Success 200 {array} ExportRecipe
// @Security BearerAuth
// @Router /recipe/export [get]
func (h *Handler) Export(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	list, err := h.service.List(c.Request.Context(), userID, recipes.Filter{})
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	out := make([]ExportRecipe, len(list))
	for i := range list {
		out[i] = toExport(&list[i])
	}

	// Set content disposition for download
	if download, _ := strconv.ParseBool(c.Query("download")); download {
		c.Header("Content-Disposition", "attachment; filename=recipebox-export.json")
	}

	c.JSON(http.StatusOK, out)
}

// ExportSingle returns one recipe in export form
// @Summary Export a recipe
// @Tags recipe
// @Produce json
// @Param id path int true "Recipe ID"
// @Success 200 {object} ExportRecipe
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /recipe/export/{id} [get]
func (h *Handler) ExportSingle(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		apperr.Respond(c, apperr.NotFound("Recipe not found"))
		return
	}

	recipe, err := h.service.Get(c.Request.Context(), userID, uint(id))
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, toExport(recipe))
}

// RegisterRoutes registers import/export routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/import", h.Import)
	rg.GET("/export", h.Export)
	rg.GET("/export/:id", h.ExportSingle)
}
