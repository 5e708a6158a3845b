package recipes

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mikepea/recipebox/pkg/recipebox/apperr"
	"github.com/mikepea/recipebox/pkg/recipebox/auth"
	"github.com/mikepea/recipebox/pkg/recipebox/models"
)

// Handler handles recipe requests
type Handler struct {
	service        *Service
	mediaURL       string
	maxUploadBytes int64
}

// NewHandler creates a new recipe handler. Image paths are served below
// mediaURL; uploads larger than maxUploadBytes are refused.
func NewHandler(service *Service, mediaURL string, maxUploadBytes int64) *Handler {
	return &Handler{
		service:        service,
		mediaURL:       strings.TrimSuffix(mediaURL, "/"),
		maxUploadBytes: maxUploadBytes,
	}
}

// AttributeResponse represents a tag or ingredient in responses
type AttributeResponse struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// RecipeResponse is the list representation of a recipe
type RecipeResponse struct {
	ID          uint                `json:"id"`
	Title       string              `json:"title"`
	TimeMinutes int                 `json:"time_minutes"`
	Price       string              `json:"price"`
	Link        string              `json:"link"`
	Tags        []AttributeResponse `json:"tags"`
	Ingredients []AttributeResponse `json:"ingredients"`
}

// RecipeDetailResponse adds the description and image to RecipeResponse
type RecipeDetailResponse struct {
	RecipeResponse
	Description   string    `json:"description"`
	Image         *string   `json:"image"`
	ImageBlurHash string    `json:"image_blurhash,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ImageResponse is returned by the image upload
type ImageResponse struct {
	ID            uint   `json:"id"`
	Image         string `json:"image"`
	ImageBlurHash string `json:"image_blurhash"`
}

// RecipeRequest is the body for create and full update
type RecipeRequest struct {
	Title       string            `json:"title" binding:"required,max=255"`
	Description string            `json:"description"`
	TimeMinutes *int              `json:"time_minutes" binding:"required,gte=0"`
	Price       *decimal.Decimal  `json:"price" binding:"required"`
	Link        string            `json:"link" binding:"max=255"`
	Tags        *[]AttributeInput `json:"tags"`
	Ingredients *[]AttributeInput `json:"ingredients"`
}

// PatchRecipeRequest is the body for partial update. Absent and null
// fields are left unchanged.
type PatchRecipeRequest struct {
	Title       *string           `json:"title" binding:"omitnil,min=1,max=255"`
	Description *string           `json:"description"`
	TimeMinutes *int              `json:"time_minutes" binding:"omitnil,gte=0"`
	Price       *decimal.Decimal  `json:"price"`
	Link        *string           `json:"link" binding:"omitnil,max=255"`
	Tags        *[]AttributeInput `json:"tags"`
	Ingredients *[]AttributeInput `json:"ingredients"`
}

func tagsToResponse(tags []models.Tag) []AttributeResponse {
	out := make([]AttributeResponse, len(tags))
	for i, t := range tags {
		out[i] = AttributeResponse{ID: t.ID, Name: t.Name}
	}
	return out
}

func ingredientsToResponse(ingredients []models.Ingredient) []AttributeResponse {
	out := make([]AttributeResponse, len(ingredients))
	for i, ing := range ingredients {
		out[i] = AttributeResponse{ID: ing.ID, Name: ing.Name}
	}
	return out
}

func recipeToResponse(r *models.Recipe) RecipeResponse {
	return RecipeResponse{
		ID:          r.ID,
		Title:       r.Title,
		TimeMinutes: r.TimeMinutes,
		Price:       r.Price.StringFixed(2),
		Link:        r.Link,
		Tags:        tagsToResponse(r.Tags),
		Ingredients: ingredientsToResponse(r.Ingredients),
	}
}

func (h *Handler) recipeToDetail(r *models.Recipe) RecipeDetailResponse {
	resp := RecipeDetailResponse{
		RecipeResponse: recipeToResponse(r),
		Description:    r.Description,
		ImageBlurHash:  r.ImageBlurHash,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Image != "" {
		url := h.imageURL(r.Image)
		resp.Image = &url
	}
	return resp
}

func (h *Handler) imageURL(rel string) string {
	return h.mediaURL + "/" + rel
}

func recipeID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		apperr.Respond(c, errRecipeNotFound)
		return 0, false
	}
	return uint(id), true
}

// List returns the user's recipes
// @Summary List recipes
// @Description Newest first. tags and ingredients take comma separated names.
// @Tags recipe
// @Produce json
// @Param tags query string false "Comma separated tag names"
// @Param ingredients query string false "Comma separated ingredient names"
// @Success 200 {array} RecipeResponse
// @Security BearerAuth
// @Router /recipe/recipes [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	recipes, err := h.service.List(c.Request.Context(), userID, Filter{
		Tags:        ParseNames(c.Query("tags")),
		Ingredients: ParseNames(c.Query("ingredients")),
	})
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	responses := make([]RecipeResponse, len(recipes))
	for i := range recipes {
		responses[i] = recipeToResponse(&recipes[i])
	}
	c.JSON(http.StatusOK, responses)
}

// Create creates a recipe
// @Summary Create a recipe
// @Description Tags and ingredients are matched by name and created when missing
// @Tags recipe
// @Accept json
// @Produce json
// @Param request body RecipeRequest true "Recipe"
// @Success 201 {object} RecipeDetailResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Security BearerAuth
// @Router /recipe/recipes [post]
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req RecipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	in := CreateInput{
		Title:       req.Title,
		Description: req.Description,
		TimeMinutes: *req.TimeMinutes,
		Price:       *req.Price,
		Link:        req.Link,
	}
	if req.Tags != nil {
		in.Tags = *req.Tags
	}
	if req.Ingredients != nil {
		in.Ingredients = *req.Ingredients
	}

	recipe, err := h.service.Create(c.Request.Context(), userID, in)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.recipeToDetail(recipe))
}

// Get returns a single recipe
// @Summary Get a recipe
// @Tags recipe
// @Produce json
// @Param id path int true "Recipe ID"
// @Success 200 {object} RecipeDetailResponse
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /recipe/recipes/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := recipeID(c)
	if !ok {
		return
	}

	recipe, err := h.service.Get(c.Request.Context(), userID, id)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, h.recipeToDetail(recipe))
}

// Patch partially updates a recipe
// @Summary Update a recipe
// @Description Omitted fields are unchanged. An empty tags list removes all tags.
// @Tags recipe
// @Accept json
// @Produce json
// @Param id path int true "Recipe ID"
// @Param request body PatchRecipeRequest true "Fields to change"
// @Success 200 {object} RecipeDetailResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /recipe/recipes/{id} [patch]
func (h *Handler) Patch(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := recipeID(c)
	if !ok {
		return
	}

	var req PatchRecipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	h.update(c, userID, id, UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		TimeMinutes: req.TimeMinutes,
		Price:       req.Price,
		Link:        req.Link,
		Tags:        req.Tags,
		Ingredients: req.Ingredients,
	})
}

// Put replaces a recipe
// @Summary Replace a recipe
// @Description All scalar fields are required. Omitted tags or ingredients are unchanged.
// @Tags recipe
// @Accept json
// @Produce json
// @Param id path int true "Recipe ID"
// @Param request body RecipeRequest true "Recipe"
// @Success 200 {object} RecipeDetailResponse
// @Failure 400 {object} map[string]interface{} "Validation error"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /recipe/recipes/{id} [put]
func (h *Handler) Put(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := recipeID(c)
	if !ok {
		return
	}

	var req RecipeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.FromBinding(err))
		return
	}

	h.update(c, userID, id, UpdateInput{
		Title:       &req.Title,
		Description: &req.Description,
		TimeMinutes: req.TimeMinutes,
		Price:       req.Price,
		Link:        &req.Link,
		Tags:        req.Tags,
		Ingredients: req.Ingredients,
	})
}

func (h *Handler) update(c *gin.Context, userID, id uint, in UpdateInput) {
	recipe, err := h.service.Update(c.Request.Context(), userID, id, in)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, h.recipeToDetail(recipe))
}

// Delete deletes a recipe
// @Summary Delete a recipe
// @Tags recipe
// @Param id path int true "Recipe ID"
// @Success 204
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /recipe/recipes/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := recipeID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), userID, id); err != nil {
		apperr.Respond(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// UploadImage attaches an image to a recipe
// @Summary Upload a recipe image
// @Tags recipe
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Recipe ID"
// @Param image formData file true "Image file"
// @Success 200 {object} ImageResponse
// @Failure 400 {object} map[string]interface{} "Missing or invalid image"
// @Failure 404 {object} map[string]interface{} "Not found"
// @Security BearerAuth
// @Router /recipe/recipes/{id}/upload-image [post]
func (h *Handler) UploadImage(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	id, ok := recipeID(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	fileHeader, err := c.FormFile("image")
	if err != nil {
		apperr.Respond(c, apperr.ValidationField("image", "No file was submitted."))
		return
	}
	if fileHeader.Size > h.maxUploadBytes {
		apperr.Respond(c, apperr.ValidationField("image", "File is too large."))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		apperr.Respond(c, apperr.Internal("failed to read upload", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		apperr.Respond(c, apperr.Internal("failed to read upload", err))
		return
	}

	recipe, err := h.service.SetImage(c.Request.Context(), userID, id, data)
	if err != nil {
		apperr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, ImageResponse{
		ID:            recipe.ID,
		Image:         h.imageURL(recipe.Image),
		ImageBlurHash: recipe.ImageBlurHash,
	})
}

// RegisterRoutes registers recipe routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/recipes", h.List)
	rg.POST("/recipes", h.Create)
	rg.GET("/recipes/:id", h.Get)
	rg.PATCH("/recipes/:id", h.Patch)
	rg.PUT("/recipes/:id", h.Put)
	rg.DELETE("/recipes/:id", h.Delete)
	rg.POST("/recipes/:id/upload-image", h.UploadImage)
}
