// Package recipes manages recipes together with the tags and ingredients
// attached to them.
//
// Every read and write is scoped to the requesting owner. A recipe owned by
// someone else is reported as not found, never as forbidden.
package recipes

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mikepea/recipebox/pkg/recipebox/apperr"
	"github.com/mikepea/recipebox/pkg/recipebox/images"
	"github.com/mikepea/recipebox/pkg/recipebox/metrics"
	"github.com/mikepea/recipebox/pkg/recipebox/models"
	"github.com/mikepea/recipebox/pkg/recipebox/validation"
)

const maxNameLength = 255

var (
	errRecipeNotFound = apperr.NotFound("Recipe not found")
	errBlankTitle     = apperr.ValidationField("title", "This field may not be blank.")
	maxPrice          = decimal.NewFromInt(1000)
)

// AttributeInput names a tag or ingredient.
type AttributeInput struct {
	Name string `json:"name"`
}

// CreateInput holds the fields of a new recipe.
type CreateInput struct {
	Title       string           `json:"title" validate:"required,max=255"`
	Description string           `json:"description"`
	TimeMinutes int              `json:"time_minutes" validate:"gte=0"`
	Price       decimal.Decimal  `json:"price"`
	Link        string           `json:"link" validate:"max=255"`
	Tags        []AttributeInput `json:"tags"`
	Ingredients []AttributeInput `json:"ingredients"`
}

// UpdateInput changes the non-nil fields of a recipe. A nil Tags leaves the
// recipe's tags alone; an empty slice removes them all; anything else
// replaces them. Ingredients behave the same way.
type UpdateInput struct {
	Title       *string           `json:"title" validate:"omitnil,min=1,max=255"`
	Description *string           `json:"description"`
	TimeMinutes *int              `json:"time_minutes" validate:"omitnil,gte=0"`
	Price       *decimal.Decimal  `json:"price"`
	Link        *string           `json:"link" validate:"omitnil,max=255"`
	Tags        *[]AttributeInput `json:"tags"`
	Ingredients *[]AttributeInput `json:"ingredients"`
}

// Filter restricts List to recipes carrying at least one of the named tags
// and at least one of the named ingredients. Empty sets do not filter.
type Filter struct {
	Tags        []string
	Ingredients []string
}

// Service implements recipe operations on top of the store.
type Service struct {
	db       *gorm.DB
	images   *images.Storage
	metrics  *metrics.Metrics
	log      zerolog.Logger
	validate *validator.Validate
}

// Option configures a Service.
type Option func(*Service)

// WithImageStore enables image uploads.
func WithImageStore(store *images.Storage) Option {
	return func(s *Service) { s.images = store }
}

// WithMetrics counts created recipes and attributes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a recipe service backed by db.
func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:       db,
		log:      zerolog.Nop(),
		validate: validation.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new recipe for ownerID, creating any tags and ingredients
// the owner does not have yet.
func (s *Service) Create(ctx context.Context, ownerID uint, in CreateInput) (*models.Recipe, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, errBlankTitle
	}
	if err := checkPrice(in.Price); err != nil {
		return nil, err
	}
	tagNames, err := attributeNames("tags", in.Tags)
	if err != nil {
		return nil, err
	}
	ingredientNames, err := attributeNames("ingredients", in.Ingredients)
	if err != nil {
		return nil, err
	}

	recipe := models.Recipe{
		UserID:      ownerID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		TimeMinutes: in.TimeMinutes,
		Price:       in.Price,
		Link:        strings.TrimSpace(in.Link),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&recipe).Error; err != nil {
			return err
		}
		if err := s.setTags(tx, &recipe, tagNames); err != nil {
			return err
		}
		return s.setIngredients(tx, &recipe, ingredientNames)
	})
	if err != nil {
		return nil, apperr.FromStore(err, "")
	}

	s.metrics.RecipeCreated()
	s.log.Debug().Uint("recipe_id", recipe.ID).Uint("user_id", ownerID).Msg("Recipe created")

	return s.Get(ctx, ownerID, recipe.ID)
}

// Update applies in to the owner's recipe in one transaction.
func (s *Service) Update(ctx context.Context, ownerID, recipeID uint, in UpdateInput) (*models.Recipe, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, errBlankTitle
	}
	if in.Price != nil {
		if err := checkPrice(*in.Price); err != nil {
			return nil, err
		}
	}

	var tagNames, ingredientNames []string
	var err error
	if in.Tags != nil {
		if tagNames, err = attributeNames("tags", *in.Tags); err != nil {
			return nil, err
		}
	}
	if in.Ingredients != nil {
		if ingredientNames, err = attributeNames("ingredients", *in.Ingredients); err != nil {
			return nil, err
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		recipe, err := findOwned(tx, ownerID, recipeID)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if in.Title != nil {
			updates["title"] = strings.TrimSpace(*in.Title)
		}
		if in.Description != nil {
			updates["description"] = *in.Description
		}
		if in.TimeMinutes != nil {
			updates["time_minutes"] = *in.TimeMinutes
		}
		if in.Price != nil {
			updates["price"] = *in.Price
		}
		if in.Link != nil {
			updates["link"] = strings.TrimSpace(*in.Link)
		}
		if len(updates) > 0 {
			if err := tx.Model(recipe).Updates(updates).Error; err != nil {
				return err
			}
		}

		if in.Tags != nil {
			if err := s.setTags(tx, recipe, tagNames); err != nil {
				return err
			}
		}
		if in.Ingredients != nil {
			if err := s.setIngredients(tx, recipe, ingredientNames); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(err, errRecipeNotFound.Message)
	}

	return s.Get(ctx, ownerID, recipeID)
}

// List returns the owner's recipes, newest first.
func (s *Service) List(ctx context.Context, ownerID uint, f Filter) ([]models.Recipe, error) {
	db := s.db.WithContext(ctx)
	q := db.Scopes(ownedBy(ownerID), withAttributes).Order("recipes.id DESC")

	// Filtering through IN subqueries keeps each recipe to a single row
	// however many of its tags match.
	if len(f.Tags) > 0 {
		q = q.Where("recipes.id IN (?)", db.Table("recipe_tags").
			Select("recipe_tags.recipe_id").
			Joins("JOIN tags ON tags.id = recipe_tags.tag_id").
			Where("tags.user_id = ? AND tags.name IN ?", ownerID, f.Tags))
	}
	if len(f.Ingredients) > 0 {
		q = q.Where("recipes.id IN (?)", db.Table("recipe_ingredients").
			Select("recipe_ingredients.recipe_id").
			Joins("JOIN ingredients ON ingredients.id = recipe_ingredients.ingredient_id").
			Where("ingredients.user_id = ? AND ingredients.name IN ?", ownerID, f.Ingredients))
	}

	var recipes []models.Recipe
	if err := q.Find(&recipes).Error; err != nil {
		return nil, apperr.FromStore(err, "")
	}
	return recipes, nil
}

// Get returns the owner's recipe with its tags and ingredients.
func (s *Service) Get(ctx context.Context, ownerID, recipeID uint) (*models.Recipe, error) {
	var recipe models.Recipe
	err := s.db.WithContext(ctx).Scopes(ownedBy(ownerID), withAttributes).First(&recipe, recipeID).Error
	if err != nil {
		return nil, apperr.FromStore(err, errRecipeNotFound.Message)
	}
	if !recipe.BelongsTo(ownerID) {
		return nil, errRecipeNotFound
	}
	return &recipe, nil
}

// Delete removes the owner's recipe, its tag and ingredient links and its
// image. Tags and ingredients themselves are kept.
func (s *Service) Delete(ctx context.Context, ownerID, recipeID uint) error {
	var image string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		recipe, err := findOwned(tx, ownerID, recipeID)
		if err != nil {
			return err
		}
		image = recipe.Image
		return tx.Select("Tags", "Ingredients").Delete(recipe).Error
	})
	if err != nil {
		return apperr.FromStore(err, errRecipeNotFound.Message)
	}

	s.removeImage(image)
	return nil
}

// SetImage stores data as the recipe's image, replacing any previous one.
func (s *Service) SetImage(ctx context.Context, ownerID, recipeID uint, data []byte) (*models.Recipe, error) {
	if s.images == nil {
		return nil, apperr.Internal("image storage is not configured", nil)
	}

	recipe, err := s.Get(ctx, ownerID, recipeID)
	if err != nil {
		return nil, err
	}

	info, err := images.Inspect(data)
	if err != nil {
		return nil, apperr.ValidationField("image",
			"Upload a valid image. The file you uploaded was either not an image or a corrupted image.")
	}

	rel, err := s.images.Save(data, info.Ext)
	if err != nil {
		return nil, apperr.Internal("failed to store image", err)
	}

	previous := recipe.Image
	result := s.db.WithContext(ctx).Model(&models.Recipe{}).
		Where("id = ? AND user_id = ?", recipeID, ownerID).
		Updates(map[string]interface{}{"image": rel, "image_blur_hash": info.BlurHash})
	if result.Error == nil && result.RowsAffected == 0 {
		result.Error = gorm.ErrRecordNotFound
	}
	if result.Error != nil {
		s.removeImage(rel)
		return nil, apperr.FromStore(result.Error, errRecipeNotFound.Message)
	}

	s.removeImage(previous)
	return s.Get(ctx, ownerID, recipeID)
}

func (s *Service) removeImage(rel string) {
	if rel == "" || s.images == nil {
		return
	}
	if err := s.images.Delete(rel); err != nil {
		s.log.Warn().Err(err).Str("path", rel).Msg("Failed to remove recipe image")
	}
}

func (s *Service) setTags(tx *gorm.DB, recipe *models.Recipe, names []string) error {
	tags, created, err := getOrCreate(tx, recipe.UserID, names, func(name string) models.Tag {
		return models.Tag{UserID: recipe.UserID, Name: name}
	})
	if err != nil {
		return err
	}
	s.metrics.AttributeCreated("tag", created)
	recipe.Tags = nil
	return replaceAssociation(tx, recipe, "Tags", tags)
}

func (s *Service) setIngredients(tx *gorm.DB, recipe *models.Recipe, names []string) error {
	ingredients, created, err := getOrCreate(tx, recipe.UserID, names, func(name string) models.Ingredient {
		return models.Ingredient{UserID: recipe.UserID, Name: name}
	})
	if err != nil {
		return err
	}
	s.metrics.AttributeCreated("ingredient", created)
	recipe.Ingredients = nil
	return replaceAssociation(tx, recipe, "Ingredients", ingredients)
}

func replaceAssociation[T any](tx *gorm.DB, recipe *models.Recipe, name string, values []T) error {
	assoc := tx.Model(recipe).Association(name)
	if len(values) == 0 {
		return assoc.Clear()
	}
	return assoc.Replace(values)
}

// getOrCreate returns the owner's rows for names, inserting the missing ones.
// The insert skips rows that already exist under the (user_id, name) unique
// index, so concurrent callers never create duplicates. The second result is
// the number of rows inserted.
func getOrCreate[T models.Tag | models.Ingredient](tx *gorm.DB, ownerID uint, names []string, build func(string) T) ([]T, int, error) {
	if len(names) == 0 {
		return nil, 0, nil
	}

	rows := make([]T, len(names))
	for i, name := range names {
		rows[i] = build(name)
	}
	result := tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "name"}},
			DoNothing: true,
		}).
		Create(&rows)
	if result.Error != nil {
		return nil, 0, result.Error
	}

	var existing []T
	if err := tx.Where("user_id = ? AND name IN ?", ownerID, names).Order("id").Find(&existing).Error; err != nil {
		return nil, 0, err
	}
	return existing, int(result.RowsAffected), nil
}

func findOwned(tx *gorm.DB, ownerID, recipeID uint) (*models.Recipe, error) {
	var recipe models.Recipe
	if err := tx.Scopes(ownedBy(ownerID)).First(&recipe, recipeID).Error; err != nil {
		return nil, err
	}
	if !recipe.BelongsTo(ownerID) {
		return nil, errRecipeNotFound
	}
	return &recipe, nil
}

func ownedBy(ownerID uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("recipes.user_id = ?", ownerID)
	}
}

func withAttributes(db *gorm.DB) *gorm.DB {
	byID := func(db *gorm.DB) *gorm.DB { return db.Order("id") }
	return db.Preload("Tags", byID).Preload("Ingredients", byID)
}

func (s *Service) check(in interface{}) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return apperr.ValidationWithDetails("Invalid recipe", apperr.FieldErrors(verrs))
	}
	return apperr.Validation(err.Error())
}

// checkPrice enforces the decimal(5,2) column: two decimal places, five digits.
func checkPrice(p decimal.Decimal) error {
	if !p.Equal(p.Round(2)) {
		return apperr.ValidationField("price", "Ensure that there are no more than 2 decimal places.")
	}
	if p.Abs().GreaterThanOrEqual(maxPrice) {
		return apperr.ValidationField("price", "Ensure that there are no more than 5 digits in total.")
	}
	return nil
}

// attributeNames trims and de-duplicates names, keeping first-seen order.
func attributeNames(field string, in []AttributeInput) ([]string, error) {
	seen := make(map[string]bool, len(in))
	names := make([]string, 0, len(in))
	for _, a := range in {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return nil, apperr.ValidationField(field, "names may not be blank")
		}
		if utf8.RuneCountInString(name) > maxNameLength {
			return nil, apperr.ValidationField(field, "names must be at most 255 characters")
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

// ParseNames splits a comma separated query value into distinct names.
func ParseNames(csv string) []string {
	var names []string
	seen := map[string]bool{}
	for _, part := range strings.Split(csv, ",") {
		name := strings.TrimSpace(part)
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
