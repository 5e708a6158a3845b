package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recipe represents a recipe owned by a single user
type Recipe struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	UserID        uint            `gorm:"not null;index" json:"user_id"`
	Title         string          `gorm:"not null;size:255" json:"title"`
	Description   string          `gorm:"type:text" json:"description"`
	TimeMinutes   int             `gorm:"not null" json:"time_minutes"`
	Price         decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"price"`
	Link          string          `gorm:"size:255" json:"link"`
	Image         string          `json:"image"`          // Path relative to the media root
	ImageBlurHash string          `json:"image_blurhash"` // Placeholder for Image

	// Relationships
	User        User         `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Tags        []Tag        `gorm:"many2many:recipe_tags;constraint:OnDelete:CASCADE" json:"tags,omitempty"`
	Ingredients []Ingredient `gorm:"many2many:recipe_ingredients;constraint:OnDelete:CASCADE" json:"ingredients,omitempty"`
}

// BelongsTo reports whether the recipe is owned by the given user
func (r *Recipe) BelongsTo(userID uint) bool {
	return r.UserID == userID
}
