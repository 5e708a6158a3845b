package models

import (
	"time"
)

// Ingredient is an ingredient a user attaches to their own recipes.
// Same ownership rules as Tag.
type Ingredient struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_ingredient_owner_name" json:"user_id"`
	Name      string    `gorm:"not null;size:255;uniqueIndex:idx_ingredient_owner_name" json:"name"`

	// Relationships
	User    User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Recipes []Recipe `gorm:"many2many:recipe_ingredients;constraint:OnDelete:CASCADE" json:"-"`
}
