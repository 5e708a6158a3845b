package models

import (
	"time"
)

// Tag is a label a user applies to their own recipes.
// Names are unique per owner, not globally.
type Tag struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_tag_owner_name" json:"user_id"`
	Name      string    `gorm:"not null;size:255;uniqueIndex:idx_tag_owner_name" json:"name"`

	// Relationships
	User    User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Recipes []Recipe `gorm:"many2many:recipe_tags;constraint:OnDelete:CASCADE" json:"-"`
}
