package auth

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/mikepea/recipebox/pkg/recipebox/apperr"
	"github.com/mikepea/recipebox/pkg/recipebox/models"
)

// NewUser holds the fields needed to create an account.
type NewUser struct {
	Email    string
	Password string
	Name     string
	IsStaff  bool
}

// ProfileUpdate changes the non-nil fields of an account.
type ProfileUpdate struct {
	Email    *string
	Name     *string
	Password *string
}

// NormalizeEmail trims the address and lower-cases its domain part.
// The local part is left alone since it may be case sensitive.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}

// CreateUser stores a new account with a hashed password.
func CreateUser(ctx context.Context, db *gorm.DB, in NewUser) (*models.User, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return nil, apperr.ValidationField("email", "Users must have an email address")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, apperr.ValidationField("password", "must be at least 5 characters")
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal("failed to process password", err)
	}

	user := models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		IsActive:     true,
		IsStaff:      in.IsStaff,
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errEmailTaken
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, emailError(err)
	}
	return &user, nil
}

// Authenticate returns the active user matching email and password.
// Every failure yields the same validation error so callers cannot probe
// which accounts exist.
func Authenticate(ctx context.Context, db *gorm.DB, email, password string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, errBadCredentials
	}

	var user models.User
	if err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errBadCredentials
		}
		return nil, apperr.FromStore(err, "")
	}
	if !user.IsActive || !CheckPassword(password, user.PasswordHash) {
		return nil, errBadCredentials
	}
	return &user, nil
}

// UpdateProfile applies upd to the user's account. A new password is hashed
// before it is stored.
func UpdateProfile(ctx context.Context, db *gorm.DB, userID uint, upd ProfileUpdate) (*models.User, error) {
	var user models.User
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if upd.Email != nil {
			email := NormalizeEmail(*upd.Email)
			if email == "" {
				return apperr.ValidationField("email", "Users must have an email address")
			}
			if email != user.Email {
				var count int64
				if err := tx.Model(&models.User{}).Where("email = ? AND id <> ?", email, userID).Count(&count).Error; err != nil {
					return err
				}
				if count > 0 {
					return errEmailTaken
				}
			}
			updates["email"] = email
		}
		if upd.Name != nil {
			updates["name"] = strings.TrimSpace(*upd.Name)
		}
		if upd.Password != nil {
			if len(*upd.Password) < MinPasswordLength {
				return apperr.ValidationField("password", "must be at least 5 characters")
			}
			hash, err := HashPassword(*upd.Password)
			if err != nil {
				return apperr.Internal("failed to process password", err)
			}
			updates["password_hash"] = hash
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&user, userID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, emailError(err)
	}
	return &user, nil
}

var (
	errEmailTaken     = apperr.Conflict("A user with this email already exists")
	errBadCredentials = apperr.Validation("Unable to authenticate with provided credentials")
)

func emailError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errEmailTaken
	}
	return apperr.FromStore(err, "User not found")
}
