package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mikepea/recipebox/pkg/recipebox/apperr"
)

const (
	// ContextKeyUserID is the key for user ID in gin context
	ContextKeyUserID = "user_id"
	// ContextKeyEmail is the key for email in gin context
	ContextKeyEmail = "email"
	// ContextKeyIsStaff is the key for the staff flag in gin context
	ContextKeyIsStaff = "is_staff"
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", apperr.Unauthorized("Authorization header required")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", apperr.Unauthorized("Invalid authorization header format")
	}
	return parts[1], nil
}

// SetIdentity records the authenticated user on the gin context.
func SetIdentity(c *gin.Context, userID uint, email string, isStaff bool) {
	c.Set(ContextKeyUserID, userID)
	c.Set(ContextKeyEmail, email)
	c.Set(ContextKeyIsStaff, isStaff)
}

// AuthMiddleware validates JWT tokens and sets user info in context
func AuthMiddleware(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := BearerToken(c)
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		claims, err := issuer.Validate(tokenString)
		if err != nil {
			if err == ErrExpiredToken {
				apperr.Respond(c, apperr.Unauthorized("Token has expired"))
			} else {
				apperr.Respond(c, apperr.Unauthorized("Invalid token"))
			}
			return
		}

		SetIdentity(c, claims.UserID, claims.Email, claims.IsStaff)
		c.Next()
	}
}

// RequireStaff rejects requests from users without the staff flag.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetUserID(c); !ok {
			apperr.Respond(c, apperr.Unauthorized("Authentication required"))
			return
		}
		if !IsStaff(c) {
			apperr.Respond(c, apperr.Forbidden("Staff access required"))
			return
		}
		c.Next()
	}
}

// GetUserID returns the user ID from the gin context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, false
	}
	id, ok := userID.(uint)
	return id, ok
}

// GetEmail returns the email from the gin context
func GetEmail(c *gin.Context) (string, bool) {
	email, exists := c.Get(ContextKeyEmail)
	if !exists {
		return "", false
	}
	s, ok := email.(string)
	return s, ok
}

// IsStaff reports whether the authenticated user is staff.
func IsStaff(c *gin.Context) bool {
	return c.GetBool(ContextKeyIsStaff)
}
