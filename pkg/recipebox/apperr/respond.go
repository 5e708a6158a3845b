package apperr

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Respond writes err as a JSON error body and aborts the request.
// Errors that are not *Error are logged and reported as internal errors.
func Respond(c *gin.Context, err error) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = Internal("internal error", err)
	}

	if appErr.Code == CodeInternal {
		log.Ctx(c.Request.Context()).Error().Err(err).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}

	body := gin.H{
		"error": appErr.Message,
		"code":  appErr.Code,
	}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus(), body)
}

// FromBinding converts a gin binding error into a validation error with
// field-level details where the validator provides them.
func FromBinding(err error) *Error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return ValidationWithDetails("Invalid request body", FieldErrors(verrs))
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return ValidationField(typeErr.Field, "wrong type, expected "+typeErr.Type.String())
	}

	if errors.Is(err, io.EOF) {
		return Validation("Request body is required")
	}

	return Validation(err.Error())
}

// FieldErrors converts validator errors into a field -> message map.
func FieldErrors(verrs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = describe(fe)
	}
	return details
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "enter a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "url":
		return "enter a valid URL"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
