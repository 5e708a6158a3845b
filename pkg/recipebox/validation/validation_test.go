package validation

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Title       string `json:"title" validate:"required"`
	TimeMinutes int    `json:"time_minutes" validate:"gte=0"`
	Internal    string `validate:"required"`
}

func TestNewUsesJSONNames(t *testing.T) {
	err := New().Struct(sample{TimeMinutes: -1})
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	assert.ElementsMatch(t, []string{"title", "time_minutes", "Internal"}, fields)
}

func TestRegisterWithGinIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		RegisterWithGin()
		RegisterWithGin()
	})
}
