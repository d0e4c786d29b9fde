package utils

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusReq struct {
	UserID string `validate:"required"`
	Status string `validate:"oneof=online away"`
	Limit  int    `validate:"min=1"`
}

func TestValidationErr(t *testing.T) {
	err := validator.New().Struct(statusReq{Status: "gone"})
	var ve validator.ValidationErrors
	require.True(t, errors.As(err, &ve))

	out := ValidationErr(ve)
	require.Len(t, out, 3)
	assert.Equal(t, CustomErrorResponse{Field: "UserID", Tag: "required", Message: "This field is required."}, out[0])
	assert.Equal(t, "Must be one of: online away.", out[1].Message)
	assert.Equal(t, "Must be at least 1.", out[2].Message)

	assert.Equal(t,
		"UserID: This field is required.; Status: Must be one of: online away.; Limit: Must be at least 1.",
		ValidationSummary(ve))
}
