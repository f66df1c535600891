package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/sataplan/server/pkg/errors"
	"github.com/sataplan/server/pkg/response"
	"github.com/sataplan/server/pkg/validator"
)

// bindAndValidate decodes the JSON body into dest and applies its validation
// tags. On failure the 400 response is already written; the handler just
// returns.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, apperrors.NewBadRequest("request body must be valid JSON"))
		return false
	}

	if err := validator.ValidateStruct(dest); err != nil {
		response.Error(c, apperrors.NewBadRequest(validationMessage(err)))
		return false
	}

	return true
}

// validationMessage flattens field failures into one client-readable line.
func validationMessage(err error) string {
	failures, ok := err.(validator.ValidationErrors)
	if !ok || len(failures) == 0 {
		return "request payload failed validation"
	}

	parts := make([]string, len(failures))
	for i, failure := range failures {
		parts[i] = describeFailure(failure)
	}
	return strings.Join(parts, "; ")
}

func describeFailure(failure validator.ValidationError) string {
	field := strings.ToLower(strings.ReplaceAll(failure.Field, "_", " "))
	if field == "" {
		field = "field"
	}

	switch failure.Tag {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "url":
		return field + " must be a valid URL"
	case "min":
		return field + " must be at least " + failure.Param + " characters"
	case "max":
		return field + " must be at most " + failure.Param + " characters"
	case "uuid4":
		return field + " must be a valid UUID"
	}

	if failure.Param != "" {
		return field + " failed on " + failure.Tag + "=" + failure.Param
	}
	return field + " failed on " + failure.Tag
}

// parseIntQuery reads an integer query parameter, falling back when the value
// is missing or malformed.
func parseIntQuery(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
