package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"schema", NewSchemaError("events", "nope", "unknown column"), http.StatusBadRequest, "SCHEMA_ERROR"},
		{"validation", NewValidationError("title", "is required"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"validation list", ValidationErrors{NewValidationError("a", "bad")}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"authorization", NewAuthorizationError("update", "events", "admin"), http.StatusForbidden, "NOT_PERMITTED"},
		{"not found", NewNotFoundError("events", "1"), http.StatusNotFound, "NOT_FOUND"},
		{"conflict", NewConflictError("pages", "1", "u2"), http.StatusConflict, "CONFLICT"},
		{"unauthorized", NewUnauthorizedError("expired"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError, "UNKNOWN_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, GetHTTPStatus(tt.err))
			assert.Equal(t, tt.code, GetErrorCode(tt.err))
		})
	}
}

func TestIsHelpersSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("mutate events: %w", NewSchemaError("events", "x", "unknown column"))
	assert.True(t, IsSchema(wrapped))
	assert.False(t, IsValidation(wrapped))

	list := fmt.Errorf("validate: %w", ValidationErrors{NewValidationError("a", "bad")})
	assert.True(t, IsValidation(list))
	assert.True(t, IsNotFound(fmt.Errorf("x: %w", NewNotFoundError("events", "1"))))
	assert.True(t, IsAuthorization(NewAuthorizationError("read", "events", "")))
	assert.True(t, IsConflict(NewConflictError("pages", "1", "")))
}

func TestValidationErrorsAggregate(t *testing.T) {
	var errs ValidationErrors
	assert.NoError(t, errs.OrNil())

	errs = append(errs, NewValidationError("title", "is required"), NewValidationError("color", "must be #rrggbb"))
	assert.Error(t, errs.OrNil())
	assert.Equal(t, []string{"title", "color"}, errs.Fields())

	resp := ToResponse(errs)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	assert.Len(t, resp.Details, 2)
}
