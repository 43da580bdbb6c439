package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AppError is the base interface for all engine errors surfaced to callers
type AppError interface {
	error
	HTTPStatus() int
	Code() string
}

// SchemaError reports a reference to a column, table or parameter that the
// table descriptor does not declare. It is a programming error in the caller
// and is never retried.
type SchemaError struct {
	Table   string
	Ref     string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("schema error on %s.%s: %s", e.Table, e.Ref, e.Message)
	}
	return fmt.Sprintf("schema error on %s: %s", e.Table, e.Message)
}

func (e *SchemaError) HTTPStatus() int {
	return http.StatusBadRequest
}

func (e *SchemaError) Code() string {
	return "SCHEMA_ERROR"
}

// NewSchemaError creates a new SchemaError
func NewSchemaError(table, ref, message string) *SchemaError {
	return &SchemaError{Table: table, Ref: ref, Message: message}
}

// NotFoundError represents a row that is absent or hidden from the caller.
// The two cases are deliberately indistinguishable.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s with ID '%s' not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) HTTPStatus() int {
	return http.StatusNotFound
}

func (e *NotFoundError) Code() string {
	return "NOT_FOUND"
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents one invalid field value
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"-"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) HTTPStatus() int {
	return http.StatusBadRequest
}

func (e *ValidationError) Code() string {
	return "VALIDATION_ERROR"
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ValidationErrors aggregates every field failure of one request so the
// caller can render them all at once.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) HTTPStatus() int {
	return http.StatusBadRequest
}

func (e ValidationErrors) Code() string {
	return "VALIDATION_ERROR"
}

// Fields returns the names of the failing fields in order
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, v := range e {
		fields = append(fields, v.Field)
	}
	return fields
}

// OrNil returns nil for an empty list so callers can return it as an error
func (e ValidationErrors) OrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// AuthorizationError represents an intention or permission the caller does
// not hold.
type AuthorizationError struct {
	Action     string
	Resource   string
	Permission string
}

func (e *AuthorizationError) Error() string {
	if e.Permission != "" {
		return fmt.Sprintf("not permitted: cannot %s %s (requires %s)", e.Action, e.Resource, e.Permission)
	}
	return fmt.Sprintf("not permitted: cannot %s %s", e.Action, e.Resource)
}

func (e *AuthorizationError) HTTPStatus() int {
	return http.StatusForbidden
}

func (e *AuthorizationError) Code() string {
	return "NOT_PERMITTED"
}

// NewAuthorizationError creates a new AuthorizationError
func NewAuthorizationError(action, resource, permission string) *AuthorizationError {
	return &AuthorizationError{Action: action, Resource: resource, Permission: permission}
}

// UnauthorizedError represents authentication failures
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unauthorized: %s", e.Reason)
	}
	return "unauthorized"
}

func (e *UnauthorizedError) HTTPStatus() int {
	return http.StatusUnauthorized
}

func (e *UnauthorizedError) Code() string {
	return "UNAUTHORIZED"
}

// NewUnauthorizedError creates a new UnauthorizedError
func NewUnauthorizedError(reason string) *UnauthorizedError {
	return &UnauthorizedError{Reason: reason}
}

// ConflictError represents an edit lock held by somebody else
type ConflictError struct {
	Resource string
	ID       string
	Holder   string
}

func (e *ConflictError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("%s '%s' is locked by %s", e.Resource, e.ID, e.Holder)
	}
	return fmt.Sprintf("%s '%s' is not locked by the caller", e.Resource, e.ID)
}

func (e *ConflictError) HTTPStatus() int {
	return http.StatusConflict
}

func (e *ConflictError) Code() string {
	return "CONFLICT"
}

// NewConflictError creates a new ConflictError
func NewConflictError(resource, id, holder string) *ConflictError {
	return &ConflictError{Resource: resource, ID: id, Holder: holder}
}

// InternalError represents unexpected server errors
type InternalError struct {
	Message string
	Cause   error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("internal error: %s (caused by: %v)", e.Message, e.Cause)
	}
	return fmt.Sprintf("internal error: %s", e.Message)
}

func (e *InternalError) HTTPStatus() int {
	return http.StatusInternalServerError
}

func (e *InternalError) Code() string {
	return "INTERNAL_ERROR"
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}

// NewInternalError creates a new InternalError
func NewInternalError(message string, cause error) *InternalError {
	return &InternalError{Message: message, Cause: cause}
}

// IsSchema checks if an error is a SchemaError
func IsSchema(err error) bool {
	var schema *SchemaError
	return errors.As(err, &schema)
}

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

// IsValidation checks if an error is a ValidationError or a ValidationErrors list
func IsValidation(err error) bool {
	var single *ValidationError
	if errors.As(err, &single) {
		return true
	}
	var list ValidationErrors
	return errors.As(err, &list)
}

// IsAuthorization checks if an error is an AuthorizationError
func IsAuthorization(err error) bool {
	var authz *AuthorizationError
	return errors.As(err, &authz)
}

// IsUnauthorized checks if an error is an UnauthorizedError
func IsUnauthorized(err error) bool {
	var unauthorized *UnauthorizedError
	return errors.As(err, &unauthorized)
}

// IsConflict checks if an error is a ConflictError
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 if the error doesn't implement AppError.
func GetHTTPStatus(err error) int {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// GetErrorCode returns the error code for an error.
// Returns "UNKNOWN_ERROR" if the error doesn't implement AppError.
func GetErrorCode(err error) string {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}
	return "UNKNOWN_ERROR"
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ToResponse converts an error to an ErrorResponse. Aggregated validation
// failures are listed in Details.
func ToResponse(err error) ErrorResponse {
	resp := ErrorResponse{
		Code:    GetErrorCode(err),
		Message: err.Error(),
	}
	var list ValidationErrors
	if errors.As(err, &list) {
		resp.Details = []*ValidationError(list)
		return resp
	}
	var single *ValidationError
	if errors.As(err, &single) {
		resp.Details = []*ValidationError{single}
	}
	return resp
}
