package rest

import (
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nexuscrm/tablekit/pkg/errors"
	"github.com/nexuscrm/tablekit/pkg/logger"
	"github.com/nexuscrm/tablekit/pkg/visibility"
)

// FieldMessage is the key of the human readable message in write responses
const FieldMessage = "message"

// RespondAppError sends a standardised JSON error response using pkg/errors
func RespondAppError(c *gin.Context, log logger.Logger, err error) {
	code := errors.GetHTTPStatus(err)
	if code >= 500 {
		log.ErrorWithContext(c.Request.Context(), "request failed",
			zap.Int("status", code),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(code, errors.ToResponse(err))
}

// BindJSON binds JSON and reports whether it succeeded. On failure a 400 has
// already been sent.
func BindJSON(c *gin.Context, log logger.Logger, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		RespondAppError(c, log, errors.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

// BindOptionalJSON is BindJSON for endpoints where an empty body means the
// zero value
func BindOptionalJSON(c *gin.Context, log logger.Logger, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !stderrors.Is(err, io.EOF) {
		RespondAppError(c, log, errors.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

// HandleGetEnvelope executes a read action and returns the result wrapped in a JSON key
// Response: { [key]: result }
func HandleGetEnvelope(c *gin.Context, log logger.Logger, key string, action func() (interface{}, error)) {
	result, err := action()
	if err != nil {
		RespondAppError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{key: result})
}

// IntentionContext builds the request's intention context from the
// intention query parameter and the resolved caller. Without the parameter
// a signed-in caller reads as user and an anonymous one as public.
func IntentionContext(c *gin.Context) (visibility.Context, error) {
	user := visibility.UserFrom(c.Request.Context())

	intention := visibility.IntentionPublic
	if raw := c.Query("intention"); raw != "" {
		parsed, err := visibility.ParseIntention(raw)
		if err != nil {
			return visibility.Context{}, errors.NewValidationError("intention", err.Error())
		}
		intention = parsed
	} else if user != nil {
		intention = visibility.IntentionUser
	}

	switch intention {
	case visibility.IntentionPublic:
		return visibility.Public(), nil
	case visibility.IntentionUser:
		if user == nil {
			return visibility.Context{}, errors.NewUnauthorizedError("the user intention needs a signed-in caller")
		}
		return visibility.ForUser(user), nil
	default:
		if user == nil {
			return visibility.Context{}, errors.NewUnauthorizedError("the admin intention needs a signed-in caller")
		}
		ictx := visibility.ForAdmin(user)
		ictx.IncludeDeleted = c.Query("include_deleted") == "true"
		return ictx, nil
	}
}

// queryInt reads an integer query parameter, def when absent
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError(name, "must be an integer")
	}
	return n, nil
}
