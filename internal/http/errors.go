package http

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sujalbistaa/qreview/internal/apperrors"
)

const maxBodyBytes = 100 << 10

var errBodyTooLarge = &apperrors.APIError{
	Code:       apperrors.ErrInvalidRequest,
	Message:    "Request body too large",
	HTTPStatus: http.StatusRequestEntityTooLarge,
}

var errInvalidID = apperrors.NewInvalidRequest("Invalid review id")

// abortWithError renders err as {"error": ..., "details"?: [...]}. Anything
// that is not an APIError is logged and hidden behind a 500.
func abortWithError(c *gin.Context, err error) {
	apiErr, ok := apperrors.As(err)
	if !ok {
		log.Error().
			Err(err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("Internal server error")
	}

	body := gin.H{"error": apiErr.Message}
	if len(apiErr.Details) > 0 {
		body["details"] = apiErr.Details
	}
	c.AbortWithStatusJSON(apiErr.HTTPStatus, body)
}

// bindJSON decodes the request body into dst. An empty body is accepted when
// allowEmpty is set and leaves dst untouched.
func bindJSON(c *gin.Context, dst any, allowEmpty bool) error {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return nil
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return errBodyTooLarge
	case allowEmpty && errors.Is(err, io.EOF):
		return nil
	default:
		return apperrors.NewInvalidRequest("Invalid JSON body")
	}
}

// maxStoredID is the largest id a signed 64-bit primary key can hold.
const maxStoredID = math.MaxInt64

// parseID accepts positive decimal ids only. Numeric ids past the key range
// cannot match a row, so they are clamped to maxStoredID and each operation
// reports its usual not-found outcome.
func parseID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	switch {
	case errors.Is(err, strconv.ErrRange), err == nil && id > maxStoredID:
		return maxStoredID, nil
	case err != nil || id == 0:
		return 0, errInvalidID
	}
	return uint(id), nil
}

// BodyLimit caps request bodies; oversized JSON surfaces as a 413 from
// bindJSON.
func BodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// Recovery turns panics into the standard 500 body.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error().
			Interface("panic", recovered).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("Recovered from panic")
		abortWithError(c, apperrors.ErrInternal)
	})
}
