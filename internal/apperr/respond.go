package apperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HTTPStatus maps an error to the status code reported to clients.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusInsufficientStorage
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindInvalidState:
		return http.StatusConflict
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Respond aborts the request with the JSON error body for err. Unclassified
// errors are reported as internal_error without their message.
func Respond(c *gin.Context, err error) {
	code, message := "internal_error", "internal error"
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		code, message = e.Code, e.Message
	}
	c.AbortWithStatusJSON(HTTPStatus(err), gin.H{
		"error": gin.H{"code": code, "message": message},
	})
}

// BadRequest aborts the request with an invalid_request error.
func BadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": gin.H{"code": "invalid_request", "message": message},
	})
}
