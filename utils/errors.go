package utils

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docqa-platform/internal/apperrors"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, statusCode int, errorCode, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error
func RespondWithBadRequest(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusBadRequest, "bad_request", message, details)
}

// RespondWithUnauthorized sends a 401 Unauthorized error
func RespondWithUnauthorized(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnauthorized, "unauthorized", message, nil)
}

// RespondWithForbidden sends a 403 Forbidden error
func RespondWithForbidden(c *gin.Context, message string) {
	RespondWithError(c, http.StatusForbidden, "forbidden", message, nil)
}

// RespondWithNotFound sends a 404 Not Found error
func RespondWithNotFound(c *gin.Context, message string) {
	RespondWithError(c, http.StatusNotFound, "not_found", message, nil)
}

// RespondWithInternalError sends a 500 Internal Server Error
func RespondWithInternalError(c *gin.Context, message string, details interface{}) {
	RespondWithError(c, http.StatusInternalServerError, "internal_error", message, details)
}

// RespondWithAppError maps the apperrors taxonomy onto HTTP statuses.
func RespondWithAppError(c *gin.Context, err error) {
	var rl *apperrors.RateLimitError
	switch {
	case errors.As(err, &rl):
		if rl.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		}
		RespondWithError(c, http.StatusTooManyRequests, "rate_limit_exceeded", err.Error(), gin.H{"limit": rl.Limit})
	case apperrors.IsValidation(err):
		RespondWithBadRequest(c, err.Error(), nil)
	case apperrors.IsNotFound(err):
		RespondWithNotFound(c, err.Error())
	case apperrors.IsTransient(err):
		RespondWithError(c, http.StatusServiceUnavailable, "backend_unavailable", "A backend service is temporarily unavailable", err.Error())
	default:
		RespondWithInternalError(c, "Internal server error", err.Error())
	}
}
