package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/apperrors"
)

func TestRespondWithAppError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", apperrors.Validation("bad file"), http.StatusBadRequest, "bad_request"},
		{"not found", apperrors.NotFound("task", "t1"), http.StatusNotFound, "not_found"},
		{"rate limit", apperrors.RateLimited(10, time.Hour), http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"transient", apperrors.Transient("search", errors.New("down")), http.StatusServiceUnavailable, "backend_unavailable"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			RespondWithAppError(c, tc.err)

			assert.Equal(t, tc.status, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body.ErrorCode)
		})
	}
}

func TestRateLimitSetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondWithAppError(c, apperrors.RateLimited(5, 90*time.Second))

	assert.Equal(t, "90", w.Header().Get("Retry-After"))
}
