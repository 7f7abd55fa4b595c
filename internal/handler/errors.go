package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/kanshi-backend/internal/response"
	"github.com/stemsi/kanshi-backend/internal/service"
)

const (
	retryConflictSeconds    = 30
	retryUnavailableSeconds = 5
)

// lifecycleStatus maps a lifecycle error to its HTTP status and response code.
func lifecycleStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, service.ErrDriveNotFound):
		return http.StatusNotFound, response.ErrDriveNotFound
	case errors.Is(err, service.ErrNoActiveAttempt):
		return http.StatusNotFound, response.ErrNoActiveAttempt
	case errors.Is(err, service.ErrNotEnrolled):
		return http.StatusForbidden, response.ErrNotEnrolled
	case errors.Is(err, service.ErrDriveNotOpen):
		return http.StatusForbidden, response.ErrDriveNotOpen
	case errors.Is(err, service.ErrDriveClosed):
		return http.StatusForbidden, response.ErrDriveClosed
	case errors.Is(err, service.ErrQuotaExhausted):
		return http.StatusForbidden, response.ErrQuotaExhausted
	case errors.Is(err, service.ErrTimeExpired):
		return http.StatusForbidden, response.ErrTimeExpired
	case errors.Is(err, service.ErrAttemptInProgress):
		return http.StatusConflict, response.ErrAttemptInProgress
	default:
		return http.StatusServiceUnavailable, response.ErrServiceUnavailable
	}
}

// failLifecycle writes the response for a lifecycle error. Store failures are logged and
// always surface as 503 so clients retry instead of treating them as a verdict.
func failLifecycle(c *gin.Context, log zerolog.Logger, err error) {
	status, code := lifecycleStatus(err)
	switch status {
	case http.StatusConflict:
		response.FailRetryable(c, status, code, retryConflictSeconds)
	case http.StatusServiceUnavailable:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Lifecycle store failure")
		response.FailRetryable(c, status, code, retryUnavailableSeconds)
	default:
		response.Fail(c, status, code)
	}
}
