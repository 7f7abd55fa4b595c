package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/kanshi-backend/internal/model"
	"github.com/stemsi/kanshi-backend/internal/response"
)

// DriveResults is the reporting read side used by admins and HR.
type DriveResults interface {
	ListCandidateAttempts(ctx context.Context, driveID, userID uuid.UUID) ([]model.Attempt, error)
	DriveSummary(ctx context.Context, driveID uuid.UUID) (*model.DriveSummary, error)
}

// ResultHandler serves drive results to staff.
type ResultHandler struct {
	results DriveResults
	log     zerolog.Logger
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(results DriveResults, log zerolog.Logger) *ResultHandler {
	return &ResultHandler{
		results: results,
		log:     log.With().Str("component", "result_handler").Logger(),
	}
}

// ListCandidateAttempts godoc
// GET /api/v1/admin/drives/:drive_id/candidates/:user_id/attempts
func (h *ResultHandler) ListCandidateAttempts(c *gin.Context) {
	driveID, err := uuid.Parse(c.Param("drive_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempts, err := h.results.ListCandidateAttempts(c.Request.Context(), driveID, userID)
	if err != nil {
		failLifecycle(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// DriveSummary godoc
// GET /api/v1/admin/drives/:drive_id/summary
func (h *ResultHandler) DriveSummary(c *gin.Context) {
	driveID, err := uuid.Parse(c.Param("drive_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	summary, err := h.results.DriveSummary(c.Request.Context(), driveID)
	if err != nil {
		failLifecycle(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}
