package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/kanshi-backend/internal/middleware"
	"github.com/stemsi/kanshi-backend/internal/model"
	"github.com/stemsi/kanshi-backend/internal/response"
	"github.com/stemsi/kanshi-backend/internal/validator"
)

// AttemptLifecycle is the engine surface exposed to candidates.
type AttemptLifecycle interface {
	StartAttempt(ctx context.Context, userID, examID, driveID uuid.UUID, now time.Time) (*model.Attempt, error)
	SubmitAttempt(ctx context.Context, userID, examID, driveID uuid.UUID, score float64, isPassed bool, now time.Time) (*model.Attempt, error)
	GetAttemptState(ctx context.Context, userID, examID, driveID uuid.UUID, now time.Time) (*model.AttemptState, error)
}

// CandidateResults lists a candidate's own attempts.
type CandidateResults interface {
	ListOwnAttempts(ctx context.Context, driveID, userID uuid.UUID) ([]model.Attempt, error)
}

// AttemptHandler handles candidate-facing attempt endpoints.
type AttemptHandler struct {
	lifecycle AttemptLifecycle
	results   CandidateResults
	now       func() time.Time
	log       zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(lifecycle AttemptLifecycle, results CandidateResults, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		lifecycle: lifecycle,
		results:   results,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/attempts/start
// Opens a new attempt of an exam inside a drive.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	examID, driveID, ok := parseTuple(c, req.ExamID, req.DriveID)
	if !ok {
		return
	}

	attempt, err := h.lifecycle.StartAttempt(c.Request.Context(), userID, examID, driveID, h.now())
	if err != nil {
		failLifecycle(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, attempt)
}

// SubmitAttempt godoc
// POST /api/v1/attempts/submit
// Records the grader's verdict on the running attempt. A late submission expires the
// attempt and answers 403 TIME_EXPIRED.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	examID, driveID, ok := parseTuple(c, req.ExamID, req.DriveID)
	if !ok {
		return
	}

	attempt, err := h.lifecycle.SubmitAttempt(c.Request.Context(), userID, examID, driveID, *req.Score, *req.IsPassed, h.now())
	if err != nil {
		failLifecycle(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, attempt)
}

// GetAttemptState godoc
// GET /api/v1/attempts/state?exam_id=&drive_id=
// Returns the running attempt with its deadline, for page reloads.
func (h *AttemptHandler) GetAttemptState(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var q model.AttemptQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	examID, driveID, ok := parseTuple(c, q.ExamID, q.DriveID)
	if !ok {
		return
	}

	state, err := h.lifecycle.GetAttemptState(c.Request.Context(), userID, examID, driveID, h.now())
	if err != nil {
		failLifecycle(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// ListMyAttempts godoc
// GET /api/v1/drives/:drive_id/attempts/me
func (h *AttemptHandler) ListMyAttempts(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	driveID, err := uuid.Parse(c.Param("drive_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempts, err := h.results.ListOwnAttempts(c.Request.Context(), driveID, userID)
	if err != nil {
		failLifecycle(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// parseTuple parses already-validated exam and drive ids.
func parseTuple(c *gin.Context, rawExam, rawDrive string) (uuid.UUID, uuid.UUID, bool) {
	examID, err := uuid.Parse(rawExam)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, uuid.Nil, false
	}
	driveID, err := uuid.Parse(rawDrive)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, uuid.Nil, false
	}
	return examID, driveID, true
}
