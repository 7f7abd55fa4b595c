package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states. Submitted and expired are terminal.
type AttemptStatus string

const (
	AttemptStatusStarted   AttemptStatus = "started"
	AttemptStatusSubmitted AttemptStatus = "submitted"
	AttemptStatusExpired   AttemptStatus = "expired"
)

// Terminal reports whether no further transition is possible from s.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusExpired
}

// AttemptKey identifies the (user, exam, drive) tuple attempts are numbered within.
type AttemptKey struct {
	UserID  uuid.UUID
	ExamID  uuid.UUID
	DriveID uuid.UUID
}

// Attempt is one timed sitting of one exam by one candidate within one drive.
type Attempt struct {
	ID            uuid.UUID     `json:"id"`
	UserID        uuid.UUID     `json:"user_id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	DriveID       uuid.UUID     `json:"drive_id"`
	AttemptNo     int           `json:"attempt_no"`
	Status        AttemptStatus `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	SubmittedAt   *time.Time    `json:"submitted_at"`
	DurationTaken *int64        `json:"duration_taken"`
	Score         float64       `json:"score"`
	IsPassed      bool          `json:"is_passed"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Key returns the attempt's identifying tuple.
func (a *Attempt) Key() AttemptKey {
	return AttemptKey{UserID: a.UserID, ExamID: a.ExamID, DriveID: a.DriveID}
}

// AttemptState is the read-only view of a running attempt used on page reloads.
type AttemptState struct {
	Attempt          *Attempt  `json:"attempt"`
	Deadline         time.Time `json:"deadline"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// StartAttemptRequest is the payload for starting an attempt.
type StartAttemptRequest struct {
	ExamID  string `json:"exam_id" binding:"required,uuid"`
	DriveID string `json:"drive_id" binding:"required,uuid"`
}

// SubmitAttemptRequest is the payload for submitting an attempt with the grader's verdict.
type SubmitAttemptRequest struct {
	ExamID   string   `json:"exam_id" binding:"required,uuid"`
	DriveID  string   `json:"drive_id" binding:"required,uuid"`
	Score    *float64 `json:"score" binding:"required,min=0"`
	IsPassed *bool    `json:"is_passed" binding:"required"`
}

// AttemptQuery identifies the attempt tuple of the authenticated candidate in query strings.
type AttemptQuery struct {
	ExamID  string `form:"exam_id" binding:"required,uuid"`
	DriveID string `form:"drive_id" binding:"required,uuid"`
}
