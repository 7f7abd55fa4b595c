package model

import (
	"time"

	"github.com/google/uuid"
)

// Drive is a time-boxed hiring cohort: a set of exams and a roster of candidates.
// The window is half-open, [StartsAt, EndsAt).
type Drive struct {
	ID           uuid.UUID                `json:"id"`
	Name         string                   `json:"name"`
	Code         string                   `json:"code"`
	Difficulty   Difficulty               `json:"difficulty"`
	PassingMarks float64                  `json:"passing_marks"`
	IsActive     bool                     `json:"is_active"`
	StartsAt     time.Time                `json:"starts_at"`
	EndsAt       time.Time                `json:"ends_at"`
	ExamIDs      map[uuid.UUID]struct{}   `json:"-"`
	Roster       map[uuid.UUID]*Candidate `json:"-"`
	DeletedAt    *time.Time               `json:"deleted_at,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// Candidate is a roster entry of a drive, keyed by user id.
type Candidate struct {
	UserID       uuid.UUID `json:"user_id"`
	AttemptsUsed int       `json:"attempts_used"`
	MaxAttempts  int       `json:"max_attempts"`
}

// HasQuota reports whether the candidate may consume another attempt.
func (c *Candidate) HasQuota() bool {
	return c.AttemptsUsed < c.MaxAttempts
}

// Retired reports whether the drive was soft-deleted.
func (d *Drive) Retired() bool {
	return d.DeletedAt != nil
}

// IncludesExam reports whether examID is one of the drive's exams.
func (d *Drive) IncludesExam(examID uuid.UUID) bool {
	_, ok := d.ExamIDs[examID]
	return ok
}

// Candidate returns the roster entry for userID, or nil when the user is not enrolled.
func (d *Drive) Candidate(userID uuid.UUID) *Candidate {
	return d.Roster[userID]
}

// WindowState classifies an instant against the drive's window.
type WindowState int

const (
	WindowOpen WindowState = iota
	WindowNotYetOpen
	WindowClosed
)

// Window reports where now falls relative to the drive's [StartsAt, EndsAt) window.
// An inactive drive is reported as closed.
func (d *Drive) Window(now time.Time) WindowState {
	switch {
	case !d.IsActive:
		return WindowClosed
	case now.Before(d.StartsAt):
		return WindowNotYetOpen
	case !now.Before(d.EndsAt):
		return WindowClosed
	default:
		return WindowOpen
	}
}
