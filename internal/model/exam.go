package model

import (
	"time"

	"github.com/google/uuid"
)

// Difficulty enumerates the fixed difficulty tiers shared by exams and drives.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Exam represents an exam definition as seen by the attempt lifecycle.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Difficulty      Difficulty `json:"difficulty"`
	DurationMinutes int        `json:"duration_minutes"`
	IsActive        bool       `json:"is_active"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Retired reports whether the exam was soft-deleted and must be treated as absent.
func (e *Exam) Retired() bool {
	return e.DeletedAt != nil
}

// Duration returns the nominal exam duration.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// ExamMeta is the Redis-cached subset of an exam the lifecycle needs on every call.
type ExamMeta struct {
	ID              uuid.UUID `json:"id"`
	DurationMinutes int       `json:"duration_minutes"`
	Retired         bool      `json:"retired"`
}
