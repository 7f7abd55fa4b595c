package model

import "github.com/google/uuid"

// CandidateSummary is a per-candidate row of a drive's result summary.
type CandidateSummary struct {
	UserID            uuid.UUID `json:"user_id"`
	AttemptsUsed      int       `json:"attempts_used"`
	MaxAttempts       int       `json:"max_attempts"`
	TerminalAttempts  int       `json:"terminal_attempts"`
	BestScore         *float64  `json:"best_score"`
	Passed            bool      `json:"passed"`
	MeetsPassingMarks bool      `json:"meets_passing_marks"`
}

// DriveSummary aggregates the terminal attempts of every roster candidate in a drive.
type DriveSummary struct {
	DriveID      uuid.UUID          `json:"drive_id"`
	PassingMarks float64            `json:"passing_marks"`
	Candidates   []CandidateSummary `json:"candidates"`
}
