package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/kanshi-backend/internal/model"
	"github.com/stemsi/kanshi-backend/internal/repository"
)

// ResultStore is the query side of the attempt store.
type ResultStore interface {
	ListByCandidate(ctx context.Context, driveID, userID uuid.UUID) ([]model.Attempt, error)
	SummarizeDrive(ctx context.Context, driveID uuid.UUID) ([]model.CandidateSummary, error)
}

// DriveReader loads a drive.
type DriveReader interface {
	GetDrive(ctx context.Context, id uuid.UUID) (*model.Drive, error)
}

// ResultService serves read-only views over recorded attempts.
type ResultService struct {
	results ResultStore
	drives  DriveReader
}

// NewResultService creates a new ResultService.
func NewResultService(results ResultStore, drives DriveReader) *ResultService {
	return &ResultService{results: results, drives: drives}
}

// ListCandidateAttempts returns every attempt of a candidate in a drive, newest first.
func (s *ResultService) ListCandidateAttempts(ctx context.Context, driveID, userID uuid.UUID) ([]model.Attempt, error) {
	if _, err := s.drive(ctx, driveID); err != nil {
		return nil, err
	}
	return s.list(ctx, driveID, userID)
}

func (s *ResultService) list(ctx context.Context, driveID, userID uuid.UUID) ([]model.Attempt, error) {
	attempts, err := s.results.ListByCandidate(ctx, driveID, userID)
	if err != nil {
		return nil, unavailable("list candidate attempts", err)
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	return attempts, nil
}

// ListOwnAttempts is ListCandidateAttempts for the candidate themself. A missing or retired
// drive and a drive the user is not enrolled in all report ErrNotEnrolled.
func (s *ResultService) ListOwnAttempts(ctx context.Context, driveID, userID uuid.UUID) ([]model.Attempt, error) {
	drive, err := s.drive(ctx, driveID)
	if err != nil {
		if errors.Is(err, ErrDriveNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, err
	}
	if drive.Candidate(userID) == nil {
		return nil, ErrNotEnrolled
	}
	return s.list(ctx, driveID, userID)
}

// DriveSummary returns the best terminal score of every roster candidate in a drive.
func (s *ResultService) DriveSummary(ctx context.Context, driveID uuid.UUID) (*model.DriveSummary, error) {
	drive, err := s.drive(ctx, driveID)
	if err != nil {
		return nil, err
	}
	rows, err := s.results.SummarizeDrive(ctx, driveID)
	if err != nil {
		return nil, unavailable("summarize drive", err)
	}
	if rows == nil {
		rows = []model.CandidateSummary{}
	}
	for i := range rows {
		rows[i].MeetsPassingMarks = rows[i].BestScore != nil && *rows[i].BestScore >= drive.PassingMarks
	}
	return &model.DriveSummary{DriveID: drive.ID, PassingMarks: drive.PassingMarks, Candidates: rows}, nil
}

func (s *ResultService) drive(ctx context.Context, driveID uuid.UUID) (*model.Drive, error) {
	drive, err := s.drives.GetDrive(ctx, driveID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDriveNotFound
		}
		return nil, unavailable("get drive", err)
	}
	if drive.Retired() {
		return nil, ErrDriveNotFound
	}
	return drive, nil
}
