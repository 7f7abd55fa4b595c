package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/kanshi-backend/internal/model"
	"github.com/stemsi/kanshi-backend/internal/service"
)

func TestResultService_ListCandidateAttempts(t *testing.T) {
	f := newFixture(t, 60, 3)
	results := service.NewResultService(f.store, f.store)
	ctx := context.Background()

	f.start(t, t0)
	_, err := f.submit(t0.Add(20*time.Minute), 30, false)
	require.NoError(t, err)
	f.start(t, t0.Add(time.Hour))

	attempts, err := results.ListCandidateAttempts(ctx, f.driveID, f.userID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 2, attempts[0].AttemptNo)
	assert.Equal(t, 1, attempts[1].AttemptNo)

	none, err := results.ListCandidateAttempts(ctx, f.driveID, uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestResultService_ListOwnAttemptsHidesDrives(t *testing.T) {
	f := newFixture(t, 60, 1)
	results := service.NewResultService(f.store, f.store)
	ctx := context.Background()
	f.start(t, t0)

	own, err := results.ListOwnAttempts(ctx, f.driveID, f.userID)
	require.NoError(t, err)
	assert.Len(t, own, 1)

	_, err = results.ListOwnAttempts(ctx, f.driveID, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotEnrolled)

	_, err = results.ListOwnAttempts(ctx, uuid.New(), f.userID)
	assert.ErrorIs(t, err, service.ErrNotEnrolled)

	deleted := t0
	f.store.mutateDrive(f.driveID, func(d *model.Drive) { d.DeletedAt = &deleted })
	_, err = results.ListOwnAttempts(ctx, f.driveID, f.userID)
	assert.ErrorIs(t, err, service.ErrNotEnrolled)
}

func TestResultService_UnknownOrRetiredDrive(t *testing.T) {
	f := newFixture(t, 60, 1)
	results := service.NewResultService(f.store, f.store)
	ctx := context.Background()

	_, err := results.ListCandidateAttempts(ctx, uuid.New(), f.userID)
	assert.ErrorIs(t, err, service.ErrDriveNotFound)

	deleted := t0
	f.store.mutateDrive(f.driveID, func(d *model.Drive) { d.DeletedAt = &deleted })
	_, err = results.DriveSummary(ctx, f.driveID)
	assert.ErrorIs(t, err, service.ErrDriveNotFound)
}

func TestResultService_DriveSummary(t *testing.T) {
	f := newFixture(t, 60, 3)
	results := service.NewResultService(f.store, f.store)
	idle := f.addCandidate(1)
	ctx := context.Background()

	f.start(t, t0)
	_, err := f.submit(t0.Add(10*time.Minute), 45, false)
	require.NoError(t, err)
	f.start(t, t0.Add(15*time.Minute))
	_, err = f.submit(t0.Add(30*time.Minute), 80, true)
	require.NoError(t, err)
	// A running attempt does not count towards the summary.
	f.start(t, t0.Add(40*time.Minute))

	summary, err := results.DriveSummary(ctx, f.driveID)
	require.NoError(t, err)

	assert.Equal(t, f.driveID, summary.DriveID)
	assert.Equal(t, 50.0, summary.PassingMarks)
	require.Len(t, summary.Candidates, 2)

	rows := make(map[uuid.UUID]model.CandidateSummary)
	for _, r := range summary.Candidates {
		rows[r.UserID] = r
	}

	active := rows[f.userID]
	assert.Equal(t, 3, active.AttemptsUsed)
	assert.Equal(t, 2, active.TerminalAttempts)
	require.NotNil(t, active.BestScore)
	assert.Equal(t, 80.0, *active.BestScore)
	assert.True(t, active.Passed)
	assert.True(t, active.MeetsPassingMarks)

	unused := rows[idle]
	assert.Zero(t, unused.TerminalAttempts)
	assert.Nil(t, unused.BestScore)
	assert.False(t, unused.MeetsPassingMarks)
}

func TestResultService_StoreFailure(t *testing.T) {
	f := newFixture(t, 60, 1)
	f.store.getDriveErr = errors.New("too many connections")
	results := service.NewResultService(f.store, f.store)

	_, err := results.DriveSummary(context.Background(), f.driveID)

	assert.Equal(t, service.KindUnavailable, service.KindOf(err))
}
