package repository_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/kanshi-backend/internal/model"
	"github.com/stemsi/kanshi-backend/internal/repository"
	"github.com/stemsi/kanshi-backend/internal/service"
	"github.com/stemsi/kanshi-backend/migrations"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// testPool migrates KANSHI_TEST_DATABASE_URL and empties every table, or skips the test.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("KANSHI_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("KANSHI_TEST_DATABASE_URL not set")
	}

	src, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
	srcErr, dbErr := m.Close()
	require.NoError(t, srcErr)
	require.NoError(t, dbErr)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE attempts, drive_candidates, drive_exams, drives, exams`)
	require.NoError(t, err)
	return pool
}

type seeded struct {
	exam  *model.Exam
	drive *model.Drive
	user  uuid.UUID
}

func seed(t *testing.T, pool *pgxpool.Pool, durationMinutes, maxAttempts int) seeded {
	t.Helper()
	ctx := context.Background()

	exam := &model.Exam{Title: "Go fundamentals", Difficulty: model.DifficultyMedium, DurationMinutes: durationMinutes, IsActive: true}
	require.NoError(t, repository.NewExamRepository(pool).Create(ctx, exam))

	user := uuid.New()
	drive := &model.Drive{
		Name:         "Autumn cohort",
		Code:         uuid.NewString()[:8],
		Difficulty:   model.DifficultyMedium,
		PassingMarks: 55.5,
		IsActive:     true,
		StartsAt:     t0.Add(-time.Hour),
		EndsAt:       t0.Add(24 * time.Hour),
		ExamIDs:      map[uuid.UUID]struct{}{exam.ID: {}},
		Roster:       map[uuid.UUID]*model.Candidate{user: {UserID: user, MaxAttempts: maxAttempts}},
	}
	require.NoError(t, repository.NewDriveRepository(pool).Create(ctx, drive))
	return seeded{exam: exam, drive: drive, user: user}
}

func (s seeded) key() model.AttemptKey {
	return model.AttemptKey{UserID: s.user, ExamID: s.exam.ID, DriveID: s.drive.ID}
}

func startedAttempt(s seeded, no int, at time.Time) *model.Attempt {
	return &model.Attempt{
		UserID: s.user, ExamID: s.exam.ID, DriveID: s.drive.ID,
		AttemptNo: no, Status: model.AttemptStatusStarted, StartedAt: at,
	}
}

func newAttemptService(pool *pgxpool.Pool) *service.AttemptService {
	return service.NewAttemptService(
		service.NewExamService(repository.NewExamRepository(pool), nil, time.Minute, zerolog.Nop()),
		repository.NewDriveRepository(pool),
		repository.NewAttemptRepository(pool),
		repository.NewTxRunner(pool),
		nil,
		service.DefaultLifecyclePolicy(),
		zerolog.Nop(),
	)
}

func TestDriveRepository_GetDrive(t *testing.T) {
	pool := testPool(t)
	s := seed(t, pool, 60, 2)
	drives := repository.NewDriveRepository(pool)
	ctx := context.Background()

	d, err := drives.GetDrive(ctx, s.drive.ID)
	require.NoError(t, err)
	assert.True(t, d.IncludesExam(s.exam.ID))
	require.NotNil(t, d.Candidate(s.user))
	assert.Equal(t, 2, d.Candidate(s.user).MaxAttempts)
	assert.Equal(t, 55.5, d.PassingMarks)
	assert.False(t, d.Retired())

	_, err = drives.GetDrive(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	ids, err := drives.ListLiveIDs(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{s.drive.ID}, ids)
}

func TestDriveRepository_IncrementAttemptsUsed(t *testing.T) {
	pool := testPool(t)
	s := seed(t, pool, 60, 1)
	drives := repository.NewDriveRepository(pool)
	ctx := context.Background()

	require.NoError(t, drives.IncrementAttemptsUsed(ctx, s.drive.ID, s.user))
	assert.ErrorIs(t, drives.IncrementAttemptsUsed(ctx, s.drive.ID, s.user), repository.ErrQuotaExhausted)
	assert.ErrorIs(t, drives.IncrementAttemptsUsed(ctx, s.drive.ID, uuid.New()), repository.ErrQuotaExhausted)

	d, err := drives.GetDrive(ctx, s.drive.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Candidate(s.user).AttemptsUsed)
}

func TestDriveRepository_LoweredQuotaBelowUsage(t *testing.T) {
	pool := testPool(t)
	s := seed(t, pool, 60, 3)
	drives := repository.NewDriveRepository(pool)
	ctx := context.Background()

	require.NoError(t, drives.IncrementAttemptsUsed(ctx, s.drive.ID, s.user))
	require.NoError(t, drives.IncrementAttemptsUsed(ctx, s.drive.ID, s.user))

	// Quota adjustment is administrative and may go below what was already used.
	_, err := pool.Exec(ctx,
		`UPDATE drive_candidates SET max_attempts = 1 WHERE drive_id = $1 AND user_id = $2`,
		s.drive.ID, s.user)
	require.NoError(t, err)

	assert.ErrorIs(t, drives.IncrementAttemptsUsed(ctx, s.drive.ID, s.user), repository.ErrQuotaExhausted)

	svc := newAttemptService(pool)
	_, err = svc.StartAttempt(ctx, s.user, s.exam.ID, s.drive.ID, t0)
	assert.ErrorIs(t, err, service.ErrQuotaExhausted)

	d, err := drives.GetDrive(ctx, s.drive.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Candidate(s.user).AttemptsUsed)
	assert.Equal(t, 1, d.Candidate(s.user).MaxAttempts)
}

func TestAttemptRepository_UniqueStarted(t *testing.T) {
	pool := testPool(t)
	s := seed(t, pool, 60, 3)
	attempts := repository.NewAttemptRepository(pool)
	ctx := context.Background()

	first := startedAttempt(s, 1, t0)
	require.NoError(t, attempts.InsertAttempt(ctx, first))
	assert.NotEqual(t, uuid.Nil, first.ID)

	assert.ErrorIs(t, attempts.InsertAttempt(ctx, startedAttempt(s, 2, t0)), repository.ErrAttemptInProgress)

	found, err := attempts.FindStartedAttempt(ctx, s.key())
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.True(t, found.StartedAt.Equal(t0))

	n, err := attempts.MaxAttemptNo(ctx, s.key())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	submittedAt := t0.Add(30 * time.Minute)
	taken := int64(1800)
	found.Status = model.AttemptStatusSubmitted
	found.SubmittedAt = &submittedAt
	found.DurationTaken = &taken
	found.Score = 42
	require.NoError(t, attempts.UpdateAttemptTerminal(ctx, found))
	assert.ErrorIs(t, attempts.UpdateAttemptTerminal(ctx, found), repository.ErrAttemptNotStarted)

	_, err = attempts.FindStartedAttempt(ctx, s.key())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	latest, err := attempts.LatestAttempt(ctx, s.key())
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusSubmitted, latest.Status)

	// The number is still unique per tuple once the first attempt is terminal.
	assert.ErrorIs(t, attempts.InsertAttempt(ctx, startedAttempt(s, 1, t0.Add(time.Hour))), repository.ErrAttemptInProgress)
	require.NoError(t, attempts.InsertAttempt(ctx, startedAttempt(s, 2, t0.Add(time.Hour))))

	latest, err = attempts.LatestAttempt(ctx, s.key())
	require.NoError(t, err)
	assert.Equal(t, 2, latest.AttemptNo)
	_, err = attempts.LatestAttempt(ctx, model.AttemptKey{UserID: uuid.New(), ExamID: s.exam.ID, DriveID: s.drive.ID})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTxRunner_RollsBack(t *testing.T) {
	pool := testPool(t)
	s := seed(t, pool, 60, 1)
	attempts := repository.NewAttemptRepository(pool)
	drives := repository.NewDriveRepository(pool)
	tx := repository.NewTxRunner(pool)
	ctx := context.Background()
	boom := errors.New("boom")

	err := tx.InTx(ctx, func(ctx context.Context) error {
		if err := attempts.InsertAttempt(ctx, startedAttempt(s, 1, t0)); err != nil {
			return err
		}
		if err := drives.IncrementAttemptsUsed(ctx, s.drive.ID, s.user); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = attempts.FindStartedAttempt(ctx, s.key())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	d, err := drives.GetDrive(ctx, s.drive.ID)
	require.NoError(t, err)
	assert.Zero(t, d.Candidate(s.user).AttemptsUsed)
}

func TestAttemptRepository_ListOverdue(t *testing.T) {
	pool := testPool(t)
	s := seed(t, pool, 600, 1)
	attempts := repository.NewAttemptRepository(pool)
	ctx := context.Background()

	require.NoError(t, attempts.InsertAttempt(ctx, startedAttempt(s, 1, t0)))

	// Capped at 180 minutes plus 2 minutes of grace.
	due, err := attempts.ListOverdue(ctx, t0.Add(182*time.Minute), 2*time.Minute, 180*time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = attempts.ListOverdue(ctx, t0.Add(182*time.Minute+time.Second), 2*time.Minute, 180*time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	due, err = attempts.ListOverdue(ctx, t0.Add(5*time.Hour), 2*time.Minute, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestAttemptRepository_SummarizeDrive(t *testing.T) {
	pool := testPool(t)
	s := seed(t, pool, 60, 2)
	attempts := repository.NewAttemptRepository(pool)
	ctx := context.Background()

	a := startedAttempt(s, 1, t0)
	require.NoError(t, attempts.InsertAttempt(ctx, a))
	at := t0.Add(62 * time.Minute)
	taken := int64(3720)
	a.Status, a.SubmittedAt, a.DurationTaken = model.AttemptStatusExpired, &at, &taken
	require.NoError(t, attempts.UpdateAttemptTerminal(ctx, a))
	require.NoError(t, attempts.InsertAttempt(ctx, startedAttempt(s, 2, t0.Add(2*time.Hour))))

	rows, err := attempts.SummarizeDrive(ctx, s.drive.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].TerminalAttempts)
	require.NotNil(t, rows[0].BestScore)
	assert.Zero(t, *rows[0].BestScore)
	assert.False(t, rows[0].Passed)

	list, err := attempts.ListByCandidate(ctx, s.drive.ID, s.user)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 2, list[0].AttemptNo)
}

func TestAttemptService_ConcurrentStartsOnPostgres(t *testing.T) {
	pool := testPool(t)
	s := seed(t, pool, 60, 5)
	svc := newAttemptService(pool)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make(map[string]int)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.StartAttempt(context.Background(), s.user, s.exam.ID, s.drive.ID, t0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				outcomes["ok"]++
			case errors.Is(err, service.ErrAttemptInProgress):
				outcomes["conflict"]++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes["ok"])
	assert.Equal(t, callers-1, outcomes["conflict"])

	d, err := repository.NewDriveRepository(pool).GetDrive(context.Background(), s.drive.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Candidate(s.user).AttemptsUsed)
}
