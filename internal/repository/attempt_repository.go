package repository

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/kanshi-backend/internal/model"
)

const attemptColumns = `id, user_id, exam_id, drive_id, attempt_no, status, started_at,
	submitted_at, duration_taken, score, is_passed, created_at, updated_at`

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row, a *model.Attempt) error {
	return row.Scan(&a.ID, &a.UserID, &a.ExamID, &a.DriveID, &a.AttemptNo, &a.Status, &a.StartedAt,
		&a.SubmittedAt, &a.DurationTaken, &a.Score, &a.IsPassed, &a.CreatedAt, &a.UpdatedAt)
}

func collectAttempts(rows pgx.Rows) ([]model.Attempt, error) {
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := scanAttempt(rows, &a); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// FindStartedAttempt retrieves the in-progress attempt of a tuple, or ErrNotFound.
func (r *AttemptRepository) FindStartedAttempt(ctx context.Context, key model.AttemptKey) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := scanAttempt(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE user_id = $1 AND exam_id = $2 AND drive_id = $3 AND status = $4`,
		key.UserID, key.ExamID, key.DriveID, model.AttemptStatusStarted,
	), a)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// LatestAttempt retrieves the highest-numbered attempt of a tuple, or ErrNotFound.
func (r *AttemptRepository) LatestAttempt(ctx context.Context, key model.AttemptKey) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := scanAttempt(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE user_id = $1 AND exam_id = $2 AND drive_id = $3
		 ORDER BY attempt_no DESC
		 LIMIT 1`,
		key.UserID, key.ExamID, key.DriveID,
	), a)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// MaxAttemptNo returns the highest attempt number recorded for a tuple, 0 if none.
func (r *AttemptRepository) MaxAttemptNo(ctx context.Context, key model.AttemptKey) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(MAX(attempt_no), 0)
		 FROM attempts
		 WHERE user_id = $1 AND exam_id = $2 AND drive_id = $3`,
		key.UserID, key.ExamID, key.DriveID,
	).Scan(&n)
	return n, err
}

// InsertAttempt creates a started attempt. A concurrent start for the same tuple trips one of the
// two unique indexes and is reported as ErrAttemptInProgress.
func (r *AttemptRepository) InsertAttempt(ctx context.Context, a *model.Attempt) error {
	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO attempts (user_id, exam_id, drive_id, attempt_no, status, started_at, score, is_passed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		a.UserID, a.ExamID, a.DriveID, a.AttemptNo, a.Status, a.StartedAt, a.Score, a.IsPassed,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if name, ok := uniqueViolation(err); ok && (name == constraintOneStarted || name == constraintAttemptNo) {
			return ErrAttemptInProgress
		}
		return err
	}
	return nil
}

// UpdateAttemptTerminal persists a terminal transition. The update only applies to a row that is
// still started; otherwise ErrAttemptNotStarted is returned and nothing changes.
func (r *AttemptRepository) UpdateAttemptTerminal(ctx context.Context, a *model.Attempt) error {
	err := conn(ctx, r.pool).QueryRow(ctx,
		`UPDATE attempts
		 SET status = $1, submitted_at = $2, duration_taken = $3, score = $4, is_passed = $5, updated_at = NOW()
		 WHERE id = $6 AND status = $7
		 RETURNING updated_at`,
		a.Status, a.SubmittedAt, a.DurationTaken, a.Score, a.IsPassed, a.ID, model.AttemptStatusStarted,
	).Scan(&a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAttemptNotStarted
		}
		return err
	}
	return nil
}

// ListOverdue returns up to limit started attempts whose deadline, computed from the exam
// duration capped at maxDuration plus grace, lies before now. Oldest first.
func (r *AttemptRepository) ListOverdue(ctx context.Context, now time.Time, grace, maxDuration time.Duration, limit int) ([]model.Attempt, error) {
	capSeconds := int(maxDuration / time.Second)
	if capSeconds <= 0 {
		capSeconds = math.MaxInt32
	}
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT a.id, a.user_id, a.exam_id, a.drive_id, a.attempt_no, a.status, a.started_at,
		        a.submitted_at, a.duration_taken, a.score, a.is_passed, a.created_at, a.updated_at
		 FROM attempts a
		 JOIN exams e ON e.id = a.exam_id
		 WHERE a.status = $1
		   AND a.started_at + make_interval(secs => (LEAST(e.duration_minutes * 60, $3::bigint) + $4::bigint)::double precision) < $2
		 ORDER BY a.started_at ASC
		 LIMIT $5`,
		model.AttemptStatusStarted, now, capSeconds, int(grace/time.Second), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

// ListByCandidate retrieves every attempt of a candidate within a drive, newest first.
func (r *AttemptRepository) ListByCandidate(ctx context.Context, driveID, userID uuid.UUID) ([]model.Attempt, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE drive_id = $1 AND user_id = $2
		 ORDER BY started_at DESC, attempt_no DESC`,
		driveID, userID,
	)
	if err != nil {
		return nil, err
	}
	return collectAttempts(rows)
}

// SummarizeDrive aggregates terminal attempts per roster candidate of a drive.
func (r *AttemptRepository) SummarizeDrive(ctx context.Context, driveID uuid.UUID) ([]model.CandidateSummary, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT dc.user_id, dc.attempts_used, dc.max_attempts,
		        COUNT(a.id) AS terminal_attempts,
		        MAX(a.score) AS best_score,
		        COALESCE(BOOL_OR(a.is_passed), FALSE) AS passed
		 FROM drive_candidates dc
		 LEFT JOIN attempts a
		        ON a.drive_id = dc.drive_id
		       AND a.user_id = dc.user_id
		       AND a.status IN ($2, $3)
		 WHERE dc.drive_id = $1
		 GROUP BY dc.user_id, dc.attempts_used, dc.max_attempts
		 ORDER BY best_score DESC NULLS LAST, dc.user_id ASC`,
		driveID, model.AttemptStatusSubmitted, model.AttemptStatusExpired,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CandidateSummary
	for rows.Next() {
		var s model.CandidateSummary
		if err := rows.Scan(&s.UserID, &s.AttemptsUsed, &s.MaxAttempts,
			&s.TerminalAttempts, &s.BestScore, &s.Passed); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
