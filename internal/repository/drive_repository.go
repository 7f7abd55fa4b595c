package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/kanshi-backend/internal/model"
)

// DriveRepository handles hiring drives, their exam sets and their candidate rosters.
type DriveRepository struct {
	pool *pgxpool.Pool
}

// NewDriveRepository creates a new DriveRepository.
func NewDriveRepository(pool *pgxpool.Pool) *DriveRepository {
	return &DriveRepository{pool: pool}
}

// GetDrive loads a drive with its exam set and roster keyed by user id.
// Retired drives are returned as well; callers decide how to treat them.
func (r *DriveRepository) GetDrive(ctx context.Context, id uuid.UUID) (*model.Drive, error) {
	q := conn(ctx, r.pool)

	d := &model.Drive{
		ExamIDs: make(map[uuid.UUID]struct{}),
		Roster:  make(map[uuid.UUID]*model.Candidate),
	}
	err := q.QueryRow(ctx,
		`SELECT id, name, code, difficulty, passing_marks, is_active,
		        starts_at, ends_at, deleted_at, created_at, updated_at
		 FROM drives WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.Code, &d.Difficulty, &d.PassingMarks, &d.IsActive,
		&d.StartsAt, &d.EndsAt, &d.DeletedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	examRows, err := q.Query(ctx, `SELECT exam_id FROM drive_exams WHERE drive_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("list drive exams: %w", err)
	}
	defer examRows.Close()
	for examRows.Next() {
		var examID uuid.UUID
		if err := examRows.Scan(&examID); err != nil {
			return nil, err
		}
		d.ExamIDs[examID] = struct{}{}
	}
	if err := examRows.Err(); err != nil {
		return nil, err
	}

	candRows, err := q.Query(ctx,
		`SELECT user_id, attempts_used, max_attempts
		 FROM drive_candidates WHERE drive_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("list drive candidates: %w", err)
	}
	defer candRows.Close()
	for candRows.Next() {
		c := &model.Candidate{}
		if err := candRows.Scan(&c.UserID, &c.AttemptsUsed, &c.MaxAttempts); err != nil {
			return nil, err
		}
		d.Roster[c.UserID] = c
	}
	return d, candRows.Err()
}

// IncrementAttemptsUsed consumes one quota unit of a candidate. The update is conditional on
// attempts_used < max_attempts, so it fails with ErrQuotaExhausted instead of overshooting.
func (r *DriveRepository) IncrementAttemptsUsed(ctx context.Context, driveID, userID uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE drive_candidates
		 SET attempts_used = attempts_used + 1, updated_at = NOW()
		 WHERE drive_id = $1 AND user_id = $2 AND attempts_used < max_attempts`,
		driveID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrQuotaExhausted
	}
	return nil
}

// Create inserts a drive together with its exam set and roster in one transaction.
// Used by seeding; drive management lives outside this service.
func (r *DriveRepository) Create(ctx context.Context, d *model.Drive) error {
	return NewTxRunner(r.pool).InTx(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.pool)
		err := q.QueryRow(ctx,
			`INSERT INTO drives (name, code, difficulty, passing_marks, is_active, starts_at, ends_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at, updated_at`,
			d.Name, d.Code, d.Difficulty, d.PassingMarks, d.IsActive, d.StartsAt, d.EndsAt,
		).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert drive: %w", err)
		}

		for examID := range d.ExamIDs {
			if _, err := q.Exec(ctx,
				`INSERT INTO drive_exams (drive_id, exam_id) VALUES ($1, $2)`, d.ID, examID,
			); err != nil {
				return fmt.Errorf("insert drive exam: %w", err)
			}
		}

		for _, c := range d.Roster {
			if _, err := q.Exec(ctx,
				`INSERT INTO drive_candidates (drive_id, user_id, attempts_used, max_attempts)
				 VALUES ($1, $2, $3, $4)`,
				d.ID, c.UserID, c.AttemptsUsed, c.MaxAttempts,
			); err != nil {
				return fmt.Errorf("insert drive candidate: %w", err)
			}
		}
		return nil
	})
}

// ListLiveIDs returns the ids of active, non-retired drives whose window overlaps [from, until).
func (r *DriveRepository) ListLiveIDs(ctx context.Context, from, until time.Time) ([]uuid.UUID, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT id FROM drives
		 WHERE is_active AND deleted_at IS NULL AND starts_at < $2 AND ends_at > $1
		 ORDER BY starts_at ASC`, from, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
