package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/kanshi-backend/internal/model"
)

const examColumns = `id, title, description, difficulty, duration_minutes, is_active, deleted_at, created_at, updated_at`

// ExamRepository handles exam data access. Exams are read-only to the attempt lifecycle.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by its UUID, including retired (soft-deleted) ones.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.Difficulty, &e.DurationMinutes,
		&e.IsActive, &e.DeletedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// ListByDrive retrieves the live exams attached to a drive.
func (r *ExamRepository) ListByDrive(ctx context.Context, driveID uuid.UUID) ([]model.Exam, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT e.id, e.title, e.description, e.difficulty, e.duration_minutes,
		        e.is_active, e.deleted_at, e.created_at, e.updated_at
		 FROM exams e
		 JOIN drive_exams de ON de.exam_id = e.id
		 WHERE de.drive_id = $1 AND e.deleted_at IS NULL
		 ORDER BY e.title ASC`, driveID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Difficulty, &e.DurationMinutes,
			&e.IsActive, &e.DeletedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// Create inserts a new exam. Used by seeding; exam management lives outside this service.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO exams (title, description, difficulty, duration_minutes, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Description, e.Difficulty, e.DurationMinutes, e.IsActive,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}
