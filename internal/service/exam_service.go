package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/kanshi-backend/internal/config"
	"github.com/stemsi/kanshi-backend/internal/model"
)

// ExamLoader reads exams from the system of record.
type ExamLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListByDrive(ctx context.Context, driveID uuid.UUID) ([]model.Exam, error)
}

// ExamService is the exam catalog seen by the lifecycle. It caches the duration and
// retired flag of each exam in Redis and always falls back to Postgres.
type ExamService struct {
	examRepo ExamLoader
	rdb      *redis.Client
	ttl      time.Duration
	log      zerolog.Logger
}

// NewExamService creates a new ExamService. A nil Redis client disables caching.
func NewExamService(examRepo ExamLoader, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		rdb:      rdb,
		ttl:      ttl,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// GetExam implements ExamCatalog. Retired exams are returned with Retired set.
func (s *ExamService) GetExam(ctx context.Context, id uuid.UUID) (*model.ExamMeta, error) {
	if meta, ok := s.cached(ctx, id); ok {
		return meta, nil
	}

	exam, err := s.examRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	meta := metaOf(exam)
	s.store(ctx, meta)
	return meta, nil
}

// Invalidate drops the cached entry of an exam.
func (s *ExamService) Invalidate(ctx context.Context, id uuid.UUID) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, config.CacheKey.ExamMetaKey(id.String())).Err()
}

// PrewarmDriveExams loads every live exam of a drive into Redis ahead of the drive window,
// so the first wave of starts does not stampede Postgres.
func (s *ExamService) PrewarmDriveExams(ctx context.Context, driveID uuid.UUID) (int, error) {
	exams, err := s.examRepo.ListByDrive(ctx, driveID)
	if err != nil {
		return 0, fmt.Errorf("list drive exams: %w", err)
	}
	if s.rdb == nil || len(exams) == 0 {
		return 0, nil
	}

	pipe := s.rdb.Pipeline()
	for i := range exams {
		payload, err := json.Marshal(metaOf(&exams[i]))
		if err != nil {
			return 0, fmt.Errorf("marshal exam meta: %w", err)
		}
		pipe.Set(ctx, config.CacheKey.ExamMetaKey(exams[i].ID.String()), payload, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Info().
		Str("drive_id", driveID.String()).
		Int("warmed", len(exams)).
		Msg("Drive exams prewarmed")
	return len(exams), nil
}

func (s *ExamService) cached(ctx context.Context, id uuid.UUID) (*model.ExamMeta, bool) {
	if s.rdb == nil {
		return nil, false
	}
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamMetaKey(id.String())).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Exam cache read failed, falling back to database")
		}
		return nil, false
	}

	var meta model.ExamMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Corrupt exam cache entry, reloading")
		return nil, false
	}
	return &meta, true
}

func (s *ExamService) store(ctx context.Context, meta *model.ExamMeta) {
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamMetaKey(meta.ID.String()), payload, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", meta.ID.String()).Msg("Exam cache write failed")
	}
}

func metaOf(e *model.Exam) *model.ExamMeta {
	return &model.ExamMeta{ID: e.ID, DurationMinutes: e.DurationMinutes, Retired: e.Retired()}
}
