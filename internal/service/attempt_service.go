package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/kanshi-backend/internal/model"
	"github.com/stemsi/kanshi-backend/internal/repository"
)

// ExamCatalog resolves the exam fields the lifecycle depends on.
type ExamCatalog interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.ExamMeta, error)
}

// DriveStore is the drive membership store.
type DriveStore interface {
	GetDrive(ctx context.Context, id uuid.UUID) (*model.Drive, error)
	IncrementAttemptsUsed(ctx context.Context, driveID, userID uuid.UUID) error
}

// AttemptStore persists attempts.
type AttemptStore interface {
	FindStartedAttempt(ctx context.Context, key model.AttemptKey) (*model.Attempt, error)
	LatestAttempt(ctx context.Context, key model.AttemptKey) (*model.Attempt, error)
	MaxAttemptNo(ctx context.Context, key model.AttemptKey) (int, error)
	InsertAttempt(ctx context.Context, a *model.Attempt) error
	UpdateAttemptTerminal(ctx context.Context, a *model.Attempt) error
	ListOverdue(ctx context.Context, now time.Time, grace, maxDuration time.Duration, limit int) ([]model.Attempt, error)
}

// TxRunner runs fn atomically. Store calls made with the context passed to fn join the unit.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// writeTimeout bounds a write section once it no longer follows the caller's cancellation.
const writeTimeout = 10 * time.Second

// LifecyclePolicy carries the timing rules shared by submission and expiry.
type LifecyclePolicy struct {
	GracePeriod     time.Duration
	MaxExamDuration time.Duration
}

// DefaultLifecyclePolicy returns a two-minute grace period and a three-hour exam cap.
func DefaultLifecyclePolicy() LifecyclePolicy {
	return LifecyclePolicy{GracePeriod: 2 * time.Minute, MaxExamDuration: 180 * time.Minute}
}

// ExamDuration returns the exam's duration bounded by MaxExamDuration.
func (p LifecyclePolicy) ExamDuration(minutes int) time.Duration {
	d := time.Duration(minutes) * time.Minute
	if p.MaxExamDuration > 0 && d > p.MaxExamDuration {
		return p.MaxExamDuration
	}
	return d
}

// Deadline returns startedAt + duration + grace.
func (p LifecyclePolicy) Deadline(startedAt time.Time, durationMinutes int) time.Time {
	return startedAt.Add(p.ExamDuration(durationMinutes) + p.GracePeriod)
}

// AttemptService is the attempt lifecycle engine. It keeps no state of its own; every
// decision is taken against the stores, so any number of instances may run side by side.
type AttemptService struct {
	exams    ExamCatalog
	drives   DriveStore
	attempts AttemptStore
	tx       TxRunner
	events   EventPublisher
	policy   LifecyclePolicy
	log      zerolog.Logger
}

// NewAttemptService creates a new AttemptService. A nil publisher disables events.
func NewAttemptService(
	exams ExamCatalog,
	drives DriveStore,
	attempts AttemptStore,
	tx TxRunner,
	events EventPublisher,
	policy LifecyclePolicy,
	log zerolog.Logger,
) *AttemptService {
	if events == nil {
		events = NopEventPublisher{}
	}
	return &AttemptService{
		exams:    exams,
		drives:   drives,
		attempts: attempts,
		tx:       tx,
		events:   events,
		policy:   policy,
		log:      log.With().Str("component", "attempt_service").Logger(),
	}
}

// Policy returns the timing rules the engine applies.
func (s *AttemptService) Policy() LifecyclePolicy {
	return s.policy
}

// StartAttempt opens a new attempt for the candidate.
//
// Preconditions are checked in order: exam, enrollment, drive window, quota, in-progress attempt.
// A started attempt whose deadline already passed is expired first and does not block the start.
func (s *AttemptService) StartAttempt(ctx context.Context, userID, examID, driveID uuid.UUID, now time.Time) (*model.Attempt, error) {
	now = now.UTC().Truncate(time.Microsecond)

	exam, drive, cand, err := s.authorize(ctx, userID, examID, driveID)
	if err != nil {
		return nil, err
	}

	switch drive.Window(now) {
	case model.WindowNotYetOpen:
		return nil, ErrDriveNotOpen
	case model.WindowClosed:
		return nil, ErrDriveClosed
	}

	key := model.AttemptKey{UserID: userID, ExamID: examID, DriveID: driveID}
	started, err := s.findStarted(ctx, key)
	if err != nil {
		return nil, err
	}
	if started != nil && now.After(s.policy.Deadline(started.StartedAt, exam.DurationMinutes)) {
		if _, err := s.expire(ctx, started, exam); err != nil {
			return nil, err
		}
		started = nil
	}

	if !cand.HasQuota() {
		return nil, ErrQuotaExhausted
	}
	if started != nil {
		return nil, ErrAttemptInProgress
	}

	attempt := &model.Attempt{
		UserID:    userID,
		ExamID:    examID,
		DriveID:   driveID,
		Status:    model.AttemptStatusStarted,
		StartedAt: now,
	}

	wctx, cancel := detach(ctx)
	defer cancel()

	// Numbering, insert and quota consumption commit or roll back together.
	err = s.tx.InTx(wctx, func(ctx context.Context) error {
		n, err := s.attempts.MaxAttemptNo(ctx, key)
		if err != nil {
			return err
		}
		attempt.AttemptNo = n + 1

		if err := s.attempts.InsertAttempt(ctx, attempt); err != nil {
			return err
		}
		return s.drives.IncrementAttemptsUsed(ctx, driveID, userID)
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAttemptInProgress):
			return nil, ErrAttemptInProgress
		case errors.Is(err, repository.ErrQuotaExhausted):
			return nil, ErrQuotaExhausted
		default:
			return nil, unavailable("open attempt", err)
		}
	}

	s.logTransition(attempt).Msg("Attempt started")
	s.publish(wctx, EventAttemptStarted, attempt, now)
	return attempt, nil
}

// SubmitAttempt closes the candidate's running attempt with the grader's verdict.
// Past the deadline the attempt is expired instead, the verdict is discarded and
// ErrTimeExpired is returned.
func (s *AttemptService) SubmitAttempt(ctx context.Context, userID, examID, driveID uuid.UUID, score float64, isPassed bool, now time.Time) (*model.Attempt, error) {
	now = now.UTC().Truncate(time.Microsecond)

	exam, _, _, err := s.authorize(ctx, userID, examID, driveID)
	if err != nil {
		return nil, err
	}

	key := model.AttemptKey{UserID: userID, ExamID: examID, DriveID: driveID}
	started, err := s.findStarted(ctx, key)
	if err != nil {
		return nil, err
	}
	if started == nil {
		return nil, s.noActiveAttempt(ctx, key)
	}

	if now.After(s.policy.Deadline(started.StartedAt, exam.DurationMinutes)) {
		if _, err := s.expire(ctx, started, exam); err != nil {
			return nil, err
		}
		return nil, ErrTimeExpired
	}

	taken := int64(now.Sub(started.StartedAt) / time.Second)
	if taken < 0 {
		taken = 0
	}
	started.Status = model.AttemptStatusSubmitted
	started.SubmittedAt = &now
	started.DurationTaken = &taken
	started.Score = score
	started.IsPassed = isPassed

	wctx, cancel := detach(ctx)
	defer cancel()

	if err := s.attempts.UpdateAttemptTerminal(wctx, started); err != nil {
		if errors.Is(err, repository.ErrAttemptNotStarted) {
			// A concurrent submit or the sweeper closed it first.
			return nil, s.noActiveAttempt(wctx, key)
		}
		return nil, unavailable("submit attempt", err)
	}

	s.logTransition(started).Float64("score", score).Bool("is_passed", isPassed).Msg("Attempt submitted")
	s.publish(wctx, EventAttemptSubmitted, started, now)
	return started, nil
}

// GetAttemptState returns the running attempt with its deadline and remaining time.
// It never transitions the attempt; an overdue attempt reports zero seconds remaining.
func (s *AttemptService) GetAttemptState(ctx context.Context, userID, examID, driveID uuid.UUID, now time.Time) (*model.AttemptState, error) {
	now = now.UTC().Truncate(time.Microsecond)

	exam, _, _, err := s.authorize(ctx, userID, examID, driveID)
	if err != nil {
		return nil, err
	}

	started, err := s.findStarted(ctx, model.AttemptKey{UserID: userID, ExamID: examID, DriveID: driveID})
	if err != nil {
		return nil, err
	}
	if started == nil {
		return nil, ErrNoActiveAttempt
	}

	deadline := s.policy.Deadline(started.StartedAt, exam.DurationMinutes)
	remaining := int64(deadline.Sub(now) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return &model.AttemptState{Attempt: started, Deadline: deadline, RemainingSeconds: remaining}, nil
}

// ExpireOverdue expires up to limit started attempts whose deadline passed before now.
// It returns how many attempts this call expired.
func (s *AttemptService) ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC().Truncate(time.Microsecond)

	candidates, err := s.attempts.ListOverdue(ctx, now, s.policy.GracePeriod, s.policy.MaxExamDuration, limit)
	if err != nil {
		return 0, unavailable("list overdue attempts", err)
	}

	exams := make(map[uuid.UUID]*model.ExamMeta)
	expired := 0
	for i := range candidates {
		a := &candidates[i]

		exam, ok := exams[a.ExamID]
		if !ok {
			exam, err = s.exams.GetExam(ctx, a.ExamID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					s.log.Warn().Str("attempt_id", a.ID.String()).Str("exam_id", a.ExamID.String()).
						Msg("Started attempt references a missing exam, skipping")
					continue
				}
				return expired, unavailable("get exam", err)
			}
			exams[a.ExamID] = exam
		}

		if !now.After(s.policy.Deadline(a.StartedAt, exam.DurationMinutes)) {
			continue
		}
		done, err := s.expire(ctx, a, exam)
		if err != nil {
			return expired, err
		}
		if done {
			expired++
		}
	}
	return expired, nil
}

// authorize runs the exam and enrollment checks shared by every candidate operation.
// Every enrollment failure is reported as ErrNotEnrolled so drive contents are not leaked.
func (s *AttemptService) authorize(ctx context.Context, userID, examID, driveID uuid.UUID) (*model.ExamMeta, *model.Drive, *model.Candidate, error) {
	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, nil, ErrExamNotFound
		}
		return nil, nil, nil, unavailable("get exam", err)
	}
	if exam.Retired {
		return nil, nil, nil, ErrExamNotFound
	}

	drive, err := s.drives.GetDrive(ctx, driveID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, nil, ErrNotEnrolled
		}
		return nil, nil, nil, unavailable("get drive", err)
	}
	if drive.Retired() || !drive.IncludesExam(examID) {
		return nil, nil, nil, ErrNotEnrolled
	}
	cand := drive.Candidate(userID)
	if cand == nil {
		return nil, nil, nil, ErrNotEnrolled
	}
	return exam, drive, cand, nil
}

// findStarted returns the tuple's started attempt, or nil when there is none.
func (s *AttemptService) findStarted(ctx context.Context, key model.AttemptKey) (*model.Attempt, error) {
	a, err := s.attempts.FindStartedAttempt(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, unavailable("find started attempt", err)
	}
	return a, nil
}

// noActiveAttempt explains why the tuple has no started attempt. A latest attempt that
// expired means the deadline passed, whoever closed it.
func (s *AttemptService) noActiveAttempt(ctx context.Context, key model.AttemptKey) error {
	latest, err := s.attempts.LatestAttempt(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNoActiveAttempt
		}
		return unavailable("find latest attempt", err)
	}
	if latest.Status == model.AttemptStatusExpired {
		return ErrTimeExpired
	}
	return ErrNoActiveAttempt
}

// detach keeps ctx values but not its cancellation, so a client that goes away cannot
// abort a write that may already have committed.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}

// expire closes a at its deadline with a zero score. It reports false without error when
// another request already moved the attempt out of started.
func (s *AttemptService) expire(ctx context.Context, a *model.Attempt, exam *model.ExamMeta) (bool, error) {
	deadline := s.policy.Deadline(a.StartedAt, exam.DurationMinutes)
	taken := int64(deadline.Sub(a.StartedAt) / time.Second)

	a.Status = model.AttemptStatusExpired
	a.SubmittedAt = &deadline
	a.DurationTaken = &taken
	a.Score = 0
	a.IsPassed = false

	ctx, cancel := detach(ctx)
	defer cancel()

	if err := s.attempts.UpdateAttemptTerminal(ctx, a); err != nil {
		if errors.Is(err, repository.ErrAttemptNotStarted) {
			s.log.Debug().Str("attempt_id", a.ID.String()).Msg("Attempt already closed, skipping expiry")
			return false, nil
		}
		return false, unavailable("expire attempt", err)
	}

	s.logTransition(a).Time("deadline", deadline).Msg("Attempt expired")
	s.publish(ctx, EventAttemptExpired, a, deadline)
	return true, nil
}

func (s *AttemptService) logTransition(a *model.Attempt) *zerolog.Event {
	return s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("user_id", a.UserID.String()).
		Str("exam_id", a.ExamID.String()).
		Str("drive_id", a.DriveID.String()).
		Int("attempt_no", a.AttemptNo).
		Str("status", string(a.Status))
}

func (s *AttemptService) publish(ctx context.Context, typ EventType, a *model.Attempt, at time.Time) {
	snapshot := *a
	if err := s.events.Publish(ctx, AttemptEvent{Type: typ, Attempt: &snapshot, Reported: at}); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Str("event", string(typ)).Msg("Failed to publish lifecycle event")
	}
}
