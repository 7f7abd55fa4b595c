package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/kanshi-backend/internal/model"
	"github.com/stemsi/kanshi-backend/internal/repository"
	"github.com/stemsi/kanshi-backend/internal/service"
)

// memStore is an in-memory exam catalog, drive store, attempt store and transaction runner.
// Transactions are serialized and roll back on error, mirroring the unique indexes and the
// conditional updates of the Postgres schema.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	exams    map[uuid.UUID]*model.ExamMeta
	drives   map[uuid.UUID]*model.Drive
	attempts []model.Attempt

	getExamErr   error
	getDriveErr  error
	incrementErr error
	// staleOverdue, when set, is returned by ListOverdue instead of the live rows.
	staleOverdue []model.Attempt
	// honorCancel makes writes fail on a cancelled context, as a pgx round trip would.
	honorCancel bool
}

var (
	_ service.ExamCatalog  = (*memStore)(nil)
	_ service.DriveStore   = (*memStore)(nil)
	_ service.AttemptStore = (*memStore)(nil)
	_ service.TxRunner     = (*memStore)(nil)
	_ service.ResultStore  = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		exams:  make(map[uuid.UUID]*model.ExamMeta),
		drives: make(map[uuid.UUID]*model.Drive),
	}
}

func (s *memStore) GetExam(_ context.Context, id uuid.UUID) (*model.ExamMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getExamErr != nil {
		return nil, s.getExamErr
	}
	e, ok := s.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *memStore) GetDrive(_ context.Context, id uuid.UUID) (*model.Drive, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getDriveErr != nil {
		return nil, s.getDriveErr
	}
	d, ok := s.drives[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyDrive(d), nil
}

func (s *memStore) IncrementAttemptsUsed(_ context.Context, driveID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incrementErr != nil {
		return s.incrementErr
	}
	d, ok := s.drives[driveID]
	if !ok {
		return repository.ErrQuotaExhausted
	}
	c := d.Roster[userID]
	if c == nil || c.AttemptsUsed >= c.MaxAttempts {
		return repository.ErrQuotaExhausted
	}
	c.AttemptsUsed++
	return nil
}

func (s *memStore) FindStartedAttempt(_ context.Context, key model.AttemptKey) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.Key() == key && a.Status == model.AttemptStatusStarted {
			cp := a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) LatestAttempt(_ context.Context, key model.AttemptKey) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.Attempt
	for i := range s.attempts {
		if s.attempts[i].Key() == key && (latest == nil || s.attempts[i].AttemptNo > latest.AttemptNo) {
			latest = &s.attempts[i]
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *memStore) MaxAttemptNo(_ context.Context, key model.AttemptKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	highest := 0
	for _, a := range s.attempts {
		if a.Key() == key && a.AttemptNo > highest {
			highest = a.AttemptNo
		}
	}
	return highest, nil
}

func (s *memStore) InsertAttempt(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.attempts {
		if existing.Key() != a.Key() {
			continue
		}
		if existing.AttemptNo == a.AttemptNo {
			return repository.ErrAttemptInProgress
		}
		if existing.Status == model.AttemptStatusStarted && a.Status == model.AttemptStatusStarted {
			return repository.ErrAttemptInProgress
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = a.StartedAt
	a.UpdatedAt = a.StartedAt
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *memStore) UpdateAttemptTerminal(ctx context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.honorCancel && ctx.Err() != nil {
		return ctx.Err()
	}
	for i := range s.attempts {
		if s.attempts[i].ID != a.ID {
			continue
		}
		if s.attempts[i].Status != model.AttemptStatusStarted {
			return repository.ErrAttemptNotStarted
		}
		a.CreatedAt = s.attempts[i].CreatedAt
		s.attempts[i] = *a
		return nil
	}
	return repository.ErrAttemptNotStarted
}

func (s *memStore) ListOverdue(_ context.Context, now time.Time, grace, maxDuration time.Duration, limit int) ([]model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staleOverdue != nil {
		return append([]model.Attempt(nil), s.staleOverdue...), nil
	}

	var out []model.Attempt
	for _, a := range s.attempts {
		if a.Status != model.AttemptStatusStarted {
			continue
		}
		e, ok := s.exams[a.ExamID]
		if !ok {
			continue
		}
		d := time.Duration(e.DurationMinutes) * time.Minute
		if maxDuration > 0 && d > maxDuration {
			d = maxDuration
		}
		if a.StartedAt.Add(d + grace).Before(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListByCandidate(_ context.Context, driveID, userID uuid.UUID) ([]model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Attempt
	for _, a := range s.attempts {
		if a.DriveID == driveID && a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *memStore) SummarizeDrive(_ context.Context, driveID uuid.UUID) ([]model.CandidateSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drives[driveID]
	if !ok {
		return nil, nil
	}
	var out []model.CandidateSummary
	for _, c := range d.Roster {
		row := model.CandidateSummary{UserID: c.UserID, AttemptsUsed: c.AttemptsUsed, MaxAttempts: c.MaxAttempts}
		for _, a := range s.attempts {
			if a.DriveID != driveID || a.UserID != c.UserID || !a.Status.Terminal() {
				continue
			}
			row.TerminalAttempts++
			if row.BestScore == nil || a.Score > *row.BestScore {
				score := a.Score
				row.BestScore = &score
			}
			row.Passed = row.Passed || a.IsPassed
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

// InTx serializes transactions and restores the previous state when fn fails.
func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.honorCancel && ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	attempts := append([]model.Attempt(nil), s.attempts...)
	drives := make(map[uuid.UUID]*model.Drive, len(s.drives))
	for id, d := range s.drives {
		drives[id] = copyDrive(d)
	}
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.attempts = attempts
		s.drives = drives
		s.mu.Unlock()
		return err
	}
	return nil
}

// helpers for assertions

func (s *memStore) candidate(driveID, userID uuid.UUID) model.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.drives[driveID].Roster[userID]
}

func (s *memStore) attemptsOf(key model.AttemptKey) []model.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Attempt
	for _, a := range s.attempts {
		if a.Key() == key {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNo < out[j].AttemptNo })
	return out
}

func (s *memStore) mutateDrive(id uuid.UUID, fn func(d *model.Drive)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.drives[id])
}

func copyDrive(d *model.Drive) *model.Drive {
	cp := *d
	cp.ExamIDs = make(map[uuid.UUID]struct{}, len(d.ExamIDs))
	for id := range d.ExamIDs {
		cp.ExamIDs[id] = struct{}{}
	}
	cp.Roster = make(map[uuid.UUID]*model.Candidate, len(d.Roster))
	for id, c := range d.Roster {
		cc := *c
		cp.Roster[id] = &cc
	}
	return &cp
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []service.AttemptEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt service.AttemptEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) types() []service.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]service.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
