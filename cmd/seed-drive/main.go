package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stemsi/kanshi-backend/internal/config"
	"github.com/stemsi/kanshi-backend/internal/database"
	"github.com/stemsi/kanshi-backend/internal/logger"
	"github.com/stemsi/kanshi-backend/internal/model"
	"github.com/stemsi/kanshi-backend/internal/repository"
	"github.com/stemsi/kanshi-backend/internal/service"
)

// Drive codes avoid 0/O and 1/I so they can be read out loud.
const (
	driveCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	driveCodeLength   = 6
)

func main() {
	var (
		candidates  int
		maxAttempts int
		duration    int
		window      time.Duration
		passing     float64
		title       string
	)
	flag.IntVar(&candidates, "candidates", 5, "Number of roster candidates to create")
	flag.IntVar(&maxAttempts, "max-attempts", 1, "Attempt quota per candidate")
	flag.IntVar(&duration, "duration", 60, "Exam duration in minutes")
	flag.DurationVar(&window, "window", 24*time.Hour, "Drive window length, starting now")
	flag.Float64Var(&passing, "passing-marks", 40, "Drive passing marks")
	flag.StringVar(&title, "title", "Backend Engineering Assessment", "Exam title")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if maxAttempts <= 0 || duration <= 0 || window <= 0 || candidates <= 0 {
		log.Fatal().Msg("candidates, max-attempts, duration and window must be positive")
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)
	driveRepo := repository.NewDriveRepository(pool)
	authService := service.NewAuthService(cfg)

	fmt.Println("=== Seeding drive ===")

	exam := &model.Exam{
		Title:           title,
		Difficulty:      model.DifficultyMedium,
		DurationMinutes: duration,
		IsActive:        true,
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}
	fmt.Printf("Created exam %s (%d min)\n", exam.ID, exam.DurationMinutes)

	code, err := gonanoid.Generate(driveCodeAlphabet, driveCodeLength)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate drive code")
	}

	now := time.Now().UTC()
	drive := &model.Drive{
		Name:         fmt.Sprintf("Drive %s", code),
		Code:         code,
		Difficulty:   model.DifficultyMedium,
		PassingMarks: passing,
		IsActive:     true,
		StartsAt:     now,
		EndsAt:       now.Add(window),
		ExamIDs:      map[uuid.UUID]struct{}{exam.ID: {}},
		Roster:       make(map[uuid.UUID]*model.Candidate, candidates),
	}
	userIDs := make([]uuid.UUID, 0, candidates)
	for i := 0; i < candidates; i++ {
		id := uuid.New()
		userIDs = append(userIDs, id)
		drive.Roster[id] = &model.Candidate{UserID: id, MaxAttempts: maxAttempts}
	}
	if err := driveRepo.Create(ctx, drive); err != nil {
		log.Fatal().Err(err).Msg("Failed to create drive")
	}
	fmt.Printf("Created drive %s (code %s), open until %s\n", drive.ID, drive.Code, drive.EndsAt.Format(time.RFC3339))

	fmt.Println("\nCandidate tokens:")
	for _, id := range userIDs {
		token, err := authService.GenerateToken(id, service.RoleCandidate)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to sign token")
		}
		fmt.Printf("%s  %s\n", id, token)
	}

	adminToken, err := authService.GenerateToken(uuid.New(), service.RoleAdmin)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}
	fmt.Printf("\nAdmin token:\n%s\n", adminToken)
	fmt.Printf("\nSeed completed! exam_id=%s drive_id=%s\n", exam.ID, drive.ID)
}
