package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/kanshi-backend/internal/config"
	"github.com/stemsi/kanshi-backend/internal/database"
	"github.com/stemsi/kanshi-backend/internal/handler"
	"github.com/stemsi/kanshi-backend/internal/logger"
	"github.com/stemsi/kanshi-backend/internal/middleware"
	"github.com/stemsi/kanshi-backend/internal/repository"
	"github.com/stemsi/kanshi-backend/internal/router"
	"github.com/stemsi/kanshi-backend/internal/service"
	"github.com/stemsi/kanshi-backend/internal/validator"
	"github.com/stemsi/kanshi-backend/internal/worker"
)

// prewarmHorizon is how far ahead drives are considered when warming the exam cache.
const prewarmHorizon = time.Hour

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Dur("grace_period", cfg.GracePeriod).
		Dur("max_exam_duration", cfg.MaxExamDuration).
		Msg("Starting Kanshi Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	driveRepo := repository.NewDriveRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	policy := service.LifecyclePolicy{
		GracePeriod:     cfg.GracePeriod,
		MaxExamDuration: cfg.MaxExamDuration,
	}
	authService := service.NewAuthService(cfg)
	examService := service.NewExamService(examRepo, rdb, cfg.ExamCacheTTL, log)
	attemptService := service.NewAttemptService(
		examService,
		driveRepo,
		attemptRepo,
		txRunner,
		service.NewRedisEventPublisher(rdb),
		policy,
		log,
	)
	resultService := service.NewResultService(attemptRepo, driveRepo)

	// ─── Background Workers ───────────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	expiryWorker := worker.NewExpiryWorker(attemptService, cfg.ExpirySweepSpec, cfg.ExpirySweepBatch, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := expiryWorker.Start(workerCtx); err != nil {
			log.Fatal().Err(err).Msg("Expiry worker failed to start")
		}
	}()

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	go limiter.Run(workerCtx)

	// ─── Initialize Handlers ──────────────────────────────────────────
	systemHandler := handler.NewSystemHandler(map[string]handler.HealthCheck{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}, expiryWorker, log)

	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, resultService, log),
		Result:  handler.NewResultHandler(resultService, log),
		Monitor: handler.NewMonitorHandler(rdb, resultService, log),
		WS:      handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
		System:  systemHandler,
	}

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load the exams of live and imminent drives BEFORE accepting traffic.
	now := time.Now().UTC()
	driveIDs, err := driveRepo.ListLiveIDs(ctx, now, now.Add(prewarmHorizon))
	if err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}
	for _, id := range driveIDs {
		if _, err := examService.PrewarmDriveExams(ctx, id); err != nil {
			log.Warn().Err(err).Str("drive_id", id.String()).Msg("Drive prewarm failed, skipping")
		}
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, limiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the sweeper and wait for a running sweep to finish.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
