package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/kanshi-backend/internal/response"
	"github.com/stemsi/kanshi-backend/internal/worker"
)

const healthTimeout = 2 * time.Second

// HealthCheck probes one backing store.
type HealthCheck func(ctx context.Context) error

// SweepStats exposes the expiry sweeper counters.
type SweepStats interface {
	Stats() worker.ExpiryStats
}

// SystemHandler reports liveness of the stores and runtime figures.
type SystemHandler struct {
	checks    map[string]HealthCheck
	sweeper   SweepStats
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(checks map[string]HealthCheck, sweeper SweepStats, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		checks:    checks,
		sweeper:   sweeper,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

// Health godoc
// GET /health
// Answers 503 when any store is unreachable.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn().Err(err).Str("dependency", name).Msg("Health check failed")
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "up"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	response.Success(c, status, gin.H{"status": state, "dependencies": deps})
}

type systemMetrics struct {
	Uptime     string              `json:"uptime"`
	Goroutines int                 `json:"goroutines"`
	HeapAlloc  uint64              `json:"heap_alloc"`
	HeapSys    uint64              `json:"heap_sys"`
	NumGC      uint32              `json:"num_gc"`
	GoVersion  string              `json:"go_version"`
	NumCPU     int                 `json:"num_cpu"`
	Sweeper    *worker.ExpiryStats `json:"sweeper,omitempty"`
}

// Metrics godoc
// GET /api/v1/admin/system/metrics
func (h *SystemHandler) Metrics(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m := systemMetrics{
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		NumGC:      ms.NumGC,
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
	}
	if h.sweeper != nil {
		stats := h.sweeper.Stats()
		m.Sweeper = &stats
	}

	response.Success(c, http.StatusOK, m)
}
