package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/kanshi-backend/internal/config"
	"github.com/stemsi/kanshi-backend/internal/model"
	"github.com/stemsi/kanshi-backend/internal/response"
)

const (
	keepAliveInterval = 30 * time.Second
	snapshotTimeout   = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// DriveSummaries produces the snapshot sent when a monitor attaches.
type DriveSummaries interface {
	DriveSummary(ctx context.Context, driveID uuid.UUID) (*model.DriveSummary, error)
}

// MonitorHandler streams a drive's lifecycle events to staff over SSE.
type MonitorHandler struct {
	rdb     *redis.Client
	results DriveSummaries
	log     zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(rdb *redis.Client, results DriveSummaries, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:     rdb,
		results: results,
		log:     log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorDriveSSE godoc
// GET /api/v1/admin/drives/:drive_id/monitor
// Sends a summary snapshot, then forwards attempt.started, attempt.submitted and
// attempt.expired events as they are published.
func (h *MonitorHandler) MonitorDriveSSE(c *gin.Context) {
	driveID, err := uuid.Parse(c.Param("drive_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	// Subscribe before the snapshot is read so no transition falls between the two.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.DriveMonitorChannel(driveID.String()))
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		failLifecycle(c, h.log, err)
		return
	}
	ch := pubsub.Channel()

	snapCtx, cancel := context.WithTimeout(reqCtx, snapshotTimeout)
	summary, err := h.results.DriveSummary(snapCtx, driveID)
	cancel()
	if err != nil {
		failLifecycle(c, h.log, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", gin.H{"type": "snapshot", "data": summary})
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("drive_id", driveID.String()).Msg("Staff attached to drive monitor SSE")

	// Pre-allocate a reusable ping payload (never changes)
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("drive_id", driveID.String()).Msg("Staff detached from drive monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed
			writeSSEData(c, []byte(msg.Payload))

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

func writeSSEData(c *gin.Context, payload []byte) {
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
