package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/kanshi-backend/internal/middleware"
	"github.com/stemsi/kanshi-backend/internal/model"
	"github.com/stemsi/kanshi-backend/internal/response"
	"github.com/stemsi/kanshi-backend/internal/service"
	"github.com/stemsi/kanshi-backend/internal/validator"
	ws "github.com/stemsi/kanshi-backend/internal/websocket"
)

// storeCallTimeout bounds each lifecycle call made from the socket loop.
const storeCallTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a candidate's running attempt over a WebSocket.
type WSHandler struct {
	lifecycle AttemptLifecycle
	now       func() time.Time
	log       zerolog.Logger
	upgrader  websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(lifecycle AttemptLifecycle, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		lifecycle: lifecycle,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("component", "ws_handler").Logger(),
		upgrader:  buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/stream?exam_id=&drive_id=&token=
// Sends the attempt state on connect, then serves ping, state and submit actions.
// The socket is closed once the attempt reaches a terminal state.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var q model.AttemptQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	examID, driveID, ok := parseTuple(c, q.ExamID, q.DriveID)
	if !ok {
		return
	}

	// The attempt must be running before the upgrade.
	state, err := h.state(c.Request.Context(), userID, examID, driveID)
	if err != nil {
		failLifecycle(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("user_id", userID.String()).
		Str("exam_id", examID.String()).
		Str("drive_id", driveID.String()).
		Logger()
	wsLog.Info().Msg("Candidate connected")

	_ = ws.WriteTyped(conn, stateResponse(state))

	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionPing:
			_ = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})

		case ws.ActionState:
			state, err := h.state(c.Request.Context(), userID, examID, driveID)
			if err != nil {
				h.writeLifecycleError(conn, wsLog, err)
				if service.KindOf(err) != service.KindUnavailable {
					_ = ws.Close(conn, "attempt closed")
					return
				}
				continue
			}
			_ = ws.WriteTyped(conn, stateResponse(state))

		case ws.ActionSubmit:
			if msg.Score == nil || msg.IsPassed == nil || *msg.Score < 0 {
				_ = ws.WriteError(conn, string(response.ErrValidation), "score >= 0 and is_passed are required")
				continue
			}
			done := h.submit(c.Request.Context(), conn, wsLog, userID, examID, driveID, *msg.Score, *msg.IsPassed)
			if done {
				_ = ws.Close(conn, "attempt closed")
				return
			}

		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

// submit runs a submission and reports whether the attempt is no longer running.
func (h *WSHandler) submit(parent context.Context, conn *websocket.Conn, wsLog zerolog.Logger, userID, examID, driveID uuid.UUID, score float64, isPassed bool) bool {
	ctx, cancel := context.WithTimeout(parent, storeCallTimeout)
	defer cancel()

	attempt, err := h.lifecycle.SubmitAttempt(ctx, userID, examID, driveID, score, isPassed, h.now())
	if err != nil {
		if service.KindOf(err) == service.KindForbidden && service.ReasonOf(err) == service.ReasonTimeExpired {
			_ = ws.WriteTyped(conn, ws.ErrorResponse{
				Event: ws.EventExpired,
				Code:  string(response.ErrTimeExpired),
				Error: response.GetMessage(response.ErrTimeExpired),
			})
			return true
		}
		h.writeLifecycleError(conn, wsLog, err)
		return service.KindOf(err) != service.KindUnavailable
	}

	_ = ws.WriteTyped(conn, ws.SubmittedResponse{Event: ws.EventSubmitted, Attempt: attempt})
	return true
}

func (h *WSHandler) state(parent context.Context, userID, examID, driveID uuid.UUID) (*model.AttemptState, error) {
	ctx, cancel := context.WithTimeout(parent, storeCallTimeout)
	defer cancel()
	return h.lifecycle.GetAttemptState(ctx, userID, examID, driveID, h.now())
}

func (h *WSHandler) writeLifecycleError(conn *websocket.Conn, wsLog zerolog.Logger, err error) {
	_, code := lifecycleStatus(err)
	if code == response.ErrServiceUnavailable {
		wsLog.Error().Err(err).Msg("Lifecycle store failure")
	}
	_ = ws.WriteError(conn, string(code), response.GetMessage(code))
}

func stateResponse(s *model.AttemptState) ws.StateResponse {
	return ws.StateResponse{
		Event:            ws.EventState,
		Attempt:          s.Attempt,
		Deadline:         s.Deadline,
		RemainingSeconds: s.RemainingSeconds,
	}
}
