package handler_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/kanshi-backend/internal/handler"
	"github.com/stemsi/kanshi-backend/internal/model"
	"github.com/stemsi/kanshi-backend/internal/service"
	ws "github.com/stemsi/kanshi-backend/internal/websocket"
)

func newStreamServer(t *testing.T, stub *stubLifecycle) string {
	t.Helper()
	h := handler.NewWSHandler(stub, zerolog.Nop(), nil)
	r := gin.New()
	r.Use(asUser(uuid.New()))
	r.GET("/stream", h.AttemptStream)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream?exam_id=" + uuid.NewString() + "&drive_id=" + uuid.NewString()
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func runningState() *model.AttemptState {
	return &model.AttemptState{
		Attempt:          &model.Attempt{ID: uuid.New(), AttemptNo: 1, Status: model.AttemptStatusStarted},
		Deadline:         time.Now().Add(time.Hour),
		RemainingSeconds: 3600,
	}
}

func TestAttemptStream_RejectsWithoutRunningAttempt(t *testing.T) {
	url := newStreamServer(t, &stubLifecycle{err: service.ErrNoActiveAttempt})

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAttemptStream_PingStateSubmit(t *testing.T) {
	stub := &stubLifecycle{
		state:   runningState(),
		attempt: &model.Attempt{ID: uuid.New(), Status: model.AttemptStatusSubmitted},
	}
	conn := dial(t, newStreamServer(t, stub))

	var state ws.StateResponse
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, ws.EventState, state.Event)
	assert.Equal(t, int64(3600), state.RemainingSeconds)

	require.NoError(t, conn.WriteJSON(ws.RequestEnvelope{Action: ws.ActionPing}))
	var pong ws.PongResponse
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, ws.EventPong, pong.Event)

	require.NoError(t, conn.WriteJSON(ws.RequestEnvelope{Action: ws.ActionSubmit}))
	var invalid ws.ErrorResponse
	require.NoError(t, conn.ReadJSON(&invalid))
	assert.Equal(t, ws.EventError, invalid.Event)
	assert.Equal(t, "VALIDATION_ERROR", invalid.Code)

	score, passed := 64.0, true
	require.NoError(t, conn.WriteJSON(ws.RequestEnvelope{Action: ws.ActionSubmit, Score: &score, IsPassed: &passed}))
	var submitted ws.SubmittedResponse
	require.NoError(t, conn.ReadJSON(&submitted))
	assert.Equal(t, ws.EventSubmitted, submitted.Event)
	assert.Equal(t, 64.0, stub.lastCall().score)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestAttemptStream_SubmitAfterDeadline(t *testing.T) {
	stub := &stubLifecycle{state: runningState()}
	conn := dial(t, newStreamServer(t, stub))

	var state ws.StateResponse
	require.NoError(t, conn.ReadJSON(&state))

	stub.fail(service.ErrTimeExpired)
	score, passed := 90.0, true
	require.NoError(t, conn.WriteJSON(ws.RequestEnvelope{Action: ws.ActionSubmit, Score: &score, IsPassed: &passed}))

	var expired ws.ErrorResponse
	require.NoError(t, conn.ReadJSON(&expired))
	assert.Equal(t, ws.EventExpired, expired.Event)
	assert.Equal(t, "TIME_EXPIRED", expired.Code)

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
