package websocket

import (
	"time"

	"github.com/stemsi/kanshi-backend/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing   Action = "ping"
	ActionState  Action = "state"
	ActionSubmit Action = "submit"
)

// RequestEnvelope carries every client action. Score and IsPassed are only read for submit.
type RequestEnvelope struct {
	Action   Action   `json:"action"`
	Score    *float64 `json:"score,omitempty"`
	IsPassed *bool    `json:"is_passed,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventPong      Event = "pong"
	EventState     Event = "state"
	EventSubmitted Event = "submitted"
	EventExpired   Event = "expired"
)

type StateResponse struct {
	Event            Event          `json:"event"`
	Attempt          *model.Attempt `json:"attempt"`
	Deadline         time.Time      `json:"deadline"`
	RemainingSeconds int64          `json:"remaining_seconds"`
}

type SubmittedResponse struct {
	Event   Event          `json:"event"`
	Attempt *model.Attempt `json:"attempt"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
