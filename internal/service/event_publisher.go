package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/kanshi-backend/internal/config"
	"github.com/stemsi/kanshi-backend/internal/model"
)

// EventType names a lifecycle transition broadcast to drive monitors.
type EventType string

const (
	EventAttemptStarted   EventType = "attempt.started"
	EventAttemptSubmitted EventType = "attempt.submitted"
	EventAttemptExpired   EventType = "attempt.expired"
)

// AttemptEvent is the payload published on a drive's monitor channel.
type AttemptEvent struct {
	Type     EventType      `json:"type"`
	Attempt  *model.Attempt `json:"attempt"`
	Reported time.Time      `json:"reported_at"`
}

// EventPublisher broadcasts lifecycle transitions. Failures never fail the transition itself.
type EventPublisher interface {
	Publish(ctx context.Context, evt AttemptEvent) error
}

// NopEventPublisher drops every event.
type NopEventPublisher struct{}

// Publish implements EventPublisher.
func (NopEventPublisher) Publish(context.Context, AttemptEvent) error { return nil }

// RedisEventPublisher publishes events on drive:<id>:monitor.
type RedisEventPublisher struct {
	rdb *redis.Client
}

// NewRedisEventPublisher creates a new RedisEventPublisher.
func NewRedisEventPublisher(rdb *redis.Client) *RedisEventPublisher {
	return &RedisEventPublisher{rdb: rdb}
}

// Publish implements EventPublisher.
func (p *RedisEventPublisher) Publish(ctx context.Context, evt AttemptEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	channel := config.CacheKey.DriveMonitorChannel(evt.Attempt.DriveID.String())
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
