// Package audit is the single write path for heartbeat log rows and world
// events. Every row is persisted first; fan-out to the stream bus and the
// announcement gateway is best-effort.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-heartbeat/internal/bus"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

// Store persists log rows and events.
type Store interface {
	AddActionRecord(ctx context.Context, r *world.ActionRecord) error
	AddWorldEvent(ctx context.Context, e *world.WorldEvent) error
}

// Publisher appends to a named stream.
type Publisher interface {
	Publish(ctx context.Context, stream, kind, agentID string, payload interface{}) error
}

// Announcer posts world events to operator channels.
type Announcer interface {
	Announce(ctx context.Context, e *world.WorldEvent) error
}

// Journal records actions and events.
type Journal struct {
	store     Store
	publisher Publisher
	announcer Announcer
	logger    *zap.Logger
}

// NewJournal creates a journal over the store.
func NewJournal(store Store, logger *zap.Logger) *Journal {
	return &Journal{store: store, logger: logger}
}

// SetPublisher enables stream fan-out.
func (j *Journal) SetPublisher(p Publisher) { j.publisher = p }

// SetAnnouncer enables announcements of world events.
func (j *Journal) SetAnnouncer(a Announcer) { j.announcer = a }

// RecordAction appends a heartbeat log row.
func (j *Journal) RecordAction(ctx context.Context, r *world.ActionRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if err := j.store.AddActionRecord(ctx, r); err != nil {
		return fmt.Errorf("record %s for %s: %w", r.Action, r.AgentID, err)
	}
	j.logger.Info("action",
		zap.String("agent", r.AgentID),
		zap.String("action", r.Action),
		zap.String("result", r.Result))

	if j.publisher != nil {
		if err := j.publisher.Publish(ctx, bus.StreamActions, r.Action, r.AgentID, r); err != nil {
			j.logger.Warn("publish action record", zap.String("agent", r.AgentID), zap.Error(err))
		}
	}
	return nil
}

// EmitEvent appends a world event.
func (j *Journal) EmitEvent(ctx context.Context, e *world.WorldEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := j.store.AddWorldEvent(ctx, e); err != nil {
		return fmt.Errorf("add %s event: %w", e.Type, err)
	}

	if j.publisher != nil {
		if err := j.publisher.Publish(ctx, bus.StreamEvents, string(e.Type), e.AgentID, e); err != nil {
			j.logger.Warn("publish world event", zap.String("type", string(e.Type)), zap.Error(err))
		}
	}
	if j.announcer != nil && e.Type != world.EventHeartbeatCycle {
		if err := j.announcer.Announce(ctx, e); err != nil {
			j.logger.Warn("announce world event", zap.String("type", string(e.Type)), zap.Error(err))
		}
	}
	return nil
}
