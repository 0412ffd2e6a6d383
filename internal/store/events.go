package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

// AddWorldEvent records a world event.
func (s *Store) AddWorldEvent(ctx context.Context, e *world.WorldEvent) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	var meta []byte
	if len(e.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO world_events (id, type, agent_id, target_id, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, string(e.Type), e.AgentID, e.TargetID, e.Content, meta, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add world event: %w", err)
	}
	return nil
}

// ListWorldEvents returns events created after since, newest first.
// Heartbeat cycle markers are left out.
func (s *Store) ListWorldEvents(ctx context.Context, since time.Time, limit int) ([]world.WorldEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, type, agent_id, target_id, content, metadata, created_at
		FROM world_events
		WHERE created_at > $1 AND type <> $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, since, string(world.EventHeartbeatCycle), limit)
	if err != nil {
		return nil, fmt.Errorf("list world events: %w", err)
	}
	defer rows.Close()

	var out []world.WorldEvent
	for rows.Next() {
		var e world.WorldEvent
		var typ string
		var meta []byte
		if err := rows.Scan(&e.ID, &typ, &e.AgentID, &e.TargetID, &e.Content, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan world event: %w", err)
		}
		e.Type = world.EventType(typ)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				s.logger.Warn("bad world event metadata", zap.String("id", e.ID), zap.Error(err))
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastEventAt returns the time of the newest event of type t, or the zero
// time when there is none.
func (s *Store) LastEventAt(ctx context.Context, t world.EventType) (time.Time, error) {
	var last *time.Time
	err := s.db.QueryRow(ctx,
		`SELECT MAX(created_at) FROM world_events WHERE type = $1`, string(t)).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("last %s event: %w", t, err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}
