package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

// AddActionRecord appends one heartbeat log row.
func (s *Store) AddActionRecord(ctx context.Context, r *world.ActionRecord) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var meta []byte
	if len(r.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO heartbeat_logs (id, agent_id, action, result, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.AgentID, r.Action, r.Result, meta, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append heartbeat log: %w", err)
	}
	return nil
}

// ListActionRecords returns an agent's most recent heartbeat log rows,
// newest first.
func (s *Store) ListActionRecords(ctx context.Context, agentID string, limit int) ([]world.ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, agent_id, action, result, metadata, created_at
		FROM heartbeat_logs
		WHERE agent_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list heartbeat logs: %w", err)
	}
	defer rows.Close()

	var out []world.ActionRecord
	for rows.Next() {
		var r world.ActionRecord
		var meta []byte
		if err := rows.Scan(&r.ID, &r.AgentID, &r.Action, &r.Result, &meta, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan heartbeat log: %w", err)
		}
		if len(meta) > 0 {
			json.Unmarshal(meta, &r.Metadata)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastActionAt returns the time of the agent's newest heartbeat log row, or
// the zero time when it has none.
func (s *Store) LastActionAt(ctx context.Context, agentID string) (time.Time, error) {
	var last *time.Time
	err := s.db.QueryRow(ctx,
		`SELECT MAX(created_at) FROM heartbeat_logs WHERE agent_id = $1`, agentID).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("last heartbeat log: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}
