package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

// AddMemory appends a memory. Importance is clamped to the valid range.
func (s *Store) AddMemory(ctx context.Context, m *world.Memory) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.Importance = world.ClampImportance(m.Importance)
	_, err := s.db.Exec(ctx, `
		INSERT INTO memories (id, agent_id, content, importance, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.AgentID, m.Content, m.Importance, m.Source, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add memory: %w", err)
	}
	return nil
}

// ListMemories returns an agent's most recent memories, newest first.
func (s *Store) ListMemories(ctx context.Context, agentID string, limit int) ([]world.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, agent_id, content, importance, source, created_at
		FROM memories
		WHERE agent_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []world.Memory
	for rows.Next() {
		var m world.Memory
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Content, &m.Importance, &m.Source, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
