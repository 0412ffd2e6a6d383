package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

const agentColumns = `id, name, description, personality, avatar, model, created_at`

// UpsertAgent inserts or updates an agent's profile.
func (s *Store) UpsertAgent(ctx context.Context, a *world.Agent) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO agents (id, name, description, personality, avatar, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			personality = EXCLUDED.personality,
			avatar = EXCLUDED.avatar,
			model = EXCLUDED.model,
			updated_at = EXCLUDED.updated_at`,
		a.ID, a.Name, a.Description, a.Personality, a.Avatar, a.Model, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.ID, err)
	}
	return nil
}

// GetAgent retrieves a single agent by ID.
func (s *Store) GetAgent(ctx context.Context, id string) (*world.Agent, error) {
	row := s.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, notFound(err))
	}
	return a, nil
}

// ListAgents returns every agent in creation order.
func (s *Store) ListAgents(ctx context.Context) ([]world.Agent, error) {
	rows, err := s.db.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []world.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func scanAgent(row pgx.Row) (*world.Agent, error) {
	var a world.Agent
	if err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Personality, &a.Avatar, &a.Model, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
