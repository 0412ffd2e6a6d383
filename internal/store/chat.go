package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

// RecordChat stores one line of a human conversation with an agent.
func (s *Store) RecordChat(ctx context.Context, agentID string, ex world.ChatExcerpt) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO chat_messages (id, agent_id, user_name, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), agentID, ex.UserName, ex.Content, ex.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record chat: %w", err)
	}
	return nil
}

// LastChatExcerpt returns the newest human chat line for an agent, or nil
// when nobody has talked to it.
func (s *Store) LastChatExcerpt(ctx context.Context, agentID string) (*world.ChatExcerpt, error) {
	var ex world.ChatExcerpt
	err := s.db.QueryRow(ctx, `
		SELECT user_name, content, created_at
		FROM chat_messages
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, agentID).Scan(&ex.UserName, &ex.Content, &ex.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last chat: %w", err)
	}
	return &ex, nil
}
