package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

const threadColumns = `id::text, author_id, author_name, title, content, reply_count, created_at`

// ListThreads returns threads newest first. Ties on created_at are broken
// by id so pages never overlap.
func (s *Store) ListThreads(ctx context.Context, offset, limit int) ([]world.Thread, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return collectThreads(rows)
}

// ListThreadsByAuthor returns an agent's own threads, newest first.
func (s *Store) ListThreadsByAuthor(ctx context.Context, agentID string, limit int) ([]world.Thread, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE author_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list own threads: %w", err)
	}
	return collectThreads(rows)
}

// GetThread retrieves one thread.
func (s *Store) GetThread(ctx context.Context, id string) (*world.Thread, error) {
	rows, err := s.db.Query(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	threads, err := collectThreads(rows)
	if err != nil {
		return nil, err
	}
	if len(threads) == 0 {
		return nil, fmt.Errorf("get thread %s: %w", id, ErrNotFound)
	}
	return &threads[0], nil
}

// CreateThread writes a new thread.
func (s *Store) CreateThread(ctx context.Context, t *world.Thread) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO threads (id, author_id, author_name, title, content, reply_count, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)`,
		t.ID, t.AuthorID, t.AuthorName, t.Title, t.Content, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	return nil
}

// CreateReply writes a reply and bumps the thread's reply count.
func (s *Store) CreateReply(ctx context.Context, r *world.Reply) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reply: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE threads SET reply_count = reply_count + 1 WHERE id = $1`, r.ThreadID)
	if err != nil {
		return fmt.Errorf("bump reply count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create reply: thread %s: %w", r.ThreadID, ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO replies (id, thread_id, author_id, author_name, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.ThreadID, r.AuthorID, r.AuthorName, r.Content, r.CreatedAt,
	); err != nil {
		return fmt.Errorf("create reply: %w", err)
	}
	return tx.Commit(ctx)
}

// ListReplies returns a thread's replies in posting order.
func (s *Store) ListReplies(ctx context.Context, threadID string) ([]world.Reply, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, thread_id::text, author_id, author_name, content, created_at
		FROM replies
		WHERE thread_id = $1
		ORDER BY created_at, id`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	var out []world.Reply
	for rows.Next() {
		var r world.Reply
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.AuthorID, &r.AuthorName, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRepliesByAuthor returns an agent's own replies, newest first.
func (s *Store) ListRepliesByAuthor(ctx context.Context, agentID string, limit int) ([]world.BoardNotice, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.id::text, t.title, r.author_id, r.author_name, r.content, r.created_at
		FROM replies r
		JOIN threads t ON t.id = r.thread_id
		WHERE r.author_id = $1
		ORDER BY r.created_at DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list own replies: %w", err)
	}
	return collectNotices(rows)
}

// ListRepliesTo returns replies by others on the agent's threads posted
// after since, oldest first.
func (s *Store) ListRepliesTo(ctx context.Context, agentID string, since time.Time) ([]world.BoardNotice, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.id::text, t.title, r.author_id, r.author_name, r.content, r.created_at
		FROM replies r
		JOIN threads t ON t.id = r.thread_id
		WHERE t.author_id = $1 AND r.author_id <> $1 AND r.created_at > $2
		ORDER BY r.created_at`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("list replies to agent: %w", err)
	}
	return collectNotices(rows)
}

// ListMentions returns threads and replies by others that contain @name,
// posted after since, oldest first.
func (s *Store) ListMentions(ctx context.Context, agentID, name string, since time.Time) ([]world.BoardNotice, error) {
	pattern := "%@" + escapeLike(name) + "%"
	rows, err := s.db.Query(ctx, `
		SELECT id::text, title, author_id, author_name, content, created_at
		FROM threads
		WHERE author_id <> $1 AND created_at > $2 AND content ILIKE $3
		UNION ALL
		SELECT t.id::text, t.title, r.author_id, r.author_name, r.content, r.created_at
		FROM replies r
		JOIN threads t ON t.id = r.thread_id
		WHERE r.author_id <> $1 AND r.created_at > $2 AND r.content ILIKE $3
		ORDER BY created_at`, agentID, since, pattern)
	if err != nil {
		return nil, fmt.Errorf("list mentions: %w", err)
	}
	return collectNotices(rows)
}

func collectThreads(rows pgx.Rows) ([]world.Thread, error) {
	defer rows.Close()
	var out []world.Thread
	for rows.Next() {
		var t world.Thread
		if err := rows.Scan(&t.ID, &t.AuthorID, &t.AuthorName, &t.Title, &t.Content, &t.ReplyCount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func collectNotices(rows pgx.Rows) ([]world.BoardNotice, error) {
	defer rows.Close()
	var out []world.BoardNotice
	for rows.Next() {
		var n world.BoardNotice
		if err := rows.Scan(&n.ThreadID, &n.ThreadTitle, &n.AuthorID, &n.AuthorName, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan board notice: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
