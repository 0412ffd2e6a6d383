package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

const inventoryQuery = `
	SELECT inv.id, inv.agent_id, COALESCE(inv.gifted_by, ''), inv.gifted_at, inv.acquired_at,
	       i.id, i.name, i.description, i.rarity, i.effect
	FROM inventory inv
	JOIN items i ON i.id = inv.item_id`

// UpsertItem inserts or updates an item definition.
func (s *Store) UpsertItem(ctx context.Context, it *world.Item) error {
	if it.Rarity == "" {
		it.Rarity = world.RarityCommon
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO items (id, name, description, rarity, effect)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			rarity = EXCLUDED.rarity,
			effect = EXCLUDED.effect`,
		it.ID, it.Name, it.Description, string(it.Rarity), it.Effect,
	)
	if err != nil {
		return fmt.Errorf("save item %s: %w", it.ID, err)
	}
	return nil
}

// AddInventory grants an item to an agent. The item definition is saved
// first. Granting an item that is already owned moves it.
func (s *Store) AddInventory(ctx context.Context, e *world.InventoryEntry) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if err := s.UpsertItem(ctx, &e.Item); err != nil {
		return err
	}
	if e.AcquiredAt.IsZero() {
		e.AcquiredAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO inventory (id, item_id, agent_id, gifted_by, gifted_at, acquired_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (item_id) DO UPDATE SET
			agent_id = EXCLUDED.agent_id,
			gifted_by = EXCLUDED.gifted_by,
			gifted_at = EXCLUDED.gifted_at,
			acquired_at = EXCLUDED.acquired_at`,
		e.ID, e.Item.ID, e.AgentID, e.GiftedBy, e.GiftedAt, e.AcquiredAt,
	)
	if err != nil {
		return fmt.Errorf("add inventory %s: %w", e.Item.ID, err)
	}
	return nil
}

// ListInventory returns an agent's items in acquisition order.
func (s *Store) ListInventory(ctx context.Context, agentID string) ([]world.InventoryEntry, error) {
	rows, err := s.db.Query(ctx, inventoryQuery+`
		WHERE inv.agent_id = $1
		ORDER BY inv.acquired_at, inv.id`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return collectInventory(rows)
}

// ListGiftsReceived returns items gifted to the agent after since.
func (s *Store) ListGiftsReceived(ctx context.Context, agentID string, since time.Time) ([]world.InventoryEntry, error) {
	rows, err := s.db.Query(ctx, inventoryQuery+`
		WHERE inv.agent_id = $1 AND inv.gifted_at IS NOT NULL AND inv.gifted_at > $2
		ORDER BY inv.gifted_at`, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("list gifts: %w", err)
	}
	return collectInventory(rows)
}

// TransferItem moves an inventory entry from one owner to another and stamps
// provenance. The owner check makes a stale transfer a no-op error.
func (s *Store) TransferItem(ctx context.Context, entryID, fromAgentID, toAgentID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE inventory
		SET agent_id = $3, gifted_by = $2, gifted_at = $4, acquired_at = $4
		WHERE id = $1 AND agent_id = $2`,
		entryID, fromAgentID, toAgentID, at,
	)
	if err != nil {
		return fmt.Errorf("transfer item %s: %w", entryID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transfer item %s: %w", entryID, ErrNotFound)
	}
	return nil
}

func collectInventory(rows pgx.Rows) ([]world.InventoryEntry, error) {
	defer rows.Close()
	var out []world.InventoryEntry
	for rows.Next() {
		var e world.InventoryEntry
		var rarity string
		if err := rows.Scan(&e.ID, &e.AgentID, &e.GiftedBy, &e.GiftedAt, &e.AcquiredAt,
			&e.Item.ID, &e.Item.Name, &e.Item.Description, &rarity, &e.Item.Effect); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		e.Item.Rarity = world.Rarity(rarity)
		out = append(out, e)
	}
	return out, rows.Err()
}
