package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

const (
	// GiftRelationDelta is added to a pair's score on every gift.
	GiftRelationDelta = 10

	giverMemoryImportance     = 6
	recipientMemoryImportance = 7
)

// GiftReceipt is the payload of a successful give.
type GiftReceipt struct {
	Item          string              `json:"item"`
	Rarity        world.Rarity        `json:"rarity"`
	Recipient     string              `json:"recipient"`
	RelationScore int                 `json:"relation_score,omitempty"`
	RelationLabel world.RelationLabel `json:"relation_label,omitempty"`
}

// give hands an inventory entry to another agent. Only the transfer decides
// success; the memories, relationship and event that follow are written in
// order and a failure in any of them is logged and skipped.
func (c *Catalog) give(ctx context.Context, self world.Agent, args json.RawMessage) Result {
	var p struct {
		ItemName      string `json:"item_name"`
		RecipientName string `json:"recipient_name"`
	}
	if r := decode(Give, args, &p); r != nil {
		return *r
	}
	if strings.TrimSpace(p.ItemName) == "" || strings.TrimSpace(p.RecipientName) == "" {
		return fail("give needs an item_name and a recipient_name")
	}

	inventory, err := c.deps.Inventory.ListInventory(ctx, self.ID)
	if err != nil {
		c.logger.Warn("list inventory failed", zap.String("agent", self.ID), zap.Error(err))
		return fail("could not check your inventory")
	}
	entry, found := c.deps.Resolver.Item(p.ItemName, inventory)
	if !found {
		names := inventoryNames(inventory)
		if len(names) == 0 {
			return Result{Message: fmt.Sprintf("you have no %q; your inventory is empty", p.ItemName),
				Data: map[string][]string{"inventory": names}}
		}
		return Result{
			Message: fmt.Sprintf("you have no %q; your inventory: %s", p.ItemName, strings.Join(names, ", ")),
			Data:    map[string][]string{"inventory": names},
		}
	}

	agents, err := c.deps.Agents.ListAgents(ctx)
	if err != nil {
		c.logger.Warn("list agents failed", zap.String("agent", self.ID), zap.Error(err))
		return fail("could not look up %q", p.RecipientName)
	}
	recipient, found := c.deps.Resolver.Agent(p.RecipientName, agents)
	if !found {
		return fail("character %q not found", p.RecipientName)
	}
	if recipient.ID == self.ID {
		return fail("you cannot give %s to yourself", entry.Item.Name)
	}

	item := entry.Item
	now := c.now()

	// (a) the transfer is the success criterion
	if err := c.deps.Inventory.TransferItem(ctx, entry.ID, self.ID, recipient.ID, now); err != nil {
		c.logger.Warn("item transfer failed",
			zap.String("agent", self.ID), zap.String("item", item.ID),
			zap.String("recipient", recipient.ID), zap.Error(err))
		return fail("could not hand %s to %s", item.Name, recipient.Name)
	}

	// (b), (c)
	c.rememberQuietly(ctx, &world.Memory{
		AgentID:    self.ID,
		Content:    fmt.Sprintf("I gave %s to %s", item.Name, recipient.Name),
		Importance: giverMemoryImportance,
		Source:     Give,
		CreatedAt:  now,
	})
	c.rememberQuietly(ctx, &world.Memory{
		AgentID:    recipient.ID,
		Content:    fmt.Sprintf("%s gave me %s", self.Name, item.Name),
		Importance: recipientMemoryImportance,
		Source:     Give,
		CreatedAt:  now,
	})

	// (d)
	receipt := GiftReceipt{Item: item.Name, Rarity: item.Rarity, Recipient: recipient.Name}
	rel, err := c.deps.Relations.AdjustRelationship(ctx, self.ID, recipient.ID, GiftRelationDelta, "")
	if err != nil {
		c.logger.Warn("gift relation update failed",
			zap.String("agent", self.ID), zap.String("recipient", recipient.ID), zap.Error(err))
	} else {
		receipt.RelationScore = rel.Score
		receipt.RelationLabel = rel.Label
	}

	// (e)
	c.emit(ctx, &world.WorldEvent{
		ID:       uuid.New().String(),
		Type:     world.EventItemGifted,
		AgentID:  self.ID,
		TargetID: recipient.ID,
		Content:  fmt.Sprintf("%s gave %s (%s) to %s", self.Name, item.Name, item.Rarity, recipient.Name),
		Metadata: map[string]string{
			"item_id":   item.ID,
			"item_name": item.Name,
			"rarity":    string(item.Rarity),
		},
		CreatedAt: now,
	})

	c.logger.Info("item gifted",
		zap.String("from", self.ID), zap.String("to", recipient.ID), zap.String("item", item.Name))
	return ok(receipt, "you gave %s to %s", item.Name, recipient.Name)
}

func inventoryNames(inventory []world.InventoryEntry) []string {
	names := make([]string, len(inventory))
	for i, e := range inventory {
		names[i] = e.Item.Name
	}
	return names
}
