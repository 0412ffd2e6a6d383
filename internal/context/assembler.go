package context

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

// Source is the read side of the world store the assembler needs.
type Source interface {
	GetAgent(ctx context.Context, id string) (*world.Agent, error)
	ListAgents(ctx context.Context) ([]world.Agent, error)
	ListInventory(ctx context.Context, agentID string) ([]world.InventoryEntry, error)
	ListMemories(ctx context.Context, agentID string, limit int) ([]world.Memory, error)
	ListRelationships(ctx context.Context, agentID string) ([]world.Relationship, error)
	ListWorldEvents(ctx context.Context, since time.Time, limit int) ([]world.WorldEvent, error)
	ListThreadsByAuthor(ctx context.Context, agentID string, limit int) ([]world.Thread, error)
	ListRepliesByAuthor(ctx context.Context, agentID string, limit int) ([]world.BoardNotice, error)
	ListMentions(ctx context.Context, agentID, name string, since time.Time) ([]world.BoardNotice, error)
	ListRepliesTo(ctx context.Context, agentID string, since time.Time) ([]world.BoardNotice, error)
	ListGiftsReceived(ctx context.Context, agentID string, since time.Time) ([]world.InventoryEntry, error)
	LastChatExcerpt(ctx context.Context, agentID string) (*world.ChatExcerpt, error)
	LastActionAt(ctx context.Context, agentID string) (time.Time, error)
}

// Recaller finds memories related to a query.
type Recaller interface {
	Recall(ctx context.Context, agentID, query string, limit int) ([]world.Memory, error)
}

// Assembler gathers an agent's wake-up snapshot and renders it for the
// decision service.
type Assembler struct {
	config   Config
	source   Source
	recaller Recaller
	logger   *zap.Logger
}

// NewAssembler creates a context assembler.
func NewAssembler(cfg Config, source Source, logger *zap.Logger) *Assembler {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = def.MemoryLimit
	}
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = def.RecallLimit
	}
	if cfg.EventLimit <= 0 {
		cfg.EventLimit = def.EventLimit
	}
	if cfg.OwnPostLimit <= 0 {
		cfg.OwnPostLimit = def.OwnPostLimit
	}
	return &Assembler{
		config: cfg,
		source: source,
		logger: logger,
	}
}

// SetRecaller enables semantic memory recall.
func (a *Assembler) SetRecaller(r Recaller) { a.recaller = r }

// Fetch builds the snapshot for one agent. Everything "new" is relative to
// the agent's last heartbeat log entry. The profile, inventory and checkpoint
// are required; the rest degrades to empty on error.
func (a *Assembler) Fetch(ctx context.Context, agentID string) (*Snapshot, error) {
	agent, err := a.source.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	checkpoint, err := a.source.LastActionAt(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	inventory, err := a.source.ListInventory(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load inventory: %w", err)
	}

	snap := &Snapshot{
		Agent:      *agent,
		Inventory:  inventory,
		Checkpoint: checkpoint,
	}

	warn := func(what string, err error) {
		a.logger.Warn("context fetch partial", zap.String("agent", agentID), zap.String("part", what), zap.Error(err))
	}

	if snap.Memories, err = a.source.ListMemories(ctx, agentID, a.config.MemoryLimit); err != nil {
		warn("memories", err)
	}
	if snap.Relationships, err = a.relations(ctx, agentID); err != nil {
		warn("relationships", err)
	}
	if snap.WorldEvents, err = a.source.ListWorldEvents(ctx, checkpoint, a.config.EventLimit); err != nil {
		warn("world events", err)
	}
	if snap.OwnPosts, err = a.source.ListThreadsByAuthor(ctx, agentID, a.config.OwnPostLimit); err != nil {
		warn("own posts", err)
	}
	if snap.OwnComments, err = a.source.ListRepliesByAuthor(ctx, agentID, a.config.OwnPostLimit); err != nil {
		warn("own comments", err)
	}
	if snap.UnreadMentions, err = a.source.ListMentions(ctx, agentID, agent.Name, checkpoint); err != nil {
		warn("mentions", err)
	}
	if snap.ReceivedGifts, err = a.source.ListGiftsReceived(ctx, agentID, checkpoint); err != nil {
		warn("gifts", err)
	}
	if snap.ReceivedReplies, err = a.source.ListRepliesTo(ctx, agentID, checkpoint); err != nil {
		warn("replies", err)
	}
	chat, err := a.source.LastChatExcerpt(ctx, agentID)
	if err != nil {
		warn("chat", err)
	} else if chat != nil && chat.CreatedAt.After(checkpoint) {
		snap.LastChat = chat
	}

	if a.recaller != nil {
		if q := recallQuery(snap); q != "" {
			recalled, err := a.recaller.Recall(ctx, agentID, q, a.config.RecallLimit)
			if err != nil {
				warn("recall", err)
			} else {
				snap.Recalled = dedupeMemories(recalled, snap.Memories)
			}
		}
	}

	a.logger.Debug("context assembled",
		zap.String("agent", agentID),
		zap.Time("checkpoint", checkpoint),
		zap.Int("mentions", len(snap.UnreadMentions)),
		zap.Int("gifts", len(snap.ReceivedGifts)),
		zap.Int("replies", len(snap.ReceivedReplies)))
	return snap, nil
}

func (a *Assembler) relations(ctx context.Context, agentID string) ([]RelationView, error) {
	rels, err := a.source.ListRelationships(ctx, agentID)
	if err != nil || len(rels) == 0 {
		return nil, err
	}
	agents, err := a.source.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(agents))
	for _, ag := range agents {
		names[ag.ID] = ag.Name
	}
	out := make([]RelationView, 0, len(rels))
	for _, r := range rels {
		other := r.Other(agentID)
		name := names[other]
		if name == "" {
			name = other
		}
		out = append(out, RelationView{AgentID: other, Name: name, Score: r.Score, Label: r.Label})
	}
	return out, nil
}

// recallQuery is the text of whatever is addressed to the agent.
func recallQuery(s *Snapshot) string {
	var parts []string
	for _, n := range s.UnreadMentions {
		parts = append(parts, n.Content)
	}
	for _, n := range s.ReceivedReplies {
		parts = append(parts, n.Content)
	}
	for _, g := range s.ReceivedGifts {
		parts = append(parts, g.Item.Name)
	}
	if s.LastChat != nil {
		parts = append(parts, s.LastChat.Content)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func dedupeMemories(recalled, have []world.Memory) []world.Memory {
	seen := make(map[string]bool, len(have))
	for _, m := range have {
		seen[m.ID] = true
	}
	var out []world.Memory
	for _, m := range recalled {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}
