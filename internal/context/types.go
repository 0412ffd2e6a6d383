package context

import (
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

// BlockPriority defines trimming priority (higher = trimmed last).
type BlockPriority int

const (
	PriorityEvents   BlockPriority = 1 // trimmed first
	PriorityBoard    BlockPriority = 2
	PriorityMemory   BlockPriority = 3
	PriorityRelation BlockPriority = 4
	PriorityInbox    BlockPriority = 5 // never trimmed
	PriorityProfile  BlockPriority = 6 // never trimmed
)

// Block is a titled group of context lines with a trimming priority.
type Block struct {
	Name     string        `json:"name"`
	Priority BlockPriority `json:"priority"`
	Lines    []string      `json:"lines"`
	Tokens   int           `json:"tokens"`
	Fixed    bool          `json:"fixed"` // if true, never trim
}

// RelationView is a relationship seen from one agent's side.
type RelationView struct {
	AgentID string              `json:"agent_id"`
	Name    string              `json:"name"`
	Score   int                 `json:"score"`
	Label   world.RelationLabel `json:"label"`
}

// Snapshot is everything an agent knows when it wakes up. It is read-only.
type Snapshot struct {
	Agent           world.Agent            `json:"agent"`
	Inventory       []world.InventoryEntry `json:"inventory"`
	Memories        []world.Memory         `json:"memories"`
	Recalled        []world.Memory         `json:"recalled,omitempty"`
	Relationships   []RelationView         `json:"relationships"`
	WorldEvents     []world.WorldEvent     `json:"world_events"`
	OwnPosts        []world.Thread         `json:"own_posts"`
	OwnComments     []world.BoardNotice    `json:"own_comments"`
	UnreadMentions  []world.BoardNotice    `json:"unread_mentions"`
	ReceivedGifts   []world.InventoryEntry `json:"received_gifts"`
	ReceivedReplies []world.BoardNotice    `json:"received_replies"`
	LastChat        *world.ChatExcerpt     `json:"last_chat,omitempty"`
	// Checkpoint is the agent's last heartbeat log time; zero on first wake.
	Checkpoint time.Time `json:"checkpoint"`
}

// HasNews reports whether anything addressed to the agent arrived since the
// checkpoint.
func (s *Snapshot) HasNews() bool {
	return len(s.UnreadMentions) > 0 || len(s.ReceivedGifts) > 0 ||
		len(s.ReceivedReplies) > 0 || s.LastChat != nil
}

// Config holds assembler settings.
type Config struct {
	MaxTokens    int // budget for the rendered context
	MemoryLimit  int
	RecallLimit  int
	EventLimit   int
	OwnPostLimit int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:    6000,
		MemoryLimit:  20,
		RecallLimit:  5,
		EventLimit:   15,
		OwnPostLimit: 5,
	}
}
