package world

import (
	"fmt"
	"strings"
	"time"
)

// Agent is a resident character of the world.
type Agent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Personality string    `json:"personality"`
	Avatar      string    `json:"avatar,omitempty"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Rarity is the ordered tier of an item.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

var rarityRank = map[Rarity]int{
	RarityCommon:    0,
	RarityRare:      1,
	RarityEpic:      2,
	RarityLegendary: 3,
}

// Rank orders rarities: common < rare < epic < legendary.
// Unknown values rank below common.
func (r Rarity) Rank() int {
	if n, ok := rarityRank[r]; ok {
		return n
	}
	return -1
}

// ParseRarity normalizes a stored rarity string.
func ParseRarity(s string) (Rarity, error) {
	r := Rarity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := rarityRank[r]; !ok {
		return RarityCommon, fmt.Errorf("unknown rarity %q", s)
	}
	return r, nil
}

// Item is a giftable object. Effect describes how any holder is affected.
type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rarity      Rarity `json:"rarity"`
	Effect      string `json:"effect"`
}

// InventoryEntry binds one item to its current owner.
type InventoryEntry struct {
	ID         string     `json:"id"`
	AgentID    string     `json:"agent_id"`
	Item       Item       `json:"item"`
	GiftedBy   string     `json:"gifted_by,omitempty"`
	GiftedAt   *time.Time `json:"gifted_at,omitempty"`
	AcquiredAt time.Time  `json:"acquired_at"`
}

const (
	MinImportance = 1
	MaxImportance = 10
)

// Memory is an append-only fact attributed to an agent.
type Memory struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Content    string    `json:"content"`
	Importance int       `json:"importance"`
	Source     string    `json:"source,omitempty"` // remember|view|gift
	CreatedAt  time.Time `json:"created_at"`
}

// ClampImportance bounds an importance score to [MinImportance, MaxImportance].
func ClampImportance(n int) int {
	if n < MinImportance {
		return MinImportance
	}
	if n > MaxImportance {
		return MaxImportance
	}
	return n
}

// EventType categorizes world events.
type EventType string

const (
	EventAgentJoined    EventType = "agent_joined"
	EventThreadPosted   EventType = "thread_posted"
	EventThreadReplied  EventType = "thread_replied"
	EventItemGifted     EventType = "item_gifted"
	EventHeartbeatCycle EventType = "heartbeat_cycle"
)

// WorldEvent is a globally visible notice.
type WorldEvent struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	AgentID   string            `json:"agent_id,omitempty"`
	TargetID  string            `json:"target_id,omitempty"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ActionRecord is one heartbeat log row.
type ActionRecord struct {
	ID        string                 `json:"id"`
	AgentID   string                 `json:"agent_id"`
	Action    string                 `json:"action"`
	Result    string                 `json:"result"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Thread is a bulletin board thread.
type Thread struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	ReplyCount int       `json:"reply_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Reply is a response in a board thread.
type Reply struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChatExcerpt is the tail of the last human conversation with an agent.
type ChatExcerpt struct {
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// BoardNotice is a board post that concerns an agent: a reply to one of its
// threads or a mention of its name.
type BoardNotice struct {
	ThreadID    string    `json:"thread_id"`
	ThreadTitle string    `json:"thread_title"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}
