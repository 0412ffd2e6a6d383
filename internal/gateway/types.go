package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

// Adapter posts announcements to one chat platform.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Broadcast(ctx context.Context, msg *BroadcastMessage) error
	Close() error
}

// BroadcastType categorizes broadcast messages.
type BroadcastType string

const (
	BroadcastWorldEvent   BroadcastType = "world_event"
	BroadcastCycleSummary BroadcastType = "cycle_summary"
)

// BroadcastMessage is sent to every registered platform, or the listed ones.
type BroadcastMessage struct {
	Type      BroadcastType `json:"type"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	AgentID   string        `json:"agent_id,omitempty"`
	Platforms []string      `json:"platforms,omitempty"`
}

// AdapterStatus reports an adapter's connection health.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}

// PersonaSetter is implemented by adapters that can post as an agent.
type PersonaSetter interface {
	SetPersona(agentID string, persona *AgentPersona)
}

// StatusReporter is implemented by adapters that track their connection.
type StatusReporter interface {
	Status() AdapterStatus
}

// AgentPersona defines how an agent appears on a platform.
type AgentPersona struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url"`
	Emoji   string `json:"emoji"` // used when there is no icon_url, e.g. ":fox_face:"
}

// PersonaFor derives an agent's persona from its display name and avatar. An
// avatar is either an image URL or an emoji shortcode.
func PersonaFor(a world.Agent) *AgentPersona {
	p := &AgentPersona{Name: a.Name}
	switch avatar := strings.TrimSpace(a.Avatar); {
	case strings.HasPrefix(avatar, "http://"), strings.HasPrefix(avatar, "https://"):
		p.IconURL = avatar
	case len(avatar) > 2 && strings.HasPrefix(avatar, ":") && strings.HasSuffix(avatar, ":"):
		p.Emoji = avatar
	}
	return p
}
