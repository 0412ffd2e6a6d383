package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

// DefaultHistorySize bounds the broadcast history.
const DefaultHistorySize = 100

// BroadcastRecord tracks a sent broadcast for history.
type BroadcastRecord struct {
	Message *BroadcastMessage `json:"message"`
	SentAt  time.Time         `json:"sent_at"`
	Targets []string          `json:"targets"`
}

// Broadcaster announces world events through the gateway and keeps a bounded
// history of what was sent.
type Broadcaster struct {
	gateway *Gateway
	history []BroadcastRecord
	max     int
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster backed by the given gateway.
func NewBroadcaster(gw *Gateway, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		gateway: gw,
		max:     DefaultHistorySize,
		logger:  logger,
	}
}

// Send broadcasts a message to all or selected platforms via the gateway.
func (b *Broadcaster) Send(ctx context.Context, msg *BroadcastMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("broadcast type is required")
	}

	b.logger.Debug("sending broadcast",
		zap.String("type", string(msg.Type)),
		zap.String("title", msg.Title),
		zap.String("agent", msg.AgentID))

	if err := b.gateway.Broadcast(ctx, msg); err != nil {
		return err
	}

	targets := msg.Platforms
	if len(targets) == 0 {
		targets = b.gateway.Adapters()
	}

	b.mu.Lock()
	b.history = append(b.history, BroadcastRecord{
		Message: msg,
		SentAt:  time.Now(),
		Targets: targets,
	})
	if over := len(b.history) - b.max; over > 0 {
		b.history = append([]BroadcastRecord(nil), b.history[over:]...)
	}
	b.mu.Unlock()
	return nil
}

// Announce broadcasts a world event.
func (b *Broadcaster) Announce(ctx context.Context, e *world.WorldEvent) error {
	return b.Send(ctx, &BroadcastMessage{
		Type:    BroadcastWorldEvent,
		Title:   string(e.Type),
		Content: e.Content,
		AgentID: e.AgentID,
	})
}

// Introduce registers the agent's persona so its announcements carry its
// name and avatar.
func (b *Broadcaster) Introduce(a world.Agent) {
	b.gateway.SetPersona(a.ID, PersonaFor(a))
}

// Statuses reports adapter connection state.
func (b *Broadcaster) Statuses() []AdapterStatus {
	return b.gateway.Statuses()
}

// History returns the most recent broadcast records, oldest first.
func (b *Broadcaster) History(limit int) []BroadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]BroadcastRecord, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}
