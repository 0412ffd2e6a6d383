package world

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionState is where an agent's heartbeat session currently is.
type SessionState string

const (
	StateIdle           SessionState = "idle"
	StateDeciding       SessionState = "deciding"
	StateExecuting      SessionState = "executing"
	StateForcedContinue SessionState = "forced_continue"
	StateEnded          SessionState = "ended"
)

// AgentStatus is a snapshot of one agent's session progress.
type AgentStatus struct {
	AgentID   string       `json:"agent_id"`
	State     SessionState `json:"state"`
	Round     int          `json:"round"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// StatusBoard tracks live session states for operator visibility.
type StatusBoard struct {
	states map[string]AgentStatus
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewStatusBoard creates an empty status board.
func NewStatusBoard(logger *zap.Logger) *StatusBoard {
	return &StatusBoard{
		states: make(map[string]AgentStatus),
		logger: logger,
	}
}

// Get returns the current status of an agent. Unknown agents are idle.
func (b *StatusBoard) Get(agentID string) AgentStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.states[agentID]; ok {
		return s
	}
	return AgentStatus{AgentID: agentID, State: StateIdle}
}

// Set records a state transition.
func (b *StatusBoard) Set(agentID string, state SessionState, round int) {
	b.mu.Lock()
	prev := b.states[agentID]
	b.states[agentID] = AgentStatus{
		AgentID:   agentID,
		State:     state,
		Round:     round,
		UpdatedAt: time.Now(),
	}
	b.mu.Unlock()

	if prev.State != state {
		b.logger.Debug("session state changed",
			zap.String("agent", agentID),
			zap.String("from", string(prev.State)),
			zap.String("to", string(state)),
			zap.Int("round", round))
	}
}

// All returns every tracked status.
func (b *StatusBoard) All() []AgentStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]AgentStatus, 0, len(b.states))
	for _, s := range b.states {
		out = append(out, s)
	}
	return out
}
