package world

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DriverMode selects how a cycle walks the agent list.
type DriverMode string

const (
	DriverSequential DriverMode = "sequential"
	DriverPool       DriverMode = "pool"
)

// ActionOutcome is one action as reported back to the cycle trigger.
type ActionOutcome struct {
	Action string `json:"action"`
	Result string `json:"result"`
}

// AgentSummary reports one agent's wake-up.
type AgentSummary struct {
	AgentID     string          `json:"agent_id"`
	AgentName   string          `json:"agent_name"`
	Success     bool            `json:"success"`
	ActionCount int             `json:"action_count"`
	Actions     []ActionOutcome `json:"actions"`
	Rounds      int             `json:"rounds"`
	EndReason   string          `json:"end_reason,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// CycleSummary aggregates a cycle.
type CycleSummary struct {
	AgentCount   int           `json:"agent_count"`
	TotalActions int           `json:"total_actions"`
	Duration     time.Duration `json:"duration"`
}

// CycleReport is the result of a cycle trigger.
type CycleReport struct {
	Skipped        bool           `json:"skipped"`
	Reason         string         `json:"reason,omitempty"`
	NextEligibleIn time.Duration  `json:"next_eligible_in,omitempty"`
	Agents         []AgentSummary `json:"agents,omitempty"`
	Summary        CycleSummary   `json:"summary"`
}

// RunFunc runs one agent's session to completion. It never fails the cycle:
// per-agent errors are reported inside the summary.
type RunFunc func(ctx context.Context, a Agent) AgentSummary

// CycleStore is the persistence the cycle driver needs.
type CycleStore interface {
	ListAgents(ctx context.Context) ([]Agent, error)
	GetAgent(ctx context.Context, id string) (*Agent, error)
	LastEventAt(ctx context.Context, t EventType) (time.Time, error)
	AddWorldEvent(ctx context.Context, e *WorldEvent) error
}

// EventSink records world events beyond the store, such as the stream bus.
type EventSink interface {
	EmitEvent(ctx context.Context, e *WorldEvent) error
}

// CycleLock prevents overlapping cycles across processes.
type CycleLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(), ok bool, err error)
}

// HeartbeatConfig tunes the cycle driver.
type HeartbeatConfig struct {
	Mode       DriverMode
	Workers    int
	AgentDelay time.Duration
	Schedule   ScheduleTable
	Location   *time.Location
	LockTTL    time.Duration
}

// Heartbeat gates and drives wake-up cycles over every agent.
type Heartbeat struct {
	cfg    HeartbeatConfig
	store  CycleStore
	run    RunFunc
	lock   CycleLock
	events EventSink
	now    func() time.Time
	mu     sync.Mutex // serializes cycles within this process
	logger *zap.Logger
}

// NewHeartbeat creates a cycle driver.
func NewHeartbeat(cfg HeartbeatConfig, store CycleStore, run RunFunc, logger *zap.Logger) *Heartbeat {
	if cfg.Mode == "" {
		cfg.Mode = DriverSequential
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = DefaultScheduleTable()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Heartbeat{
		cfg:    cfg,
		store:  store,
		run:    run,
		now:    time.Now,
		logger: logger,
	}
}

// SetLock installs a cross-process cycle lock.
func (h *Heartbeat) SetLock(l CycleLock) { h.lock = l }

// SetEvents routes the heartbeat_cycle event through sink instead of
// writing it to the store directly.
func (h *Heartbeat) SetEvents(sink EventSink) { h.events = sink }

// SetClock overrides the time source.
func (h *Heartbeat) SetClock(now func() time.Time) { h.now = now }

// Gate evaluates the scheduler against the last recorded cycle.
func (h *Heartbeat) Gate(ctx context.Context) (Gate, error) {
	last, err := h.store.LastEventAt(ctx, EventHeartbeatCycle)
	if err != nil {
		return Gate{}, fmt.Errorf("last cycle: %w", err)
	}
	now := h.now().In(h.cfg.Location)
	if !last.IsZero() {
		last = last.In(h.cfg.Location)
	}
	return ShouldRun(now, last, h.cfg.Schedule), nil
}

// RunCycle runs one wake-up cycle over every agent. Unless force is set the
// scheduler gate is consulted first and a too-early call is reported as
// skipped.
func (h *Heartbeat) RunCycle(ctx context.Context, force bool) (*CycleReport, error) {
	if !h.mu.TryLock() {
		return &CycleReport{Skipped: true, Reason: "a cycle is already running"}, nil
	}
	defer h.mu.Unlock()

	start := h.now()
	if !force {
		gate, err := h.Gate(ctx)
		if err != nil {
			return nil, err
		}
		if !gate.Run {
			h.logger.Info("heartbeat skipped",
				zap.String("reason", gate.Reason),
				zap.Duration("next_eligible_in", gate.NextEligibleIn))
			return &CycleReport{Skipped: true, Reason: gate.Reason, NextEligibleIn: gate.NextEligibleIn}, nil
		}
	}

	if h.lock != nil {
		release, ok, err := h.lock.Acquire(ctx, h.cfg.LockTTL)
		if err != nil {
			h.logger.Warn("cycle lock unavailable, continuing without it", zap.Error(err))
		} else if !ok {
			return &CycleReport{Skipped: true, Reason: "a cycle is already running elsewhere"}, nil
		} else {
			defer release()
		}
	}

	agents, err := h.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	if err := h.recordCycle(ctx, &WorldEvent{
		ID:        uuid.New().String(),
		Type:      EventHeartbeatCycle,
		Content:   fmt.Sprintf("heartbeat cycle started for %d agents", len(agents)),
		CreatedAt: start,
	}); err != nil {
		return nil, fmt.Errorf("record cycle: %w", err)
	}

	h.logger.Info("heartbeat cycle started",
		zap.Int("agents", len(agents)),
		zap.String("mode", string(h.cfg.Mode)),
		zap.Bool("forced", force))

	var results []AgentSummary
	if h.cfg.Mode == DriverPool {
		results = h.runPool(ctx, agents)
	} else {
		results = h.runSequential(ctx, agents)
	}

	report := &CycleReport{Agents: results}
	report.Summary.AgentCount = len(results)
	for _, r := range results {
		report.Summary.TotalActions += r.ActionCount
	}
	report.Summary.Duration = h.now().Sub(start)

	h.logger.Info("heartbeat cycle finished",
		zap.Int("agents", report.Summary.AgentCount),
		zap.Int("actions", report.Summary.TotalActions),
		zap.Duration("duration", report.Summary.Duration))
	return report, nil
}

func (h *Heartbeat) recordCycle(ctx context.Context, e *WorldEvent) error {
	if h.events != nil {
		return h.events.EmitEvent(ctx, e)
	}
	return h.store.AddWorldEvent(ctx, e)
}

// RunAgent wakes a single agent on demand, bypassing the gate.
func (h *Heartbeat) RunAgent(ctx context.Context, agentID string) (*AgentSummary, error) {
	a, err := h.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	s := h.run(ctx, *a)
	return &s, nil
}

// OnTick implements TickListener: every tick asks the gate for a new cycle.
func (h *Heartbeat) OnTick(ctx context.Context, _ time.Time) {
	report, err := h.RunCycle(ctx, false)
	if err != nil {
		h.logger.Warn("heartbeat tick failed", zap.Error(err))
		return
	}
	if report.Skipped {
		h.logger.Debug("heartbeat tick skipped", zap.String("reason", report.Reason))
	}
}

func (h *Heartbeat) runSequential(ctx context.Context, agents []Agent) []AgentSummary {
	results := make([]AgentSummary, 0, len(agents))
	for i, a := range agents {
		if i > 0 {
			if err := sleepCtx(ctx, h.cfg.AgentDelay); err != nil {
				h.logger.Warn("cycle interrupted", zap.Int("remaining", len(agents)-i), zap.Error(err))
				break
			}
		}
		results = append(results, h.runOne(ctx, a))
	}
	return results
}

// runPool processes agents with a bounded worker pool. Starts are staggered
// by AgentDelay and results keep the original agent order.
func (h *Heartbeat) runPool(ctx context.Context, agents []Agent) []AgentSummary {
	results := make([]AgentSummary, len(agents))
	started := make([]bool, len(agents))

	var g errgroup.Group
	g.SetLimit(h.cfg.Workers)
	for i, a := range agents {
		if i > 0 {
			if err := sleepCtx(ctx, h.cfg.AgentDelay); err != nil {
				h.logger.Warn("cycle interrupted", zap.Int("remaining", len(agents)-i), zap.Error(err))
				break
			}
		}
		started[i] = true
		g.Go(func() error {
			results[i] = h.runOne(ctx, a)
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for i := range results {
		if started[i] {
			out = append(out, results[i])
		}
	}
	return out
}

func (h *Heartbeat) runOne(ctx context.Context, a Agent) AgentSummary {
	s := h.run(ctx, a)
	if !s.Success {
		h.logger.Warn("agent heartbeat failed",
			zap.String("agent", a.ID),
			zap.String("name", a.Name),
			zap.String("error", s.Error))
	} else {
		h.logger.Debug("agent heartbeat done",
			zap.String("agent", a.ID),
			zap.Int("actions", s.ActionCount))
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
