package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-heartbeat/internal/action"
	hbctx "github.com/nidhogg/nuka-heartbeat/internal/context"
	"github.com/nidhogg/nuka-heartbeat/internal/provider"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

// DefaultMaxRounds bounds a session when no ceiling is configured.
const DefaultMaxRounds = 5

// Audit log actions written by the controller itself.
const (
	RecordError      = "error"
	RecordSessionEnd = "session_end"
)

// End reasons.
const (
	EndRequested  = "end requested"
	EndRoundLimit = "round limit reached"
)

const blockedEnd = "You have not done anything yet. Take at least one action (post, reply, give or remember) before ending."

// Config tunes the session controller.
type Config struct {
	MaxRounds int
	// RequireActionBeforeEnd blocks an end request until the agent has
	// taken at least one substantive action.
	RequireActionBeforeEnd bool
	// ProfileDir holds optional per-agent SOUL.md/Agent.md/GOALS.md files.
	ProfileDir string
}

// ContextSource provides the wake-up snapshot.
type ContextSource interface {
	Fetch(ctx context.Context, agentID string) (*hbctx.Snapshot, error)
	Render(s *hbctx.Snapshot) string
}

// Executor runs catalog actions.
type Executor interface {
	Definitions() []provider.Tool
	Execute(ctx context.Context, self world.Agent, name, args string) action.Result
}

// Recorder appends heartbeat log rows.
type Recorder interface {
	RecordAction(ctx context.Context, r *world.ActionRecord) error
}

// Controller runs one agent's bounded multi-round heartbeat session.
type Controller struct {
	config   Config
	contexts ContextSource
	decider  Decider
	actions  Executor
	recorder Recorder
	status   *world.StatusBoard
	logger   *zap.Logger
}

// NewController creates a session controller.
func NewController(cfg Config, contexts ContextSource, decider Decider, actions Executor, recorder Recorder, status *world.StatusBoard, logger *zap.Logger) *Controller {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if status == nil {
		status = world.NewStatusBoard(logger)
	}
	return &Controller{
		config:   cfg,
		contexts: contexts,
		decider:  decider,
		actions:  actions,
		recorder: recorder,
		status:   status,
		logger:   logger,
	}
}

// Session is the in-memory state of one wake-up. It is discarded when Run
// returns; its only durable trace is the heartbeat log.
type Session struct {
	Agent       world.Agent
	History     []provider.Message
	Round       int
	State       world.SessionState
	Substantive bool
	Outcomes    []world.ActionOutcome
	EndReason   string
}

// Run wakes an agent and drives its session to completion. It never fails:
// context and decision errors end the session and are reported in the
// summary.
func (c *Controller) Run(ctx context.Context, a world.Agent) world.AgentSummary {
	s := &Session{Agent: a}
	c.transition(s, world.StateDeciding)

	snap, err := c.contexts.Fetch(ctx, a.ID)
	if err != nil {
		return c.abort(ctx, s, fmt.Errorf("fetch context: %w", err))
	}
	system := systemPrompt(c.config.MaxRounds, LoadProfile(c.config.ProfileDir, a.ID), c.contexts.Render(snap))
	s.History = initialHistory(system, seedMessage(snap))

	for s.Round < c.config.MaxRounds && s.State != world.StateEnded {
		s.Round++
		c.transition(s, world.StateDeciding)

		d, err := c.decider.Decide(ctx, a, s.History, c.actions.Definitions())
		if err != nil {
			return c.abort(ctx, s, fmt.Errorf("decide round %d: %w", s.Round, err))
		}

		switch d.Kind {
		case DecisionText:
			s.History = append(s.History,
				provider.Message{Role: provider.RoleAssistant, Content: d.Text},
				provider.Message{Role: provider.RoleUser, Content: reminder(d.Text)})
			c.logger.Debug("round without action",
				zap.String("agent", a.ID), zap.Int("round", s.Round))
		case DecisionActions:
			c.transition(s, world.StateExecuting)
			c.execute(ctx, s, d)
		}
	}

	if s.State != world.StateEnded {
		s.EndReason = EndRoundLimit
		c.logger.Info("session hit round ceiling",
			zap.String("agent", a.ID), zap.Int("rounds", s.Round))
	}
	c.record(ctx, s, RecordSessionEnd, s.EndReason, map[string]interface{}{
		"rounds":  s.Round,
		"actions": len(s.Outcomes),
	})
	c.transition(s, world.StateEnded)

	return world.AgentSummary{
		AgentID:     a.ID,
		AgentName:   a.Name,
		Success:     true,
		ActionCount: len(s.Outcomes),
		Actions:     s.Outcomes,
		Rounds:      s.Round,
		EndReason:   s.EndReason,
	}
}

// Status returns the live status board.
func (c *Controller) Status() *world.StatusBoard { return c.status }

// execute runs every requested action in order. Actions after an honoured
// end are answered as skipped so the history stays well formed.
func (c *Controller) execute(ctx context.Context, s *Session, d Decision) {
	calls := make([]provider.ToolCall, len(d.Actions))
	for i := range d.Actions {
		if d.Actions[i].ID == "" {
			d.Actions[i].ID = fmt.Sprintf("call_%d_%d", s.Round, i)
		}
		calls[i] = provider.ToolCall{
			ID:       d.Actions[i].ID,
			Type:     "function",
			Function: provider.ToolCallFunction{Name: d.Actions[i].Name, Arguments: d.Actions[i].Arguments},
		}
	}
	s.History = append(s.History, provider.Message{
		Role:      provider.RoleAssistant,
		Content:   d.Text,
		ToolCalls: calls,
	})

	blocked := false
	for _, inv := range d.Actions {
		if s.State == world.StateEnded {
			s.History = append(s.History, provider.Message{
				Role:       provider.RoleTool,
				Content:    action.Render(action.Result{Message: "skipped: the session already ended"}),
				ToolCallID: inv.ID,
			})
			continue
		}

		res := c.actions.Execute(ctx, s.Agent, inv.Name, inv.Arguments)
		if inv.Name == action.End && res.Success {
			if c.config.RequireActionBeforeEnd && !s.Substantive {
				res = action.Result{Message: blockedEnd, Blocked: true}
				blocked = true
			} else {
				s.EndReason = EndRequested
				c.transition(s, world.StateEnded)
			}
		} else if res.Success && action.Substantive(inv.Name) {
			s.Substantive = true
		}

		s.Outcomes = append(s.Outcomes, world.ActionOutcome{Action: inv.Name, Result: res.Message})
		c.record(ctx, s, inv.Name, res.Message, map[string]interface{}{
			"round":     s.Round,
			"success":   res.Success,
			"blocked":   res.Blocked,
			"arguments": inv.Arguments,
		})
		s.History = append(s.History, provider.Message{
			Role:       provider.RoleTool,
			Content:    action.Render(res),
			ToolCallID: inv.ID,
		})
		c.logger.Debug("action executed",
			zap.String("agent", s.Agent.ID),
			zap.Int("round", s.Round),
			zap.String("action", inv.Name),
			zap.Bool("success", res.Success))
	}

	if blocked && s.State != world.StateEnded {
		c.transition(s, world.StateForcedContinue)
	}
}

// abort ends a session on a per-agent fatal error.
func (c *Controller) abort(ctx context.Context, s *Session, err error) world.AgentSummary {
	c.logger.Warn("heartbeat session failed",
		zap.String("agent", s.Agent.ID), zap.Int("round", s.Round), zap.Error(err))
	c.record(ctx, s, RecordError, err.Error(), map[string]interface{}{"round": s.Round})
	c.transition(s, world.StateEnded)
	return world.AgentSummary{
		AgentID:     s.Agent.ID,
		AgentName:   s.Agent.Name,
		Success:     false,
		ActionCount: len(s.Outcomes),
		Actions:     s.Outcomes,
		Rounds:      s.Round,
		Error:       err.Error(),
	}
}

func (c *Controller) record(ctx context.Context, s *Session, name, result string, meta map[string]interface{}) {
	if c.recorder == nil {
		return
	}
	err := c.recorder.RecordAction(ctx, &world.ActionRecord{
		ID:        uuid.New().String(),
		AgentID:   s.Agent.ID,
		Action:    name,
		Result:    result,
		Metadata:  meta,
		CreatedAt: time.Now(),
	})
	if err != nil {
		c.logger.Warn("heartbeat log write failed",
			zap.String("agent", s.Agent.ID), zap.String("action", name), zap.Error(err))
	}
}

func (c *Controller) transition(s *Session, to world.SessionState) {
	s.State = to
	c.status.Set(s.Agent.ID, to, s.Round)
}
