package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackAdapter posts announcements to a Slack channel with the bot token.
type SlackAdapter struct {
	client    *slack.Client
	channelID string
	personas  map[string]*AgentPersona // agentID -> persona
	team      string
	connected time.Time
	lastError string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewSlackAdapter creates a Slack announcer.
// botToken is the Bot User OAuth Token (xoxb-...).
func NewSlackAdapter(botToken, channelID string, logger *zap.Logger) *SlackAdapter {
	return &SlackAdapter{
		client:    slack.New(botToken),
		channelID: channelID,
		personas:  make(map[string]*AgentPersona),
		logger:    logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

// SetPersona registers an agent's display persona for Slack messages.
func (a *SlackAdapter) SetPersona(agentID string, persona *AgentPersona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[agentID] = persona
}

// Connect verifies the token.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	resp, err := a.client.AuthTestContext(ctx)
	if err != nil {
		a.mu.Lock()
		a.lastError = err.Error()
		a.mu.Unlock()
		return fmt.Errorf("slack auth: %w", err)
	}
	a.mu.Lock()
	a.team = resp.Team
	a.connected = time.Now()
	a.lastError = ""
	a.mu.Unlock()
	a.logger.Info("slack adapter connected",
		zap.String("team", resp.Team), zap.String("user", resp.User))
	return nil
}

// personaOpts builds Slack message options for agent persona display.
func (a *SlackAdapter) personaOpts(agentID string) []slack.MsgOption {
	if agentID == "" {
		return nil
	}
	a.mu.RLock()
	p, ok := a.personas[agentID]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	opts := []slack.MsgOption{
		slack.MsgOptionUsername(p.Name),
	}
	if p.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(p.IconURL))
	} else if p.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(p.Emoji))
	}
	return opts
}

// Broadcast posts the message to the configured channel.
func (a *SlackAdapter) Broadcast(ctx context.Context, msg *BroadcastMessage) error {
	text := fmt.Sprintf("*[%s] %s*\n%s", msg.Type, msg.Title, msg.Content)

	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
	}
	opts = append(opts, a.personaOpts(msg.AgentID)...)

	if _, _, err := a.client.PostMessageContext(ctx, a.channelID, opts...); err != nil {
		a.logger.Warn("slack broadcast failed",
			zap.String("channel", a.channelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Status reports whether the token was verified.
func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{Platform: "slack", Error: a.lastError}
	if !a.connected.IsZero() {
		t := a.connected
		s.Connected = true
		s.ConnectedAt = &t
		s.Details = fmt.Sprintf("team=%s, channel=%s", a.team, a.channelID)
	}
	return s
}

// Close is a no-op; the Web API client holds no connection.
func (a *SlackAdapter) Close() error {
	return nil
}
