package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordAdapter posts announcements to a Discord channel through the bot
// gateway.
type DiscordAdapter struct {
	token       string
	channelID   string
	session     *discordgo.Session
	personas    map[string]*AgentPersona // agentID -> persona
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewDiscordAdapter creates a Discord announcer.
func NewDiscordAdapter(token, channelID string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:     token,
		channelID: channelID,
		personas:  make(map[string]*AgentPersona),
		logger:    logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

// SetPersona registers an agent's display persona for Discord messages.
func (a *DiscordAdapter) SetPersona(agentID string, persona *AgentPersona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[agentID] = persona
}

// Connect opens the Discord session.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.setError(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	if err := session.Open(); err != nil {
		a.setError(fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	a.logger.Info("discord adapter connected",
		zap.String("user", session.State.User.Username),
		zap.String("channel", a.channelID))
	return nil
}

func (a *DiscordAdapter) setError(msg string) {
	a.mu.Lock()
	a.lastError = msg
	a.connected = false
	a.mu.Unlock()
}

// Broadcast posts the message to the configured channel.
func (a *DiscordAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord: not connected")
	}
	if _, err := session.ChannelMessageSend(a.channelID, a.format(msg)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// format renders the message, prefixed with the agent's persona when known.
func (a *DiscordAdapter) format(msg *BroadcastMessage) string {
	content := fmt.Sprintf("**[%s] %s**\n%s", msg.Type, msg.Title, msg.Content)
	a.mu.RLock()
	persona, ok := a.personas[msg.AgentID]
	a.mu.RUnlock()
	if !ok {
		return content
	}
	prefix := persona.Name
	if persona.Emoji != "" {
		prefix = persona.Emoji + " " + prefix
	}
	return fmt.Sprintf("**[%s]** %s", prefix, content)
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

// Status reports the connection state.
func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		s.Details = fmt.Sprintf("bot=%s, channel=%s",
			a.session.State.User.Username, a.channelID)
	}
	return s
}
