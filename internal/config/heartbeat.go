package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "30m" in JSON and YAML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\": %w", err)
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// ScheduleBand is one row of the schedule table.
type ScheduleBand struct {
	FromHour int      `json:"from_hour" yaml:"from_hour"`
	ToHour   int      `json:"to_hour" yaml:"to_hour"`
	Interval Duration `json:"interval" yaml:"interval"`
}

// Relation backends.
const (
	RelationsStore = "store"
	RelationsNeo4j = "neo4j"
)

// HeartbeatConfig tunes the wake-up engine.
type HeartbeatConfig struct {
	Secret                 string         `json:"secret" yaml:"secret"`
	MaxRounds              int            `json:"max_rounds" yaml:"max_rounds"`
	Mode                   string         `json:"mode" yaml:"mode"`
	Workers                int            `json:"workers" yaml:"workers"`
	AgentDelay             Duration       `json:"agent_delay" yaml:"agent_delay"`
	Timezone               string         `json:"timezone" yaml:"timezone"`
	Schedule               []ScheduleBand `json:"schedule" yaml:"schedule"`
	AutoTick               bool           `json:"auto_tick" yaml:"auto_tick"`
	TickInterval           Duration       `json:"tick_interval" yaml:"tick_interval"`
	LockTTL                Duration       `json:"lock_ttl" yaml:"lock_ttl"`
	RequireActionBeforeEnd bool           `json:"require_action_before_end" yaml:"require_action_before_end"`
	Model                  string         `json:"model" yaml:"model"`
	MaxTokens              int            `json:"max_tokens" yaml:"max_tokens"`
	ContextTokens          int            `json:"context_tokens" yaml:"context_tokens"`
	Relations              string         `json:"relations" yaml:"relations"`
	ProfileDir             string         `json:"profile_dir" yaml:"profile_dir"`
	// Bindings pins agent IDs to provider IDs.
	Bindings  map[string]string `json:"bindings" yaml:"bindings"`
	Fallbacks []string          `json:"fallbacks" yaml:"fallbacks"`
}

// Validate applies defaults and rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.Postgres.Migrations == "" {
		c.Database.Postgres.Migrations = "migrations"
	}

	h := &c.Heartbeat
	if h.MaxRounds <= 0 {
		h.MaxRounds = 5
	}
	if h.Mode == "" {
		h.Mode = string(world.DriverSequential)
	}
	switch world.DriverMode(h.Mode) {
	case world.DriverSequential, world.DriverPool:
	default:
		return fmt.Errorf("heartbeat.mode %q: want sequential or pool", h.Mode)
	}
	if h.Workers <= 0 {
		h.Workers = 4
	}
	if h.AgentDelay.Duration == 0 {
		h.AgentDelay.Duration = 2 * time.Second
	}
	if h.TickInterval.Duration == 0 {
		h.TickInterval.Duration = time.Minute
	}
	if h.LockTTL.Duration == 0 {
		h.LockTTL.Duration = 15 * time.Minute
	}
	if h.Relations == "" {
		h.Relations = RelationsStore
	}
	if h.Relations != RelationsStore && h.Relations != RelationsNeo4j {
		return fmt.Errorf("heartbeat.relations %q: want store or neo4j", h.Relations)
	}
	if _, err := h.Location(); err != nil {
		return err
	}
	if len(h.Schedule) > 0 {
		if err := h.ScheduleTable().Validate(); err != nil {
			return fmt.Errorf("heartbeat.schedule: %w", err)
		}
	}
	known := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		known[p.ID] = true
	}
	for agentID, pid := range h.Bindings {
		if !known[pid] {
			return fmt.Errorf("heartbeat.bindings.%s: unknown provider %q", agentID, pid)
		}
	}
	for _, pid := range h.Fallbacks {
		if !known[pid] {
			return fmt.Errorf("heartbeat.fallbacks: unknown provider %q", pid)
		}
	}
	return nil
}

// Location resolves the timezone; empty means the local zone.
func (h HeartbeatConfig) Location() (*time.Location, error) {
	if h.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return nil, fmt.Errorf("heartbeat.timezone: %w", err)
	}
	return loc, nil
}

// ScheduleTable returns the configured table, or the default one.
func (h HeartbeatConfig) ScheduleTable() world.ScheduleTable {
	if len(h.Schedule) == 0 {
		return world.DefaultScheduleTable()
	}
	t := make(world.ScheduleTable, len(h.Schedule))
	for i, b := range h.Schedule {
		t[i] = world.ScheduleBand{FromHour: b.FromHour, ToHour: b.ToHour, Interval: b.Interval.Duration}
	}
	return t
}

// Engine converts to the cycle driver's config.
func (h HeartbeatConfig) Engine() world.HeartbeatConfig {
	loc, err := h.Location()
	if err != nil {
		loc = time.Local
	}
	return world.HeartbeatConfig{
		Mode:       world.DriverMode(h.Mode),
		Workers:    h.Workers,
		AgentDelay: h.AgentDelay.Duration,
		Schedule:   h.ScheduleTable(),
		Location:   loc,
		LockTTL:    h.LockTTL.Duration,
	}
}
