package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/action"
	"github.com/nidhogg/nuka-heartbeat/internal/agent"
	"github.com/nidhogg/nuka-heartbeat/internal/api"
	"github.com/nidhogg/nuka-heartbeat/internal/audit"
	"github.com/nidhogg/nuka-heartbeat/internal/bus"
	"github.com/nidhogg/nuka-heartbeat/internal/config"
	hbctx "github.com/nidhogg/nuka-heartbeat/internal/context"
	"github.com/nidhogg/nuka-heartbeat/internal/embedding"
	"github.com/nidhogg/nuka-heartbeat/internal/gateway"
	"github.com/nidhogg/nuka-heartbeat/internal/memory"
	"github.com/nidhogg/nuka-heartbeat/internal/provider"
	pgstore "github.com/nidhogg/nuka-heartbeat/internal/store"
	"github.com/nidhogg/nuka-heartbeat/internal/store/memstore"
	"github.com/nidhogg/nuka-heartbeat/internal/vectorstore"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// worldStore is everything the engine reads and writes. Both the Postgres
// store and memstore satisfy it.
type worldStore interface {
	hbctx.Source
	action.Board
	api.Store
	world.CycleStore
	world.Relations
	TransferItem(ctx context.Context, entryID, fromAgentID, toAgentID string, at time.Time) error
	AddMemory(ctx context.Context, m *world.Memory) error
	AddActionRecord(ctx context.Context, r *world.ActionRecord) error
}

// graphRelations routes relationship reads and writes to Neo4j while the
// rest stays in the primary store.
type graphRelations struct {
	worldStore
	graph *world.RelationGraph
}

func (g graphRelations) AdjustRelationship(ctx context.Context, a, b string, delta int, label world.RelationLabel) (*world.Relationship, error) {
	return g.graph.AdjustRelationship(ctx, a, b, delta, label)
}

func (g graphRelations) ListRelationships(ctx context.Context, agentID string) ([]world.Relationship, error) {
	return g.graph.ListRelationships(ctx, agentID)
}

// app is the wired engine.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       worldStore
	journal     *audit.Journal
	heartbeat   *world.Heartbeat
	controller  *agent.Controller
	broadcaster *gateway.Broadcaster
	router      *provider.Router
	closers     []func()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// loadConfig reads the config file; a missing default file falls back to
// built-in defaults.
func loadConfig(explicit bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

// openStore connects Postgres when a DSN is configured, otherwise the
// in-process store.
func openStore(ctx context.Context, cfg *config.Config, migrate bool, logger *zap.Logger) (worldStore, func(), error) {
	if cfg.Database.Postgres.DSN == "" {
		logger.Warn("no postgres dsn configured, using in-memory store")
		return memstore.New(), func() {}, nil
	}
	ps, err := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); err != nil {
			ps.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return ps, ps.Close, nil
}

func newRouter(cfg *config.Config, logger *zap.Logger) *provider.Router {
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(pc.Provider(), logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(pc.Provider(), logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	for agentID, providerID := range cfg.Heartbeat.Bindings {
		router.Bind(agentID, providerID)
	}
	router.SetSharedFallbacks(cfg.Heartbeat.Fallbacks)
	return router
}

// newApp wires the engine. Optional backends (Redis, Qdrant, Neo4j, chat
// platforms) are skipped with a warning when unavailable.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	st, closeStore, err := openStore(ctx, cfg, true, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	a.store = st

	if cfg.Heartbeat.Relations == config.RelationsNeo4j {
		n := cfg.Database.Neo4j
		graph, err := world.NewRelationGraphFromURI(ctx, n.URI, n.User, n.Password, logger)
		if err != nil {
			logger.Warn("Neo4j unavailable, relationships stay in the primary store", zap.Error(err))
		} else {
			a.store = graphRelations{worldStore: st, graph: graph}
			a.closers = append(a.closers, func() { _ = graph.Close(context.Background()) })
		}
	}

	a.journal = audit.NewJournal(a.store, logger)

	var lock world.CycleLock
	if cfg.Database.Redis.URL != "" {
		b, err := bus.Open(ctx, cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without stream bus or cycle lock", zap.Error(err))
		} else {
			a.journal.SetPublisher(b)
			lock = bus.NewCycleLock(b.Client(), logger)
			a.closers = append(a.closers, func() { _ = b.Close() })
		}
	}

	a.wireGateway(ctx)

	assembler := hbctx.NewAssembler(hbctx.Config{MaxTokens: cfg.Heartbeat.ContextTokens}, a.store, logger)
	var indexer memory.Indexer
	if idx := a.memoryIndex(ctx); idx != nil {
		indexer = idx
		assembler.SetRecaller(idx)
	} else {
		assembler.SetRecaller(memory.NewKeywordRecaller(a.store))
	}

	catalog := action.NewCatalog(action.Deps{
		Board:     a.store,
		Inventory: a.store,
		Agents:    a.store,
		Memories:  memory.NewWriter(a.store, indexer, logger),
		Relations: a.store,
		Events:    a.journal,
	}, logger)

	a.router = newRouter(cfg, logger)
	decider := agent.NewRouterDecider(a.router, cfg.Heartbeat.Model, cfg.Heartbeat.MaxTokens)
	a.controller = agent.NewController(agent.Config{
		MaxRounds:              cfg.Heartbeat.MaxRounds,
		RequireActionBeforeEnd: cfg.Heartbeat.RequireActionBeforeEnd,
		ProfileDir:             cfg.Heartbeat.ProfileDir,
	}, assembler, decider, catalog, a.journal, nil, logger)

	a.heartbeat = world.NewHeartbeat(cfg.Heartbeat.Engine(), a.store, a.controller.Run, logger)
	a.heartbeat.SetEvents(a.journal)
	if lock != nil {
		a.heartbeat.SetLock(lock)
	}
	return a, nil
}

// memoryIndex connects the embedding endpoint and Qdrant. It returns nil
// when either is missing.
func (a *app) memoryIndex(ctx context.Context) *memory.Index {
	emb, err := embedding.New(a.cfg.Embedding)
	if err != nil {
		a.logger.Warn("embedding config invalid, using keyword recall", zap.Error(err))
		return nil
	}
	q := a.cfg.Database.Qdrant
	if emb == nil || q.Host == "" {
		return nil
	}
	if q.Port == 0 {
		q.Port = 6334
	}
	vc, err := vectorstore.NewClient(q)
	if err != nil {
		a.logger.Warn("Qdrant unavailable, using keyword recall", zap.Error(err))
		return nil
	}
	idx := memory.NewIndex(emb, vc, q.Collection, a.logger)
	if err := idx.Init(ctx); err != nil {
		a.logger.Warn("memory index init failed, using keyword recall", zap.Error(err))
		_ = vc.Close()
		return nil
	}
	a.closers = append(a.closers, func() { _ = vc.Close() })
	return idx
}

// wireGateway connects the enabled chat platforms and announces world
// events through them.
func (a *app) wireGateway(ctx context.Context) {
	n := a.cfg.Notify
	gw := gateway.NewGateway(a.logger)
	if n.Slack.Enabled && n.Slack.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(n.Slack.BotToken, n.Slack.ChannelID, a.logger))
	}
	if n.Discord.Enabled && n.Discord.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(n.Discord.BotToken, n.Discord.ChannelID, a.logger))
	}
	if len(gw.Adapters()) == 0 {
		return
	}
	if err := gw.ConnectAll(ctx); err != nil {
		a.logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}
	a.broadcaster = gateway.NewBroadcaster(gw, a.logger)
	a.journal.SetAnnouncer(a.broadcaster)
	agents, err := a.store.ListAgents(ctx)
	if err != nil {
		a.logger.Warn("could not load agent personas", zap.Error(err))
	}
	for _, ag := range agents {
		a.broadcaster.Introduce(ag)
	}
	a.closers = append(a.closers, func() { _ = gw.Close() })
}

func (a *app) handler() *api.Handler {
	h := api.NewHandler(a.heartbeat, a.store, a.journal, a.controller.Status(),
		a.cfg.Heartbeat.ScheduleTable(), a.cfg.Heartbeat.Secret, a.logger)
	if a.broadcaster != nil {
		h.SetBroadcaster(a.broadcaster)
	}
	h.SetProviders(a.router)
	return h
}

// Close releases backends in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// bootstrap loads config, logger and the wired app for a subcommand.
func bootstrap(ctx context.Context, explicit bool) (*app, error) {
	cfg, err := loadConfig(explicit)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(configPath); statErr != nil {
		logger.Warn("config file not found, using defaults", zap.String("path", configPath))
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}
