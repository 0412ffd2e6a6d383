//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/action"
	"github.com/nidhogg/nuka-heartbeat/internal/agent"
	"github.com/nidhogg/nuka-heartbeat/internal/audit"
	"github.com/nidhogg/nuka-heartbeat/internal/bus"
	hbctx "github.com/nidhogg/nuka-heartbeat/internal/context"
	"github.com/nidhogg/nuka-heartbeat/internal/gateway"
	"github.com/nidhogg/nuka-heartbeat/internal/memory"
	pgstore "github.com/nidhogg/nuka-heartbeat/internal/store"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()
	testLogger, _ = zap.NewDevelopment()
	defer testLogger.Sync()

	neo4jURI, neo4jCleanup, err := startNeo4j(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "neo4j: %v\n", err)
		return 1
	}
	defer neo4jCleanup()
	testNeo4jURI = neo4jURI

	pgDSN, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres: %v\n", err)
		return 1
	}
	defer pgCleanup()

	testPGStore, err = pgstore.New(ctx, pgDSN, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pg store: %v\n", err)
		return 1
	}
	defer testPGStore.Close()
	if err := testPGStore.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}

	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		return 1
	}
	defer redisCleanup()
	testRedisURL = redisURL

	loadLLMConfig()
	return m.Run()
}

// graphSource reads relationships from Neo4j and everything else from
// Postgres.
type graphSource struct {
	*pgstore.Store
	graph *world.RelationGraph
}

func (g graphSource) ListRelationships(ctx context.Context, agentID string) ([]world.Relationship, error) {
	return g.graph.ListRelationships(ctx, agentID)
}

type engine struct {
	heartbeat *world.Heartbeat
	bus       *bus.Bus
	graph     *world.RelationGraph
	capture   *CaptureAdapter
}

func newEngine(t *testing.T, decider agent.Decider) *engine {
	t.Helper()
	ctx := context.Background()

	b, err := bus.Open(ctx, testRedisURL, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	graph, err := world.NewRelationGraphFromURI(ctx, testNeo4jURI, "", "", testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { graph.Close(context.Background()) })

	capture := &CaptureAdapter{}
	gw := gateway.NewGateway(testLogger)
	gw.Register(capture)

	journal := audit.NewJournal(testPGStore, testLogger)
	journal.SetPublisher(b)
	journal.SetAnnouncer(gateway.NewBroadcaster(gw, testLogger))

	src := graphSource{Store: testPGStore, graph: graph}
	assembler := hbctx.NewAssembler(hbctx.Config{}, src, testLogger)
	assembler.SetRecaller(memory.NewKeywordRecaller(testPGStore))

	catalog := action.NewCatalog(action.Deps{
		Board:     testPGStore,
		Inventory: testPGStore,
		Agents:    testPGStore,
		Memories:  memory.NewWriter(testPGStore, nil, testLogger),
		Relations: graph,
		Events:    journal,
	}, testLogger)

	controller := agent.NewController(agent.Config{MaxRounds: 5}, assembler, decider, catalog, journal, nil, testLogger)
	h := world.NewHeartbeat(world.HeartbeatConfig{Location: time.UTC}, testPGStore, controller.Run, testLogger)
	h.SetLock(bus.NewCycleLock(b.Client(), testLogger))
	h.SetEvents(journal)

	return &engine{heartbeat: h, bus: b, graph: graph, capture: capture}
}

func seedAgent(t *testing.T, id, name string) world.Agent {
	t.Helper()
	a := world.Agent{ID: id, Name: name}
	require.NoError(t, testPGStore.UpsertAgent(context.Background(), &a))
	return a
}

func actionNames(t *testing.T, agentID string) []string {
	t.Helper()
	recs, err := testPGStore.ListActionRecords(context.Background(), agentID, 50)
	require.NoError(t, err)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Action
	}
	return out
}

func TestHeartbeatCycle(t *testing.T) {
	ctx := context.Background()
	zari := seedAgent(t, "e2e-zari", "Zari")
	yuki := seedAgent(t, "e2e-yuki", "Yuki")
	require.NoError(t, testPGStore.AddInventory(ctx, &world.InventoryEntry{
		AgentID: zari.ID,
		Item:    world.Item{ID: "e2e-key", Name: "旧钥匙", Rarity: world.RarityRare},
	}))

	decider := newScriptedDecider(map[string][]agent.Decision{
		zari.ID: {acts(
			call("post", `{"title":"Found something","content":"@Yuki look what washed up on the beach"}`),
			call("give", `{"item_name":"旧钥匙","recipient_name":"Yuki"}`),
			call("end", `{"reason":"done for now"}`),
		)},
		yuki.ID: {acts(
			call("remember", `{"content":"Zari seems excited today","importance":6}`),
			call("end", `{}`),
		)},
	})
	e := newEngine(t, decider)

	report, err := e.heartbeat.RunCycle(ctx, true)
	require.NoError(t, err)
	require.False(t, report.Skipped)
	for _, s := range report.Agents {
		assert.True(t, s.Success, "agent %s: %s", s.AgentID, s.Error)
	}

	// the gift moved ownership
	inv, err := testPGStore.ListInventory(ctx, yuki.ID)
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, "e2e-key", inv[0].Item.ID)
	assert.Equal(t, zari.ID, inv[0].GiftedBy)

	// and warmed the relationship in the graph
	rels, err := e.graph.ListRelationships(ctx, zari.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, yuki.ID, rels[0].Other(zari.ID))
	assert.GreaterOrEqual(t, rels[0].Score, 10)

	assert.Subset(t, actionNames(t, zari.ID), []string{"post", "give", "end", agent.RecordSessionEnd})
	assert.Subset(t, actionNames(t, yuki.ID), []string{"remember", "end", agent.RecordSessionEnd})

	n, err := e.bus.Client().XLen(ctx, bus.StreamActions).Result()
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.Subset(t, e.capture.Titles(), []string{string(world.EventThreadPosted), string(world.EventItemGifted)})

	// too soon for an unforced cycle
	report, err = e.heartbeat.RunCycle(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Positive(t, report.NextEligibleIn)

	// by the next wake-up Yuki has been told about the gift
	_, err = e.heartbeat.RunCycle(ctx, true)
	require.NoError(t, err)
	joined := strings.Join(decider.seen(yuki.ID), "\n")
	assert.Contains(t, joined, "旧钥匙")
	assert.Contains(t, joined, "Zari")
}

func TestCycleLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	b, err := bus.Open(ctx, testRedisURL, testLogger)
	require.NoError(t, err)
	defer b.Close()

	first := bus.NewCycleLock(b.Client(), testLogger)
	second := bus.NewCycleLock(b.Client(), testLogger)

	release, ok, err := first.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release2, ok, err := second.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestBusSubscribe(t *testing.T) {
	b, err := bus.Open(context.Background(), testRedisURL, testLogger)
	require.NoError(t, err)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, bus.StreamEvents)
	var got *bus.Envelope
	require.Eventually(t, func() bool {
		if b.Publish(ctx, bus.StreamEvents, "thread_posted", "e2e-zari", map[string]string{"title": "hello"}) != nil {
			return false
		}
		select {
		case got = <-ch:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, "thread_posted", got.Kind)
	assert.Equal(t, "e2e-zari", got.AgentID)
}

func TestRelationGraphClamps(t *testing.T) {
	ctx := context.Background()
	graph, err := world.NewRelationGraphFromURI(ctx, testNeo4jURI, "", "", testLogger)
	require.NoError(t, err)
	defer graph.Close(ctx)

	rel, err := graph.AdjustRelationship(ctx, "e2e-b", "e2e-a", 90, "")
	require.NoError(t, err)
	assert.Equal(t, "e2e-a", rel.AgentA)
	assert.Equal(t, world.RelationFriendly, rel.Label)

	rel, err = graph.AdjustRelationship(ctx, "e2e-a", "e2e-b", 50, "")
	require.NoError(t, err)
	assert.Equal(t, world.MaxRelationScore, rel.Score)

	rel, err = graph.AdjustRelationship(ctx, "e2e-a", "e2e-b", -300, "")
	require.NoError(t, err)
	assert.Equal(t, world.MinRelationScore, rel.Score)
	assert.Equal(t, world.RelationHostile, rel.Label)

	rels, err := graph.ListRelationships(ctx, "e2e-b")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "e2e-a", rels[0].Other("e2e-b"))
}

func TestLiveDecision(t *testing.T) {
	skipIfNoLLM(t)
	ctx := context.Background()
	nora := seedAgent(t, "e2e-nora", "Nora")
	nora.Personality = "a curious researcher who loves the bulletin board"
	nora.Model = testLLMConfig.Model
	require.NoError(t, testPGStore.UpsertAgent(ctx, &nora))

	e := newEngine(t, agent.NewRouterDecider(testRouter(), testLLMConfig.Model, 1024))
	s, err := e.heartbeat.RunAgent(ctx, nora.ID)
	require.NoError(t, err)
	assert.True(t, s.Success, s.Error)
	assert.LessOrEqual(t, s.Rounds, agent.DefaultMaxRounds)
	t.Logf("nora: %d actions in %d rounds (%s)", s.ActionCount, s.Rounds, s.EndReason)
}
