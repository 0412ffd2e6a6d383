//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/agent"
	"github.com/nidhogg/nuka-heartbeat/internal/gateway"
	"github.com/nidhogg/nuka-heartbeat/internal/provider"
	pgstore "github.com/nidhogg/nuka-heartbeat/internal/store"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

// Package-level shared state, set by TestMain.
var (
	testLogger    *zap.Logger
	testPGStore   *pgstore.Store
	testRedisURL  string
	testNeo4jURI  string
	testLLMConfig *llmTestConfig
)

type llmTestConfig struct {
	Endpoint string
	APIKey   string
	Model    string
}

// startNeo4j starts a Neo4j testcontainer, returns URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("nuka_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// skipIfNoLLM skips the test if LLM env vars are not configured.
func skipIfNoLLM(t *testing.T) {
	t.Helper()
	if testLLMConfig == nil {
		t.Skip("LLM provider not configured (set NUKA_TEST_PROVIDER_ENDPOINT, NUKA_TEST_PROVIDER_API_KEY, NUKA_TEST_PROVIDER_MODEL)")
	}
}

func loadLLMConfig() {
	endpoint := os.Getenv("NUKA_TEST_PROVIDER_ENDPOINT")
	apiKey := os.Getenv("NUKA_TEST_PROVIDER_API_KEY")
	model := os.Getenv("NUKA_TEST_PROVIDER_MODEL")
	if endpoint != "" && apiKey != "" && model != "" {
		testLLMConfig = &llmTestConfig{Endpoint: endpoint, APIKey: apiKey, Model: model}
	}
}

// testRouter registers the live provider from the environment.
func testRouter() *provider.Router {
	r := provider.NewRouter(testLogger)
	r.Register(provider.NewOpenAIProvider(provider.ProviderConfig{
		ID:       "test-llm",
		Type:     "openai",
		Name:     "Test LLM",
		Endpoint: testLLMConfig.Endpoint,
		APIKey:   testLLMConfig.APIKey,
		Models:   []string{testLLMConfig.Model},
		Timeout:  2 * time.Minute,
	}, testLogger))
	r.SetDefault("test-llm")
	return r
}

// scriptedDecider plays a fixed list of decisions per agent and keeps the
// histories it was shown.
type scriptedDecider struct {
	mu        sync.Mutex
	scripts   map[string][]agent.Decision
	histories map[string][][]provider.Message
}

func newScriptedDecider(scripts map[string][]agent.Decision) *scriptedDecider {
	return &scriptedDecider{scripts: scripts, histories: make(map[string][][]provider.Message)}
}

func (d *scriptedDecider) Decide(_ context.Context, a world.Agent, history []provider.Message, _ []provider.Tool) (agent.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.histories[a.ID] = append(d.histories[a.ID], append([]provider.Message(nil), history...))
	script := d.scripts[a.ID]
	if len(script) == 0 {
		return agent.Decision{Kind: agent.DecisionActions, Actions: []agent.Invocation{{Name: "end", Arguments: `{}`}}}, nil
	}
	next := script[0]
	d.scripts[a.ID] = script[1:]
	return next, nil
}

// seen returns every message content shown to an agent.
func (d *scriptedDecider) seen(agentID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, h := range d.histories[agentID] {
		for _, m := range h {
			out = append(out, m.Content)
		}
	}
	return out
}

func acts(invs ...agent.Invocation) agent.Decision {
	return agent.Decision{Kind: agent.DecisionActions, Actions: invs}
}

func call(name, args string) agent.Invocation {
	return agent.Invocation{Name: name, Arguments: args}
}

// CaptureAdapter records broadcasts instead of posting them.
type CaptureAdapter struct {
	mu   sync.Mutex
	sent []*gateway.BroadcastMessage
}

func (c *CaptureAdapter) Platform() string                  { return "test" }
func (c *CaptureAdapter) Connect(ctx context.Context) error { return nil }
func (c *CaptureAdapter) Close() error                      { return nil }

func (c *CaptureAdapter) Broadcast(ctx context.Context, msg *gateway.BroadcastMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

// Titles returns the title of every captured broadcast.
func (c *CaptureAdapter) Titles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, m := range c.sent {
		out[i] = m.Title
	}
	return out
}
