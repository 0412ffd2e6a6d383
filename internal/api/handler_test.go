package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/gateway"
	"github.com/nidhogg/nuka-heartbeat/internal/store/memstore"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

const testSecret = "hb-test-secret"

type storeEvents struct{ *memstore.Store }

func (e storeEvents) EmitEvent(ctx context.Context, ev *world.WorldEvent) error {
	return e.AddWorldEvent(ctx, ev)
}

type testEnv struct {
	h     *Handler
	ts    *httptest.Server
	store *memstore.Store
	runs  *atomic.Int32
}

// newTestEnv wires the handler over an in-memory store and a real cycle
// driver whose sessions are stubbed.
func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	ctx := context.Background()

	s := memstore.New()
	for _, a := range []world.Agent{{ID: "zari", Name: "Zari"}, {ID: "yuki", Name: "Yuki"}} {
		if err := s.UpsertAgent(ctx, &a); err != nil {
			t.Fatal(err)
		}
	}

	runs := &atomic.Int32{}
	status := world.NewStatusBoard(logger)
	run := func(_ context.Context, a world.Agent) world.AgentSummary {
		runs.Add(1)
		status.Set(a.ID, world.StateEnded, 1)
		return world.AgentSummary{
			AgentID: a.ID, AgentName: a.Name, Success: true, ActionCount: 2, Rounds: 1,
			Actions: []world.ActionOutcome{{Action: "browse", Result: "no threads yet"}, {Action: "end", Result: "session ended"}},
		}
	}
	noon := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hb := world.NewHeartbeat(world.HeartbeatConfig{Location: time.UTC}, s, run, logger)
	hb.SetClock(func() time.Time { return noon })

	h := NewHandler(hb, s, storeEvents{s}, status, world.DefaultScheduleTable(), secret, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return &testEnv{h: h, ts: ts, store: s, runs: runs}
}

func (e *testEnv) do(t *testing.T, method, path string, header http.Header, body interface{}) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, e.ts.URL+path, rd)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func authed() http.Header {
	return http.Header{"X-Heartbeat-Secret": {testSecret}}
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, testSecret)
	resp := getJSON(t, env.ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestTriggerRequiresSecret(t *testing.T) {
	env := newTestEnv(t, testSecret)

	cases := map[string]http.Header{
		"missing": nil,
		"wrong":   {"X-Heartbeat-Secret": {"nope"}},
		"bearer":  {"Authorization": {"Bearer nope"}},
	}
	for name, hdr := range cases {
		resp := env.do(t, http.MethodPost, "/api/heartbeat", hdr, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, resp.StatusCode)
		}
	}
	if n := env.runs.Load(); n != 0 {
		t.Errorf("no session may start without auth, got %d", n)
	}
}

func TestTriggerWithoutConfiguredSecret(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.do(t, http.MethodGet, "/api/heartbeat?secret=anything", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestTriggerRunsThenSkips(t *testing.T) {
	env := newTestEnv(t, testSecret)

	resp := env.do(t, http.MethodGet, "/api/heartbeat?secret="+testSecret, nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var ran struct {
		Agents  []world.AgentSummary `json:"agents"`
		Summary struct {
			AgentCount   int `json:"agent_count"`
			TotalActions int `json:"total_actions"`
		} `json:"summary"`
	}
	decodeJSON(t, resp, &ran)
	if ran.Summary.AgentCount != 2 || ran.Summary.TotalActions != 4 {
		t.Errorf("unexpected summary %+v", ran.Summary)
	}
	if len(ran.Agents) != 2 || ran.Agents[0].AgentID != "zari" || ran.Agents[0].Actions[1].Action != "end" {
		t.Errorf("unexpected agents %+v", ran.Agents)
	}

	// noon falls in a 20 minute band; the clock has not moved
	resp = env.do(t, http.MethodPost, "/api/heartbeat", http.Header{"Authorization": {"Bearer " + testSecret}}, nil)
	var skipped map[string]interface{}
	decodeJSON(t, resp, &skipped)
	if skipped["skipped"] != true {
		t.Fatalf("expected skipped, got %v", skipped)
	}
	if skipped["next_eligible_in_seconds"].(float64) != 1200 {
		t.Errorf("expected 1200s, got %v", skipped["next_eligible_in_seconds"])
	}
	if n := env.runs.Load(); n != 2 {
		t.Errorf("expected 2 sessions, got %d", n)
	}

	// force bypasses the gate
	resp = env.do(t, http.MethodPost, "/api/heartbeat", authed(), map[string]bool{"force": true})
	resp.Body.Close()
	if n := env.runs.Load(); n != 4 {
		t.Errorf("expected 4 sessions after forced run, got %d", n)
	}
}

func TestTriggerSingleAgent(t *testing.T) {
	env := newTestEnv(t, testSecret)

	resp := env.do(t, http.MethodPost, "/api/heartbeat", authed(), map[string]string{"agent_id": "yuki"})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body cycleResponse
	decodeJSON(t, resp, &body)
	if len(body.Agents) != 1 || body.Agents[0].AgentName != "Yuki" {
		t.Errorf("unexpected agents %+v", body.Agents)
	}
	if body.Summary.AgentCount != 1 {
		t.Errorf("expected agent_count 1, got %d", body.Summary.AgentCount)
	}

	resp = env.do(t, http.MethodGet, "/api/heartbeat?agent=ghost", authed(), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown agent, got %d", resp.StatusCode)
	}
}

func TestSeedAgentAndItems(t *testing.T) {
	env := newTestEnv(t, testSecret)

	resp := env.do(t, http.MethodPost, "/api/agents", nil, map[string]string{"name": "Mo"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("seeding requires the secret, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/agents", authed(), map[string]string{"id": "mo", "name": "Mo", "personality": "shy"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	events, _ := env.store.ListWorldEvents(context.Background(), time.Time{}, 10)
	if len(events) != 1 || events[0].Type != world.EventAgentJoined {
		t.Errorf("expected one agent_joined event, got %+v", events)
	}

	resp = env.do(t, http.MethodPost, "/api/agents/mo/items", authed(), map[string]string{"name": "lantern", "rarity": "Epic"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/agents/mo/items", authed(), map[string]string{"name": "rock", "rarity": "mythic"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown rarity, got %d", resp.StatusCode)
	}

	resp = getJSON(t, env.ts, "/api/agents/mo")
	var detail agentDetail
	decodeJSON(t, resp, &detail)
	if len(detail.Inventory) != 1 || detail.Inventory[0].Item.Rarity != world.RarityEpic {
		t.Errorf("unexpected inventory %+v", detail.Inventory)
	}
	if detail.Status.State != world.StateIdle {
		t.Errorf("expected idle, got %s", detail.Status.State)
	}
}

func TestReadEndpoints(t *testing.T) {
	env := newTestEnv(t, testSecret)
	ctx := context.Background()
	if err := env.store.AddActionRecord(ctx, &world.ActionRecord{AgentID: "zari", Action: "post", Result: "posted"}); err != nil {
		t.Fatal(err)
	}

	var agents []world.Agent
	decodeJSON(t, getJSON(t, env.ts, "/api/agents"), &agents)
	if len(agents) != 2 {
		t.Errorf("expected 2 agents, got %d", len(agents))
	}

	var logs []world.ActionRecord
	decodeJSON(t, getJSON(t, env.ts, "/api/agents/zari/logs"), &logs)
	if len(logs) != 1 || logs[0].Action != "post" {
		t.Errorf("unexpected logs %+v", logs)
	}

	resp := getJSON(t, env.ts, "/api/agents/ghost/state")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	var gate map[string]interface{}
	decodeJSON(t, getJSON(t, env.ts, "/api/schedule"), &gate)
	if gate["run"] != true || gate["reason"] != "first run" {
		t.Errorf("unexpected gate %v", gate)
	}
	if bands := gate["bands"].([]interface{}); len(bands) != len(world.DefaultScheduleTable()) {
		t.Errorf("expected %d bands, got %d", len(world.DefaultScheduleTable()), len(bands))
	}

	var history []interface{}
	decodeJSON(t, getJSON(t, env.ts, "/api/broadcasts"), &history)
	if len(history) != 0 {
		t.Errorf("expected empty history, got %v", history)
	}
}

type staticHealth map[string]string

func (s staticHealth) Health(context.Context) map[string]string { return s }

// personaAdapter records the personas it is handed.
type personaAdapter struct {
	personas map[string]*gateway.AgentPersona
}

func (p *personaAdapter) Platform() string                                           { return "slack" }
func (p *personaAdapter) Connect(context.Context) error                              { return nil }
func (p *personaAdapter) Close() error                                               { return nil }
func (p *personaAdapter) Broadcast(context.Context, *gateway.BroadcastMessage) error { return nil }
func (p *personaAdapter) SetPersona(id string, persona *gateway.AgentPersona) {
	p.personas[id] = persona
}
func (p *personaAdapter) Status() gateway.AdapterStatus {
	return gateway.AdapterStatus{Platform: "slack", Connected: true}
}

func TestHealthReportsProvidersAndGateways(t *testing.T) {
	env := newTestEnv(t, testSecret)
	env.h.SetProviders(staticHealth{"openai": "ok", "anthropic": "401 unauthorized"})
	gw := gateway.NewGateway(zap.NewNop())
	gw.Register(&personaAdapter{personas: map[string]*gateway.AgentPersona{}})
	env.h.SetBroadcaster(gateway.NewBroadcaster(gw, zap.NewNop()))

	resp := getJSON(t, env.ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body healthResponse
	decodeJSON(t, resp, &body)
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if body.Providers["anthropic"] != "401 unauthorized" {
		t.Errorf("providers = %v", body.Providers)
	}
	if len(body.Gateways) != 1 || !body.Gateways[0].Connected {
		t.Errorf("gateways = %+v", body.Gateways)
	}
}

func TestCreateAgentIntroducesPersona(t *testing.T) {
	env := newTestEnv(t, testSecret)
	pa := &personaAdapter{personas: map[string]*gateway.AgentPersona{}}
	gw := gateway.NewGateway(zap.NewNop())
	gw.Register(pa)
	env.h.SetBroadcaster(gateway.NewBroadcaster(gw, zap.NewNop()))

	resp := env.do(t, http.MethodPost, "/api/agents", authed(),
		map[string]string{"id": "mo", "name": "Mo", "avatar": "https://cdn.example/mo.png"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	p, ok := pa.personas["mo"]
	if !ok {
		t.Fatal("persona not registered")
	}
	if p.Name != "Mo" || p.IconURL != "https://cdn.example/mo.png" {
		t.Errorf("persona = %+v", p)
	}
}
