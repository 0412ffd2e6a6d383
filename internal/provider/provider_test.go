package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestOpenAIChatToolCalls(t *testing.T) {
	var got ChatRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{
			"id": "cmpl-1", "model": "gpt-test",
			"choices": [{"finish_reason": "tool_calls", "message": {"role": "assistant", "content": "",
				"tool_calls": [{"id": "c1", "type": "function", "function": {"name": "browse", "arguments": "{\"page\":1}"}}]}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}
		}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "oai", Endpoint: srv.URL, APIKey: "sk-test"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Model:    "gpt-test",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Tools:    []Tool{{Type: "function", Function: ToolFunction{Name: "browse"}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Model != "gpt-test" || len(got.Tools) != 1 {
		t.Errorf("request not forwarded: %+v", got)
	}
	if resp.FinishReason != FinishToolCalls {
		t.Errorf("finish = %q, want %q", resp.FinishReason, FinishToolCalls)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "browse" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("total tokens = %d, want 12", resp.Usage.TotalTokens)
	}
}

func TestOpenAIChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "oai", Endpoint: srv.URL}, zap.NewNop())
	if _, err := p.Chat(context.Background(), &ChatRequest{Model: "m"}); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestOpenAINormalizesToolCalls(t *testing.T) {
	var raw map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(`{
			"id": "cmpl-2", "model": "qwen",
			"choices": [{"finish_reason": "stop", "message": {"role": "assistant", "content": "",
				"tool_calls": [
					{"function": {"name": "end", "arguments": ""}},
					{"id": "c2", "type": "function", "function": {"name": "  ", "arguments": "{}"}},
					{"id": "c3", "type": "function", "function": {"name": "browse", "arguments": "{\"page\":2}"}}
				]}}]
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "compat", Endpoint: srv.URL}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{Model: "qwen", ToolChoice: "auto"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := raw["tool_choice"]; ok {
		t.Error("tool_choice sent without tools")
	}
	if resp.FinishReason != FinishToolCalls {
		t.Errorf("finish = %q, want %q", resp.FinishReason, FinishToolCalls)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("tool calls = %+v, want the nameless one dropped", resp.ToolCalls)
	}
	end := resp.ToolCalls[0]
	if end.Function.Arguments != "{}" || end.Type != "function" || end.ID != "call_0" {
		t.Errorf("end call not normalized: %+v", end)
	}
	if resp.ToolCalls[1].Function.Arguments != `{"page":2}` {
		t.Errorf("browse args = %q", resp.ToolCalls[1].Function.Arguments)
	}
}

func TestOpenAIPathModel(t *testing.T) {
	p := NewOpenAIProvider(ProviderConfig{Endpoint: "http://x", Extra: map[string]string{"path_model": "true"}}, zap.NewNop())
	if got := p.chatURL("m1"); got != "http://x/m1/chat/completions" {
		t.Errorf("chatURL = %q", got)
	}
}

func TestAnthropicConvertRequest(t *testing.T) {
	p := NewAnthropicProvider(ProviderConfig{ID: "claude"}, zap.NewNop())
	ar := p.convertRequest(&ChatRequest{
		Model: "claude-test",
		Messages: []Message{
			{Role: RoleSystem, Content: "you are Zari"},
			{Role: RoleSystem, Content: "act in character"},
			{Role: RoleUser, Content: "wake up"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{
				{ID: "t1", Function: ToolCallFunction{Name: "browse"}},
				{ID: "t2", Function: ToolCallFunction{Name: "remember", Arguments: `{"content":"x"}`}},
			}},
			{Role: RoleTool, ToolCallID: "t1", Content: `{"success":true}`},
			{Role: RoleTool, ToolCallID: "t2", Content: `{"success":true}`},
		},
		Tools: []Tool{{Type: "function", Function: ToolFunction{Name: "browse", Description: "list threads"}}},
	})

	if ar.System != "you are Zari\n\nact in character" {
		t.Errorf("system = %q", ar.System)
	}
	if ar.MaxTokens != 4096 {
		t.Errorf("max tokens = %d, want default 4096", ar.MaxTokens)
	}
	if len(ar.Messages) != 3 {
		t.Fatalf("got %d messages, want 3 (user, assistant, merged tool results)", len(ar.Messages))
	}
	asst := ar.Messages[1]
	if asst.Role != RoleAssistant || len(asst.Content) != 2 {
		t.Fatalf("assistant message = %+v", asst)
	}
	if string(asst.Content[0].Input) != "{}" {
		t.Errorf("empty arguments should become {}, got %s", asst.Content[0].Input)
	}
	results := ar.Messages[2]
	if results.Role != RoleUser || len(results.Content) != 2 || results.Content[1].ToolUseID != "t2" {
		t.Errorf("tool results not merged: %+v", results)
	}
	if len(ar.Tools) != 1 || ar.Tools[0].InputSchema == nil {
		t.Errorf("tools = %+v", ar.Tools)
	}
}

func TestAnthropicChatToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Header.Get("x-api-key") != "k" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{
			"id": "msg_1", "model": "claude-test", "stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "let me look"},
				{"type": "tool_use", "id": "tu1", "name": "give", "input": {"item_name": "key", "target": "Yuki"}}
			],
			"usage": {"input_tokens": 5, "output_tokens": 7}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(ProviderConfig{ID: "claude", Endpoint: srv.URL, APIKey: "k"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{Model: "claude-test", Messages: []Message{{Role: RoleUser, Content: "go"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinishReason != FinishToolCalls {
		t.Errorf("finish = %q", resp.FinishReason)
	}
	if resp.Content != "let me look" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls", len(resp.ToolCalls))
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(resp.ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not JSON: %v", err)
	}
	if args["target"] != "Yuki" {
		t.Errorf("args = %v", args)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("total tokens = %d", resp.Usage.TotalTokens)
	}
}

type stubProvider struct {
	id   string
	resp *ChatResponse
	err  error
	hits int
}

func (s *stubProvider) ID() string                          { return s.id }
func (s *stubProvider) Name() string                        { return s.id }
func (s *stubProvider) HealthCheck(_ context.Context) error { return s.err }
func (s *stubProvider) Chat(_ context.Context, _ *ChatRequest) (*ChatResponse, error) {
	s.hits++
	return s.resp, s.err
}

func TestRouterFallback(t *testing.T) {
	r := NewRouter(zap.NewNop())
	primary := &stubProvider{id: "a", err: errors.New("down")}
	backup := &stubProvider{id: "b", resp: &ChatResponse{Content: "ok"}}
	r.Register(primary)
	r.Register(backup)
	r.SetFallbacks("agent-1", []string{"b"})

	resp, err := r.Route(context.Background(), "agent-1", &ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" || primary.hits != 1 || backup.hits != 1 {
		t.Errorf("fallback not used: resp=%+v primary=%d backup=%d", resp, primary.hits, backup.hits)
	}

	if _, err := r.Route(context.Background(), "agent-2", &ChatRequest{}); err == nil {
		t.Error("expected error without fallbacks")
	}
}

func TestRouterBinding(t *testing.T) {
	r := NewRouter(zap.NewNop())
	a := &stubProvider{id: "a", resp: &ChatResponse{Content: "a"}}
	b := &stubProvider{id: "b", resp: &ChatResponse{Content: "b"}}
	r.Register(a)
	r.Register(b)
	r.Bind("zari", "b")

	resp, _ := r.Route(context.Background(), "zari", &ChatRequest{})
	if resp.Content != "b" {
		t.Errorf("bound provider not used, got %q", resp.Content)
	}
	resp, _ = r.Route(context.Background(), "yuki", &ChatRequest{})
	if resp.Content != "a" {
		t.Errorf("default provider not used, got %q", resp.Content)
	}
}

type modelStub struct {
	stubProvider
	models []string
}

func (m *modelStub) Models() []string { return m.models }

func TestRouterPicksProviderByModel(t *testing.T) {
	r := NewRouter(zap.NewNop())
	a := &modelStub{stubProvider: stubProvider{id: "a", resp: &ChatResponse{Content: "a"}}, models: []string{"gpt-4o-mini"}}
	b := &modelStub{stubProvider: stubProvider{id: "b", resp: &ChatResponse{Content: "b"}}, models: []string{"claude-3-5-haiku-latest"}}
	r.Register(a)
	r.Register(b)

	resp, err := r.Route(context.Background(), "zari", &ChatRequest{Model: "claude-3-5-haiku-latest"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "b" {
		t.Errorf("expected the provider serving the model, got %q", resp.Content)
	}

	resp, _ = r.Route(context.Background(), "zari", &ChatRequest{Model: "unknown"})
	if resp.Content != "a" {
		t.Errorf("expected the default for an unknown model, got %q", resp.Content)
	}
}

func TestRouterSharedFallbacks(t *testing.T) {
	r := NewRouter(zap.NewNop())
	a := &stubProvider{id: "a", err: errors.New("down")}
	b := &stubProvider{id: "b", err: errors.New("quota")}
	c := &stubProvider{id: "c", resp: &ChatResponse{Content: "c"}}
	r.Register(a)
	r.Register(b)
	r.Register(c)
	r.SetSharedFallbacks([]string{"b", "a", "c"})

	resp, err := r.Route(context.Background(), "yuki", &ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "c" {
		t.Errorf("got %q, want c", resp.Content)
	}
	if a.hits != 1 {
		t.Errorf("default tried %d times, want 1", a.hits)
	}

	r.SetSharedFallbacks(nil)
	_, err = r.Route(context.Background(), "yuki", &ChatRequest{})
	if err == nil || !strings.Contains(err.Error(), "a: down") {
		t.Errorf("expected joined provider error, got %v", err)
	}
}

func TestRouterCanceledContext(t *testing.T) {
	r := NewRouter(zap.NewNop())
	a := &stubProvider{id: "a", resp: &ChatResponse{Content: "a"}}
	r.Register(a)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Route(ctx, "zari", &ChatRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if a.hits != 0 {
		t.Error("provider called after cancel")
	}
}

func TestRouterWithoutProviders(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if _, err := r.Route(context.Background(), "zari", &ChatRequest{}); err == nil {
		t.Error("expected error")
	}
}

func TestRouterHealth(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&stubProvider{id: "openai"})
	r.Register(&stubProvider{id: "anthropic", err: errors.New("401 unauthorized")})

	got := r.Health(context.Background())
	want := map[string]string{"openai": "ok", "anthropic": "401 unauthorized"}
	if len(got) != len(want) || got["openai"] != want["openai"] || got["anthropic"] != want["anthropic"] {
		t.Errorf("health = %v, want %v", got, want)
	}
}
