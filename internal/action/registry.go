package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-heartbeat/internal/provider"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

// Action names.
const (
	Browse   = "browse"
	View     = "view"
	Post     = "post"
	Reply    = "reply"
	Give     = "give"
	Remember = "remember"
	End      = "end"
)

// ErrUnknownAction is reported when the decision service names an action
// that is not in the catalog.
var ErrUnknownAction = errors.New("unknown action")

// Handler executes one action for an agent. Handlers never return errors;
// failures are described in the Result so the agent can correct itself.
type Handler func(ctx context.Context, self world.Agent, args json.RawMessage) Result

// Registry holds action definitions and their handlers.
type Registry struct {
	defs     []provider.Tool
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds an action definition and its handler.
func (r *Registry) Register(def provider.Tool, h Handler) {
	r.defs = append(r.defs, def)
	r.handlers[def.Function.Name] = h
}

// Definitions returns the action schemas for the decision request.
func (r *Registry) Definitions() []provider.Tool {
	return r.defs
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	return h, nil
}

// Execute runs an action with raw JSON arguments. Unknown actions and
// malformed arguments come back as failed results.
func (r *Registry) Execute(ctx context.Context, self world.Agent, name, args string) Result {
	h, err := r.Lookup(name)
	if err != nil {
		return fail("%v. Available actions: %s", err, strings.Join(r.names(), ", "))
	}
	raw := strings.TrimSpace(args)
	if raw == "" || raw == "null" {
		raw = "{}"
	}
	if !json.Valid([]byte(raw)) {
		return fail("invalid arguments for %s: not valid JSON", name)
	}
	return h(ctx, self, json.RawMessage(raw))
}

func (r *Registry) names() []string {
	out := make([]string, len(r.defs))
	for i, d := range r.defs {
		out[i] = d.Function.Name
	}
	return out
}

// Substantive reports whether an action changes the world, as opposed to
// only looking at it or ending the session.
func Substantive(name string) bool {
	switch name {
	case Post, Reply, Give, Remember:
		return true
	}
	return false
}

func decode(name string, args json.RawMessage, v interface{}) *Result {
	if err := json.Unmarshal(args, v); err != nil {
		r := fail("invalid arguments for %s: %v", name, err)
		return &r
	}
	return nil
}

func tool(name, desc string, props map[string]interface{}, required ...string) provider.Tool {
	params := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return provider.Tool{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        name,
			Description: desc,
			Parameters:  params,
		},
	}
}
