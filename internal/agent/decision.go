package agent

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-heartbeat/internal/provider"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
)

// DecisionKind tags what the decision service answered with.
type DecisionKind int

const (
	// DecisionText is plain text with no action requested.
	DecisionText DecisionKind = iota
	// DecisionActions requests one or more actions, possibly with text.
	DecisionActions
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionText:
		return "text"
	case DecisionActions:
		return "actions"
	}
	return fmt.Sprintf("DecisionKind(%d)", int(k))
}

// Invocation is one requested action.
type Invocation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Decision is one round's answer from the decision service.
type Decision struct {
	Kind    DecisionKind
	Text    string
	Actions []Invocation
	Usage   provider.Usage
}

// Decider is the decision-making service.
type Decider interface {
	Decide(ctx context.Context, a world.Agent, history []provider.Message, catalog []provider.Tool) (Decision, error)
}

// RouterDecider asks the provider router, honouring per-agent bindings and
// fallbacks.
type RouterDecider struct {
	router    *provider.Router
	model     string
	maxTokens int
}

// NewRouterDecider creates a decider. model is used for agents without
// their own model.
func NewRouterDecider(router *provider.Router, model string, maxTokens int) *RouterDecider {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &RouterDecider{router: router, model: model, maxTokens: maxTokens}
}

// Decide sends the history and catalog and classifies the response.
func (d *RouterDecider) Decide(ctx context.Context, a world.Agent, history []provider.Message, catalog []provider.Tool) (Decision, error) {
	model := a.Model
	if model == "" {
		model = d.model
	}
	req := &provider.ChatRequest{
		Model:     model,
		Messages:  history,
		MaxTokens: d.maxTokens,
	}
	if len(catalog) > 0 {
		req.Tools = catalog
		req.ToolChoice = "auto"
	}
	resp, err := d.router.Route(ctx, a.ID, req)
	if err != nil {
		return Decision{}, err
	}
	return classify(resp), nil
}

func classify(resp *provider.ChatResponse) Decision {
	d := Decision{Kind: DecisionText, Text: resp.Content, Usage: resp.Usage}
	if len(resp.ToolCalls) == 0 {
		return d
	}
	d.Kind = DecisionActions
	for _, tc := range resp.ToolCalls {
		d.Actions = append(d.Actions, Invocation{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return d
}
