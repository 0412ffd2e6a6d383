package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ModelServer is implemented by providers that declare the models they
// serve.
type ModelServer interface {
	Models() []string
}

// Router picks the provider that answers an agent's decision requests.
//
// Resolution order: the agent's binding, then a provider that lists the
// requested model, then the default. On failure the shared fallback chain
// is tried, followed by any agent-specific one.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	bindings  map[string]string
	fallbacks map[string][]string
	shared    []string
	defaultID string
	logger    *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider. The first one registered becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.ID()]; !ok {
		r.order = append(r.order, p.ID())
	}
	r.providers[p.ID()] = p
	if r.defaultID == "" {
		r.defaultID = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultID = providerID
}

func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

// Bind pins an agent to a provider.
func (r *Router) Bind(agentID, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[agentID] = providerID
}

// SetFallbacks sets an agent-specific fallback chain.
func (r *Router) SetFallbacks(agentID string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[agentID] = providerIDs
}

// SetSharedFallbacks sets the chain tried for every agent.
func (r *Router) SetSharedFallbacks(providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shared = providerIDs
}

// Route sends req through the agent's provider chain and returns the first
// successful response.
func (r *Router) Route(ctx context.Context, agentID string, req *ChatRequest) (*ChatResponse, error) {
	chain := r.chain(agentID, req.Model)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no provider available for agent %s", agentID)
	}

	var errs []error
	for i, p := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.ID(), err))
		if i < len(chain)-1 {
			r.logger.Warn("provider failed, trying next",
				zap.String("agent", agentID), zap.String("provider", p.ID()), zap.Error(err))
		}
	}
	return nil, fmt.Errorf("all providers failed for agent %s: %w", agentID, errors.Join(errs...))
}

// chain resolves the ordered, de-duplicated providers for one request.
func (r *Router) chain(agentID, model string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	if pid, ok := r.bindings[agentID]; ok {
		ids = append(ids, pid)
	}
	if model != "" {
		for _, id := range r.order {
			if ms, ok := r.providers[id].(ModelServer); ok && slices.Contains(ms.Models(), model) {
				ids = append(ids, id)
				break
			}
		}
	}
	ids = append(ids, r.defaultID)
	ids = append(ids, r.shared...)
	ids = append(ids, r.fallbacks[agentID]...)

	var out []Provider
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		p, ok := r.providers[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, p)
	}
	return out
}

func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns providers in registration order.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.providers[id])
	}
	return out
}

// healthTimeout bounds each provider's health check.
const healthTimeout = 5 * time.Second

// Health checks every provider and returns "ok" or the error text per
// provider ID.
func (r *Router) Health(ctx context.Context) map[string]string {
	out := make(map[string]string)
	for _, p := range r.ListProviders() {
		cctx, cancel := context.WithTimeout(ctx, healthTimeout)
		err := p.HealthCheck(cctx)
		cancel()
		if err != nil {
			out[p.ID()] = err.Error()
			continue
		}
		out[p.ID()] = "ok"
	}
	return out
}
