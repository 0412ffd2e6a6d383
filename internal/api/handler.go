package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-heartbeat/internal/gateway"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

// Cycles is the heartbeat engine as seen by the API.
type Cycles interface {
	RunCycle(ctx context.Context, force bool) (*world.CycleReport, error)
	RunAgent(ctx context.Context, agentID string) (*world.AgentSummary, error)
	Gate(ctx context.Context) (world.Gate, error)
}

// Store is the persistence the API reads and seeds.
type Store interface {
	Ping(ctx context.Context) error
	ListAgents(ctx context.Context) ([]world.Agent, error)
	GetAgent(ctx context.Context, id string) (*world.Agent, error)
	UpsertAgent(ctx context.Context, a *world.Agent) error
	AddInventory(ctx context.Context, e *world.InventoryEntry) error
	ListInventory(ctx context.Context, agentID string) ([]world.InventoryEntry, error)
	ListActionRecords(ctx context.Context, agentID string, limit int) ([]world.ActionRecord, error)
}

// ProviderHealth reports the decision providers' reachability.
type ProviderHealth interface {
	Health(ctx context.Context) map[string]string
}

// EventSink records world events.
type EventSink interface {
	EmitEvent(ctx context.Context, e *world.WorldEvent) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	cycles      Cycles
	store       Store
	events      EventSink
	status      *world.StatusBoard
	schedule    world.ScheduleTable
	broadcaster *gateway.Broadcaster
	providers   ProviderHealth
	secret      string
	logger      *zap.Logger
}

// NewHandler creates a new API handler. An empty secret makes every
// protected endpoint answer 500.
func NewHandler(cycles Cycles, store Store, events EventSink, status *world.StatusBoard, schedule world.ScheduleTable, secret string, logger *zap.Logger) *Handler {
	return &Handler{
		cycles:   cycles,
		store:    store,
		events:   events,
		status:   status,
		schedule: schedule,
		secret:   secret,
		logger:   logger,
	}
}

// SetBroadcaster exposes announcement history at /api/broadcasts and
// introduces seeded agents to the chat platforms.
func (h *Handler) SetBroadcaster(b *gateway.Broadcaster) { h.broadcaster = b }

// SetProviders adds provider reachability to /api/health.
func (h *Handler) SetProviders(p ProviderHealth) { h.providers = p }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", secretHeader},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}", h.getAgent)
		r.Get("/agents/{id}/state", h.getAgentState)
		r.Get("/agents/{id}/logs", h.getAgentLogs)
		r.Get("/schedule", h.getSchedule)
		r.Get("/broadcasts", h.listBroadcasts)

		r.Group(func(r chi.Router) {
			r.Use(h.requireSecret)
			r.Get("/heartbeat", h.triggerHeartbeat)
			r.Post("/heartbeat", h.triggerHeartbeat)
			r.Post("/agents", h.createAgent)
			r.Post("/agents/{id}/items", h.grantItem)
		})
	})

	return r
}

type healthResponse struct {
	Status    string                  `json:"status"`
	Error     string                  `json:"error,omitempty"`
	Providers map[string]string       `json:"providers,omitempty"`
	Gateways  []gateway.AdapterStatus `json:"gateways,omitempty"`
}

// healthCheck answers 503 only when the store is down. An unreachable
// provider marks the response degraded.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Error: err.Error()})
		return
	}
	resp := healthResponse{Status: "ok"}
	if h.providers != nil {
		resp.Providers = h.providers.Health(r.Context())
		for _, v := range resp.Providers {
			if v != "ok" {
				resp.Status = "degraded"
			}
		}
	}
	if h.broadcaster != nil {
		resp.Gateways = h.broadcaster.Statuses()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	gate, err := h.cycles.Gate(r.Context())
	if err != nil {
		h.internalError(w, "gate", err)
		return
	}
	bands := make([]map[string]interface{}, 0, len(h.schedule))
	for _, b := range h.schedule.Sorted() {
		bands = append(bands, map[string]interface{}{
			"from_hour":        b.FromHour,
			"to_hour":          b.ToHour,
			"interval_seconds": int64(b.Interval.Seconds()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":                      gate.Run,
		"reason":                   gate.Reason,
		"interval_seconds":         int64(gate.Interval.Seconds()),
		"next_eligible_in_seconds": int64(gate.NextEligibleIn.Seconds()),
		"bands":                    bands,
	})
}

func (h *Handler) listBroadcasts(w http.ResponseWriter, r *http.Request) {
	if h.broadcaster == nil {
		writeJSON(w, http.StatusOK, []gateway.BroadcastRecord{})
		return
	}
	writeJSON(w, http.StatusOK, h.broadcaster.History(queryInt(r, "limit", 20)))
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
