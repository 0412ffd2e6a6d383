package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents(r.Context())
	if err != nil {
		h.internalError(w, "list agents", err)
		return
	}
	if agents == nil {
		agents = []world.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

type agentDetail struct {
	world.Agent
	Inventory []world.InventoryEntry `json:"inventory"`
	Status    world.AgentStatus      `json:"status"`
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	inv, err := h.store.ListInventory(r.Context(), a.ID)
	if err != nil {
		h.internalError(w, "list inventory", err)
		return
	}
	if inv == nil {
		inv = []world.InventoryEntry{}
	}
	writeJSON(w, http.StatusOK, agentDetail{Agent: *a, Inventory: inv, Status: h.status.Get(a.ID)})
}

func (h *Handler) getAgentState(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.status.Get(a.ID))
}

func (h *Handler) getAgentLogs(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	logs, err := h.store.ListActionRecords(r.Context(), a.ID, queryInt(r, "limit", 50))
	if err != nil {
		h.internalError(w, "list logs", err)
		return
	}
	if logs == nil {
		logs = []world.ActionRecord{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) loadAgent(w http.ResponseWriter, r *http.Request) (*world.Agent, bool) {
	a, err := h.store.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, world.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return nil, false
	}
	if err != nil {
		h.internalError(w, "get agent", err)
		return nil, false
	}
	return a, true
}

func (h *Handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var a world.Agent
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	_, err := h.store.GetAgent(r.Context(), a.ID)
	isNew := errors.Is(err, world.ErrNotFound)
	if err != nil && !isNew {
		h.internalError(w, "get agent", err)
		return
	}
	if err := h.store.UpsertAgent(r.Context(), &a); err != nil {
		h.internalError(w, "save agent", err)
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.Introduce(a)
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
		h.emit(r, &world.WorldEvent{
			Type:    world.EventAgentJoined,
			AgentID: a.ID,
			Content: fmt.Sprintf("%s arrived in the world", a.Name),
		})
	}
	writeJSON(w, status, a)
}

type grantRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Rarity      string `json:"rarity"`
	Effect      string `json:"effect"`
}

func (h *Handler) grantItem(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAgent(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	rarity := world.RarityCommon
	if req.Rarity != "" {
		var err error
		if rarity, err = world.ParseRarity(req.Rarity); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	e := &world.InventoryEntry{
		ID:      uuid.New().String(),
		AgentID: a.ID,
		Item: world.Item{
			ID:          req.ID,
			Name:        req.Name,
			Description: req.Description,
			Rarity:      rarity,
			Effect:      req.Effect,
		},
		AcquiredAt: time.Now(),
	}
	if err := h.store.AddInventory(r.Context(), e); err != nil {
		h.internalError(w, "grant item", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) emit(r *http.Request, e *world.WorldEvent) {
	if h.events == nil {
		return
	}
	if err := h.events.EmitEvent(r.Context(), e); err != nil {
		h.logger.Warn("emit event", zap.String("type", string(e.Type)), zap.Error(err))
	}
}
