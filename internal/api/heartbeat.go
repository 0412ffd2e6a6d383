package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nidhogg/nuka-heartbeat/internal/world"
	"go.uber.org/zap"
)

const secretHeader = "X-Heartbeat-Secret"

// requireSecret accepts the shared secret from the X-Heartbeat-Secret
// header, a bearer token or the secret query parameter.
func (h *Handler) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.secret == "" {
			h.logger.Error("heartbeat secret is not configured")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "heartbeat secret is not configured"})
			return
		}
		got := presentedSecret(r)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func presentedSecret(r *http.Request) string {
	if v := r.Header.Get(secretHeader); v != "" {
		return v
	}
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	return r.URL.Query().Get("secret")
}

type triggerRequest struct {
	AgentID string `json:"agent_id"`
	Force   bool   `json:"force"`
}

type cycleSummary struct {
	AgentCount   int   `json:"agent_count"`
	TotalActions int   `json:"total_actions"`
	DurationMS   int64 `json:"duration_ms"`
}

type cycleResponse struct {
	Agents  []world.AgentSummary `json:"agents"`
	Summary cycleSummary         `json:"summary"`
}

type skippedResponse struct {
	Skipped               bool   `json:"skipped"`
	Reason                string `json:"reason"`
	NextEligibleInSeconds int64  `json:"next_eligible_in_seconds"`
}

func (h *Handler) triggerHeartbeat(w http.ResponseWriter, r *http.Request) {
	req := triggerRequest{
		AgentID: r.URL.Query().Get("agent"),
		Force:   r.URL.Query().Get("force") == "true",
	}
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		var body triggerRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if body.AgentID != "" {
			req.AgentID = body.AgentID
		}
		req.Force = req.Force || body.Force
	}

	// a caller hanging up must not abort the cycle half way
	ctx := context.WithoutCancel(r.Context())

	if req.AgentID != "" {
		h.triggerAgent(ctx, w, req.AgentID)
		return
	}

	report, err := h.cycles.RunCycle(ctx, req.Force)
	if err != nil {
		h.internalError(w, "run cycle", err)
		return
	}
	if report.Skipped {
		writeJSON(w, http.StatusOK, skippedResponse{
			Skipped:               true,
			Reason:                report.Reason,
			NextEligibleInSeconds: int64(report.NextEligibleIn.Round(time.Second).Seconds()),
		})
		return
	}
	agents := report.Agents
	if agents == nil {
		agents = []world.AgentSummary{}
	}
	writeJSON(w, http.StatusOK, cycleResponse{
		Agents: agents,
		Summary: cycleSummary{
			AgentCount:   report.Summary.AgentCount,
			TotalActions: report.Summary.TotalActions,
			DurationMS:   report.Summary.Duration.Milliseconds(),
		},
	})
}

func (h *Handler) triggerAgent(ctx context.Context, w http.ResponseWriter, agentID string) {
	start := time.Now()
	s, err := h.cycles.RunAgent(ctx, agentID)
	if errors.Is(err, world.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	if err != nil {
		h.internalError(w, "run agent", err)
		return
	}
	h.logger.Info("targeted heartbeat",
		zap.String("agent", agentID), zap.Int("actions", s.ActionCount), zap.Bool("success", s.Success))
	writeJSON(w, http.StatusOK, cycleResponse{
		Agents: []world.AgentSummary{*s},
		Summary: cycleSummary{
			AgentCount:   1,
			TotalActions: s.ActionCount,
			DurationMS:   time.Since(start).Milliseconds(),
		},
	})
}
