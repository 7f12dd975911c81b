package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"agentcore/internal/convtypes"
	"agentcore/internal/execsvc"
	"agentcore/internal/observability"
	"agentcore/internal/triggers"
	"agentcore/internal/webhook"
)

// serverDeps bundles the handler layer's dependencies, grounded on the
// donor's routes.go pattern of closing over constructed services rather
// than a DI container.
type serverDeps struct {
	triggerService *triggers.Service
	triggerStore   *triggers.PGStore
	execService    *execsvc.Service
	sharedSecret   string
	composioSecret string
	accountResolver func(agentID string) string
}

func registerRoutes(mux *http.ServeMux, d *serverDeps) {
	mux.HandleFunc("POST /triggers/{trigger_id}/webhook", d.handleScheduleWebhook)
	mux.HandleFunc("POST /api/composio/webhook", d.handleComposioWebhook)
	mux.HandleFunc("POST /triggers", d.handleCreateTrigger)
	mux.HandleFunc("GET /triggers/{trigger_id}", d.handleGetTrigger)
	mux.HandleFunc("PUT /triggers/{trigger_id}", d.handleUpdateTrigger)
	mux.HandleFunc("DELETE /triggers/{trigger_id}", d.handleDeleteTrigger)
	mux.HandleFunc("GET /agents/{agent_id}/triggers", d.handleListTriggers)
	mux.HandleFunc("GET /healthz", d.handleHealthz)
}

func (d *serverDeps) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleScheduleWebhook receives the delivery the Schedule adapter's
// cron-fired job POSTs back to the core (triggers.ScheduleAdapter.Deliver),
// authenticated by the shared secret header rather than full webhook-
// standard signing since both ends are this process's own configuration.
func (d *serverDeps) handleScheduleWebhook(w http.ResponseWriter, r *http.Request) {
	triggerID := r.PathValue("trigger_id")
	if r.Header.Get("x-trigger-secret") != d.sharedSecret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	t, err := d.triggerStore.Get(r.Context(), triggerID)
	if err != nil {
		http.Error(w, "trigger not found", http.StatusNotFound)
		return
	}

	accountID := ""
	if d.accountResolver != nil {
		accountID = d.accountResolver(t.AgentID)
	}

	result, err := d.execService.Execute(r.Context(), []execsvc.MatchedTrigger{{
		TriggerID: triggerID,
		AgentID:   t.AgentID,
		AccountID: accountID,
		RawData:   body,
	}})
	if err != nil {
		observability.LoggerWithTrace(r.Context()).Error().Err(err).Str("trigger_id", triggerID).Msg("server: scheduled execution failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleComposioWebhook implements the /api/composio/webhook ingress (spec
// §4.9 steps 1-5): webhook-standard signature verification, then match and
// execute.
func (d *serverDeps) handleComposioWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	headers := webhook.Headers{
		ID:        r.Header.Get("webhook-id"),
		Timestamp: r.Header.Get("webhook-timestamp"),
		Signature: r.Header.Get("webhook-signature"),
	}

	secret := d.composioSecret
	if secret == "" {
		secret = d.sharedSecret
	}

	result, err := d.execService.HandleComposioWebhook(r.Context(), headers, body, secret, d.triggerStore, d.accountResolver)
	if err != nil {
		if strings.Contains(err.Error(), "webhook verification failed") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		observability.LoggerWithTrace(r.Context()).Error().Err(err).Msg("server: composio webhook handling failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type triggerPayload struct {
	AgentID     string         `json:"agent_id"`
	TriggerType string         `json:"trigger_type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	IsActive    bool           `json:"is_active"`
	Config      map[string]any `json:"config"`
}

func (d *serverDeps) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	var p triggerPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	t := &convtypes.Trigger{
		AgentID:     p.AgentID,
		TriggerType: convtypes.TriggerType(p.TriggerType),
		Name:        p.Name,
		Description: p.Description,
		IsActive:    p.IsActive,
		Config:      p.Config,
	}
	if err := d.triggerService.Create(r.Context(), t); err != nil {
		observability.LoggerWithTrace(r.Context()).Error().Err(err).Msg("server: create trigger failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (d *serverDeps) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := d.triggerService.Get(r.Context(), r.PathValue("trigger_id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (d *serverDeps) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	list, err := d.triggerService.ListByAgent(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (d *serverDeps) handleUpdateTrigger(w http.ResponseWriter, r *http.Request) {
	triggerID := r.PathValue("trigger_id")
	var p triggerPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	t := &convtypes.Trigger{
		TriggerID:   triggerID,
		AgentID:     p.AgentID,
		TriggerType: convtypes.TriggerType(p.TriggerType),
		Name:        p.Name,
		Description: p.Description,
		IsActive:    p.IsActive,
		Config:      p.Config,
	}
	if err := d.triggerService.Update(r.Context(), t); err != nil {
		observability.LoggerWithTrace(r.Context()).Error().Err(err).Str("trigger_id", triggerID).Msg("server: update trigger failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (d *serverDeps) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	if err := d.triggerService.Delete(r.Context(), r.PathValue("trigger_id")); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
