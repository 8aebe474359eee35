package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/storage"
)

type SettingsStore interface {
	Get(ctx context.Context, agentID string) (model.Settings, error)
	Put(ctx context.Context, s model.Settings) error
}

// SettingsHandler serves the owner dashboard's appointment settings.
type SettingsHandler struct {
	store       SettingsStore
	logger      *slog.Logger
	defaultZone string
}

func NewSettingsHandler(store SettingsStore, logger *slog.Logger, defaultZone string) *SettingsHandler {
	return &SettingsHandler{store: store, logger: logger, defaultZone: defaultZone}
}

func (h *SettingsHandler) load(ctx context.Context, agent string) (model.Settings, error) {
	s, err := h.store.Get(ctx, agent)
	if storage.IsNotFound(err) {
		return settings.Default(agent, h.defaultZone), nil
	}
	return s, err
}

// Settings answers GET with the stored payload, or the default week for a new agent, and stores a
// full replacement on PUT.
func (h *SettingsHandler) Settings(w http.ResponseWriter, r *http.Request) {
	agent := agentID(r)
	if agent == "" {
		http.Error(w, "agent id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s, err := h.load(r.Context(), agent)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, settings.ToPayload(s))
	case http.MethodPut:
		var p settings.Payload
		if !decodeJSON(w, r, &p) {
			return
		}
		s, err := settings.Parse(agent, p)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		if err := h.store.Put(r.Context(), s); err != nil {
			writeError(w, h.logger, err)
			return
		}
		h.logger.Info("settings updated", "agent_id", agent, "timezone", s.Policy.Timezone)
		writeJSON(w, http.StatusOK, settings.ToPayload(s))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// UnavailableDates applies date overrides and reverts on top of the stored settings.
func (h *SettingsHandler) UnavailableDates(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPut) {
		return
	}
	var u settings.UnavailableDatesUpdate
	if !decodeJSON(w, r, &u) {
		return
	}
	agent := agentID(r)
	if u.AgentID == "" {
		u.AgentID = agent
	}
	if agent != "" && u.AgentID != agent {
		http.Error(w, "agentId does not match caller", http.StatusForbidden)
		return
	}

	current, err := h.load(r.Context(), u.AgentID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	next, err := settings.ApplyUnavailableDatesUpdate(current, u)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.store.Put(r.Context(), next); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("unavailable dates updated", "agent_id", u.AgentID, "set", len(u.UnavailableDates), "removed", len(u.DatesToRemove))
	writeJSON(w, http.StatusOK, settings.ToPayload(next))
}
