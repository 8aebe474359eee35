package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/agentbook/libs/httpx"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/timewindow"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/tz"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	return true
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// agentID reads the gateway header first, then the agent_id query parameter.
func agentID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(httpx.AgentIDHeader))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("agent_id"))
	}
	return id
}

// writeError maps domain errors onto status codes. Anything unrecognised is logged and answered 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, timewindow.ErrOverlapConflict), errors.Is(err, model.ErrInvalidPolicy):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidRequest),
		errors.Is(err, settings.ErrInvalidPayload),
		errors.Is(err, tz.ErrInvalidTimezone),
		errors.Is(err, tz.ErrInvalidInput),
		errors.Is(err, timewindow.ErrInvalidWindow):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrNotConfigured):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrSlotUnavailable), errors.Is(err, ledger.ErrInvalidTransition):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
