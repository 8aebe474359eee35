package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/settings"
)

// BookingsHandler serves the owner's booking list and lifecycle actions.
type BookingsHandler struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

func NewBookingsHandler(l *ledger.Ledger, logger *slog.Logger) *BookingsHandler {
	return &BookingsHandler{ledger: l, logger: logger}
}

type bookingItem struct {
	model.Booking
	DisplayDate  string `json:"display_date"`
	DisplayStart string `json:"display_start_time"`
	DisplayEnd   string `json:"display_end_time"`
	DisplayZone  string `json:"display_timezone"`
}

// List filters with status (comma separated), from, to, location, upcoming and zone.
func (h *BookingsHandler) List(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	agent := agentID(r)
	if agent == "" {
		http.Error(w, "agent id required", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	f := ledger.Filter{
		Location: model.LocationKind(strings.TrimSpace(q.Get("location"))),
		Zone:     strings.TrimSpace(q.Get("zone")),
	}
	for _, raw := range strings.Split(q.Get("status"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		status := model.BookingStatus(raw)
		if !status.Valid() {
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		f.Statuses = append(f.Statuses, status)
	}
	for key, dst := range map[string]*string{"from": &f.From, "to": &f.To} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		iso, err := settings.ParseWireDate(raw)
		if err != nil {
			http.Error(w, "invalid "+key, http.StatusBadRequest)
			return
		}
		*dst = iso
	}
	if raw := q.Get("upcoming"); raw != "" {
		upcoming, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "invalid upcoming", http.StatusBadRequest)
			return
		}
		f.Upcoming = upcoming
	}

	views, err := h.ledger.Query(r.Context(), agent, f)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]bookingItem, 0, len(views))
	for _, v := range views {
		items = append(items, bookingItem{
			Booking:      v.Booking,
			DisplayDate:  v.Date,
			DisplayStart: v.Start,
			DisplayEnd:   v.End,
			DisplayZone:  v.Zone,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type bookingActionRequest struct {
	BookingID string `json:"booking_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *BookingsHandler) action(w http.ResponseWriter, r *http.Request) (string, bookingActionRequest, bool) {
	if !requireMethod(w, r, http.MethodPost) {
		return "", bookingActionRequest{}, false
	}
	var req bookingActionRequest
	if !decodeJSON(w, r, &req) {
		return "", req, false
	}
	agent := agentID(r)
	req.BookingID = strings.TrimSpace(req.BookingID)
	if agent == "" || req.BookingID == "" {
		http.Error(w, "agent id and booking_id required", http.StatusBadRequest)
		return "", req, false
	}
	return agent, req, true
}

func (h *BookingsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	agent, req, ok := h.action(w, r)
	if !ok {
		return
	}
	b, err := h.ledger.Cancel(r.Context(), agent, req.BookingID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BookingsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	agent, req, ok := h.action(w, r)
	if !ok {
		return
	}
	b, err := h.ledger.Complete(r.Context(), agent, req.BookingID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Reschedule moves a booking to another business-zone slot and returns the replacement.
func (h *BookingsHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	agent, req, ok := h.action(w, r)
	if !ok {
		return
	}
	date, err := settings.ParseWireDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	start, end := strings.TrimSpace(req.StartTime), strings.TrimSpace(req.EndTime)
	if start == "" || end == "" {
		http.Error(w, "start_time and end_time required", http.StatusBadRequest)
		return
	}
	b, err := h.ledger.Reschedule(r.Context(), agent, req.BookingID, date, start, end)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
