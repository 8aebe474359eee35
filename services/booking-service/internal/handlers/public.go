package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agentbook/libs/httpx"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/agentbook/services/booking-service/internal/tz"
)

// PublicHandler serves the chat widget: slot listing, booking and zone detection.
type PublicHandler struct {
	ledger   *ledger.Ledger
	detector *tz.Detector
	logger   *slog.Logger
}

func NewPublicHandler(l *ledger.Ledger, detector *tz.Detector, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{ledger: l, detector: detector, logger: logger}
}

type slotItem struct {
	Date              string `json:"date"`
	StartTime         string `json:"start_time"`
	EndTime           string `json:"end_time"`
	Timezone          string `json:"timezone"`
	BusinessDate      string `json:"business_date"`
	BusinessStart     string `json:"business_start_time"`
	BusinessEnd       string `json:"business_end_time"`
	RemainingCapacity int    `json:"remaining_capacity"`
	Full              bool   `json:"full,omitempty"`
}

type slotsResponse struct {
	AgentID          string     `json:"agent_id"`
	Date             string     `json:"date"`
	BusinessTimezone string     `json:"business_timezone"`
	Slots            []slotItem `json:"slots"`
}

// Slots lists bookable slots for one business date. Times are shown in the zone query parameter
// when given, and the booking request uses the business values.
func (h *PublicHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	agent := agentID(r)
	if agent == "" {
		http.Error(w, "agent_id required", http.StatusBadRequest)
		return
	}
	date, err := settings.ParseWireDate(q.Get("date"))
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	viewer := strings.TrimSpace(q.Get("zone"))
	if viewer != "" && !tz.IsValidZone(viewer) {
		http.Error(w, "invalid zone", http.StatusBadRequest)
		return
	}
	includeFull, _ := strconv.ParseBool(q.Get("include_full"))

	found, s, err := h.ledger.Slots(r.Context(), agent, date, includeFull)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	business := s.Policy.Timezone
	if viewer == "" {
		viewer = business
	}

	items := make([]slotItem, 0, len(found))
	for _, slot := range found {
		item := slotItem{
			Date:              date,
			StartTime:         slot.Start,
			EndTime:           slot.End,
			Timezone:          viewer,
			BusinessDate:      date,
			BusinessStart:     slot.Start,
			BusinessEnd:       slot.End,
			RemainingCapacity: slot.RemainingCapacity,
			Full:              slot.Full,
		}
		if viewer != business {
			vDate, vStart, err := tz.ConvertDateTime(date, slot.Start, business, viewer)
			if err == nil {
				_, vEnd, endErr := tz.ConvertDateTime(date, slot.End, business, viewer)
				err = endErr
				item.Date, item.StartTime, item.EndTime = vDate, vStart, vEnd
			}
			if err != nil {
				h.logger.Warn("slot zone conversion failed", "err", err, "agent_id", agent)
				item.Date, item.StartTime, item.EndTime, item.Timezone = date, slot.Start, slot.End, business
			}
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, slotsResponse{AgentID: agent, Date: date, BusinessTimezone: business, Slots: items})
}

type bookRequest struct {
	AgentID        string `json:"agent_id"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	ViewerTimezone string `json:"viewer_timezone"`
	Location       string `json:"location"`
	ViewerID       string `json:"viewer_id"`
}

// Book reserves one seat of a slot given in business-zone wall-clock values. A retried request
// carrying the same Idempotency-Key header gets the original booking back.
func (h *PublicHandler) Book(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req bookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		req.AgentID = agentID(r)
	}
	date, err := settings.ParseWireDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	b, err := h.ledger.Reserve(r.Context(), ledger.ReserveRequest{
		AgentID:    req.AgentID,
		Date:       date,
		Start:      strings.TrimSpace(req.StartTime),
		End:        strings.TrimSpace(req.EndTime),
		ViewerZone: strings.TrimSpace(req.ViewerTimezone),
		Location:   model.LocationKind(strings.TrimSpace(req.Location)),
		ViewerID:   strings.TrimSpace(req.ViewerID),

		IdempotencyKey: strings.TrimSpace(r.Header.Get(httpx.IdempotencyKeyHeader)),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

type timezoneResponse struct {
	Zone       string        `json:"zone"`
	Source     tz.Source     `json:"source"`
	Confidence tz.Confidence `json:"confidence"`
	Now        string        `json:"now"`
}

// Timezone reports the viewer's zone. A zone query parameter is a manual selection and always wins
// over IP detection.
func (h *PublicHandler) Timezone(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	session := tz.NewSession(h.detector.Quick())
	if manual := strings.TrimSpace(r.URL.Query().Get("zone")); manual != "" {
		if err := session.SelectManual(manual); err != nil {
			writeError(w, h.logger, err)
			return
		}
	} else {
		session.ApplyDetection(h.detector.Detect(r.Context(), httpx.ClientIP(r)))
	}

	cur := session.Current()
	resp := timezoneResponse{Zone: cur.Zone, Source: cur.Source, Confidence: cur.Confidence}
	if loc, err := tz.Load(cur.Zone); err == nil {
		resp.Now = time.Now().In(loc).Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
