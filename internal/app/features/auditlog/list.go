// internal/app/features/auditlog/list.go
package auditlog

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/store/audit"
	"github.com/dalemusser/mentorlink/internal/app/system/paging"
	"github.com/dalemusser/mentorlink/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/pantry/query"
	"go.uber.org/zap"
)

type listItem struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Category      string            `json:"category"`
	EventType     string            `json:"eventType"`
	RoomID        string            `json:"roomId,omitempty"`
	Identity      string            `json:"identity,omitempty"`
	Actor         string            `json:"actor,omitempty"`
	IP            string            `json:"ip,omitempty"`
	Success       bool              `json:"success"`
	FailureReason string            `json:"failureReason,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

type listResponse struct {
	Items []listItem `json:"items"`
	paging.Info
}

// ServeList handles GET /api/audit.
//
// Filters: room, identity, category, event_type, start_date and end_date
// (YYYY-MM-DD, end date inclusive), plus page and size.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "audit log list")
	defer cancel()

	page := paging.ParsePage(r)
	size := paging.ParseSize(r)
	filter := audit.QueryFilter{
		RoomID:    strings.TrimSpace(query.Get(r, "room")),
		Identity:  strings.TrimSpace(query.Get(r, "identity")),
		Category:  strings.TrimSpace(query.Get(r, "category")),
		EventType: strings.TrimSpace(query.Get(r, "event_type")),
		Limit:     int64(size),
		Offset:    paging.Offset(page, size),
	}
	if s := strings.TrimSpace(query.Get(r, "start_date")); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start_date must be YYYY-MM-DD"})
			return
		}
		filter.StartTime = &t
	}
	if s := strings.TrimSpace(query.Get(r, "end_date")); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end_date must be YYYY-MM-DD"})
			return
		}
		// End of day
		endOfDay := t.Add(24*time.Hour - time.Nanosecond)
		filter.EndTime = &endOfDay
	}

	events, err := h.Store.Query(ctx, filter)
	if err != nil {
		h.Log.Error("failed to query audit events", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "database unavailable"})
		return
	}
	total, err := h.Store.CountByFilter(ctx, filter)
	if err != nil {
		h.Log.Error("failed to count audit events", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "database unavailable"})
		return
	}

	resp := listResponse{
		Items: make([]listItem, 0, len(events)),
		Info:  paging.Compute(total, page, size),
	}
	for _, e := range events {
		resp.Items = append(resp.Items, listItem{
			ID:            e.ID.Hex(),
			Timestamp:     e.Timestamp,
			Category:      e.Category,
			EventType:     e.EventType,
			RoomID:        e.RoomID,
			Identity:      e.Identity,
			Actor:         e.Actor,
			IP:            e.IP,
			Success:       e.Success,
			FailureReason: e.FailureReason,
			Details:       e.Details,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
