package rooms

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dalemusser/mentorlink/internal/app/meeting"
	"github.com/dalemusser/mentorlink/internal/app/store/meetings"
	"github.com/dalemusser/mentorlink/internal/app/system/auth"
	"github.com/dalemusser/mentorlink/internal/app/system/ratelimit"
	"github.com/dalemusser/mentorlink/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler serves the room inspection and control API.
type Handler struct {
	Dispatcher *meeting.Dispatcher
	Limiter    *ratelimit.Limiter // per client IP; nil disables
	Log        *zap.Logger
}

// NewHandler constructs a rooms Handler.
func NewHandler(disp *meeting.Dispatcher, limiter *ratelimit.Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		Dispatcher: disp,
		Limiter:    limiter,
		Log:        logger,
	}
}

type participantView struct {
	Identity    string     `json:"identity"`
	DisplayName string     `json:"displayName"`
	Role        string     `json:"role,omitempty"`
	JoinedAt    time.Time  `json:"joinedAt"`
	LeftAt      *time.Time `json:"leftAt,omitempty"`
	Active      bool       `json:"active"`
}

type roomResponse struct {
	RoomID       string             `json:"roomId"`
	Kind         string             `json:"kind"`
	Active       bool               `json:"active"`
	CreatedAt    time.Time          `json:"createdAt"`
	EndedAt      *time.Time         `json:"endedAt,omitempty"`
	Capacity     int                `json:"capacity"`
	Participants []participantView  `json:"participants"`
	Live         []meeting.PeerView `json:"live"`
	Presenter    *models.Presenter  `json:"presenter,omitempty"`
}

type endResponse struct {
	RoomID  string     `json:"roomId"`
	EndedAt *time.Time `json:"endedAt,omitempty"`
	Evicted int        `json:"evicted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ServeRoom handles GET /api/rooms/{roomId}.
//
// 200 with the persisted record plus live roster, 404 if the room was never
// opened.
func (h *Handler) ServeRoom(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	roomID := strings.TrimSpace(chi.URLParam(r, "roomId"))

	info, err := h.Dispatcher.Coordinator().RoomInfo(r.Context(), roomID)
	if errors.Is(err, meetings.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "room not found"})
		return
	}
	if err != nil {
		h.Log.Error("room lookup failed", zap.String("room_id", roomID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "database unavailable"})
		return
	}

	m := info.Meeting
	resp := roomResponse{
		RoomID:       m.MeetingCode,
		Kind:         m.Kind,
		Active:       m.Active,
		CreatedAt:    m.CreatedAt,
		EndedAt:      m.EndedAt,
		Capacity:     info.Capacity,
		Participants: make([]participantView, 0, len(m.Participants)),
		Live:         info.Live,
		Presenter:    info.Presenter,
	}
	for _, p := range m.Participants {
		resp.Participants = append(resp.Participants, participantView{
			Identity:    p.Identity,
			DisplayName: p.DisplayName,
			Role:        p.Role,
			JoinedAt:    p.JoinedAt,
			LeftAt:      p.LeftAt,
			Active:      p.Active,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ServeEnd handles POST /api/rooms/{roomId}/end.
//
// Ends the room for good: every live member receives room-ended and later
// joins are refused.
func (h *Handler) ServeEnd(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}
	roomID := strings.TrimSpace(chi.URLParam(r, "roomId"))
	actor := ""
	if u, ok := auth.CurrentUser(r); ok {
		actor = u.Identity
	}

	m, evicted, err := h.Dispatcher.EndRoom(r.Context(), roomID, actor, ratelimit.ClientIP(r))
	if errors.Is(err, meetings.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "room not found"})
		return
	}
	if err != nil {
		h.Log.Error("end room failed", zap.String("room_id", roomID), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "database unavailable"})
		return
	}

	h.Log.Info("room ended",
		zap.String("room_id", roomID),
		zap.String("actor", actor),
		zap.Int("evicted", evicted))
	writeJSON(w, http.StatusOK, endResponse{RoomID: roomID, EndedAt: m.EndedAt, Evicted: evicted})
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.Limiter == nil {
		return true
	}
	ip := ratelimit.ClientIP(r)
	ok := h.Limiter.Allow(ip)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(h.Limiter.Remaining(ip)))
	if ok {
		return true
	}
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
