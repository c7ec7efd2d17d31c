package meetingws

import (
	"context"
	"net/http"
	"strings"

	"github.com/dalemusser/mentorlink/internal/app/meeting"
	"github.com/dalemusser/mentorlink/internal/app/system/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades HTTP requests to meeting websocket connections.
type Handler struct {
	Dispatcher *meeting.Dispatcher
	Hub        *Hub
	Resolver   *auth.Resolver
	Log        *zap.Logger

	upgrader websocket.Upgrader
}

// NewHandler constructs a websocket Handler. allowedOrigins lists the
// browser origins permitted to connect; empty means same host only and "*"
// allows any origin.
func NewHandler(disp *meeting.Dispatcher, hub *Hub, resolver *auth.Resolver, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		Dispatcher: disp,
		Hub:        hub,
		Resolver:   resolver,
		Log:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

// ServeWS handles GET /ws.
//
// The caller is identified before the upgrade. Anonymous callers are only
// accepted when trusted identity is enabled, in which case the identity
// named in join-room is used.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	var caller meeting.Caller
	if h.Resolver != nil {
		u, ok, err := h.Resolver.Resolve(r)
		switch {
		case err != nil:
			h.Log.Info("websocket rejected: bad credentials", zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		case ok:
			caller = meeting.Caller{Identity: u.Identity, DisplayName: u.Name, Role: u.Role}
		case !h.Resolver.AllowTrusted():
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.Log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	caller.ConnID = uuid.NewString()
	c := newClient(caller.ConnID, caller, h.Hub, conn, h.Log)
	h.Hub.register(c)
	h.Hub.Send(c.id, meeting.Welcome(c.id))
	h.Log.Debug("websocket connected",
		zap.String("conn_id", c.id),
		zap.String("identity", caller.Identity))

	// The request context ends when this handler returns; the connection
	// outlives it.
	ctx := context.WithoutCancel(r.Context())
	go c.writePump()
	go c.readPump(ctx, h.Dispatcher)
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil // gorilla's same-host check
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // not a browser
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
