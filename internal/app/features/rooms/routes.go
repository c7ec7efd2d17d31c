package rooms

import (
	"github.com/dalemusser/mentorlink/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router for the rooms API. Expects auth.LoadUser to
// have run.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSignedIn)

	r.Get("/{roomId}", h.ServeRoom)
	r.With(auth.RequireRole("mentor", "admin")).Post("/{roomId}/end", h.ServeEnd)

	return r
}
