package meetingws

import "github.com/go-chi/chi/v5"

// Routes returns a subrouter that serves the websocket endpoint.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ServeWS) // this will be mounted under /ws
	return r
}
