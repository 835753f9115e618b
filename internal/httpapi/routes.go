package httpapi

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the auth endpoints and the gatekept protected
// routes on the router.
func RegisterRoutes(r *chi.Mux, gate *Gatekeeper, auth *AuthHandler, api *APIHandler) {
	r.Get("/auth/start", auth.Start)
	r.Get("/auth/callback", auth.Callback)
	r.Post("/auth/refresh", auth.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(gate.Middleware)

		r.Post("/chat", api.Chat)
		r.Get("/people/search", api.SearchPeople)
		r.Get("/groups", api.ListGroups)
		r.Get("/events", api.ListEvents)
		r.Get("/me", api.MyProfile)
	})
}
