package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/timeblocker/internal/planner"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *planner.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Tasks.
	r.Get("/tasks", h.ListTasks)
	r.Post("/tasks/refresh", h.RefreshTasks)

	// Credentials.
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.PutSettings)
	r.Delete("/settings", h.DeleteSettings)

	// Time blocks.
	r.Route("/blocks", func(r chi.Router) {
		r.Get("/", h.ListBlocks)
		r.Post("/", h.CreateBlock)
		r.Delete("/", h.ResetBlocks)
		r.Get("/today", h.TodayBlocks)
		r.Get("/{id}", h.GetBlock)
		r.Patch("/{id}", h.UpdateBlock)
		r.Post("/{id}/toggle", h.ToggleBlock)
		r.Delete("/{id}", h.DeleteBlock)
	})

	// Preferences.
	r.Get("/preferences", h.GetPreferences)
	r.Put("/preferences", h.PutPreferences)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
