package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(a.requireAuth)

		r.Route("/subnets", func(r chi.Router) {
			r.Get("/", a.handleListSubnets)
			r.Post("/", a.handleCreateSubnet)
			r.Get("/{id}", a.handleGetSubnet)
			r.Delete("/{id}", a.handleDeleteSubnet)
		})

		r.Route("/ranges", func(r chi.Router) {
			r.Get("/", a.handleListRanges)
			r.Post("/", a.handleCreateRange)
			r.Delete("/{id}", a.handleDeleteRange)
		})

		r.Route("/static-ips", func(r chi.Router) {
			r.Get("/", a.handleListStaticIPs)
			r.Post("/", a.handleCreateStaticIP)
			r.Delete("/{id}", a.handleDeleteStaticIP)
		})

		r.Route("/leases", func(r chi.Router) {
			r.Get("/", a.handleListLeases)
			r.Delete("/{id}", a.handleReleaseLease)
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Get("/", a.handleListTokens)
			r.Post("/", a.handleCreateToken)
			r.Post("/{id}/toggle", a.handleToggleToken)
			r.Delete("/{id}", a.handleDeleteToken)
		})
	})

	return r, nil
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.store.DB != nil {
		ctx, cancel := withTimeout(r.Context())
		defer cancel()
		if err := a.store.DB.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, errors.New("database unreachable"))
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
