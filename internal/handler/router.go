package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/migpoints/internal/middleware"
	"github.com/mmeshcher/migpoints/internal/service"
)

// SetupRouter настраивает маршрутизацию HTTP-запросов сервиса.
func (h *Handler) SetupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.GzipMiddleware)

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.RequireAuth)

			r.Get("/ads", h.GetAds)
			r.Post("/ads/impression", h.TrackImpression)
			r.Post("/ads/complete", h.CompleteAd)
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.GetTransactions)
			r.Post("/wallet/airtime", h.ConvertAirtime)
			r.Post("/wallet/data", h.ConvertData)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.RequireAuth)

		r.Get("/providers", h.requireAdmin(h.ProviderStatus))
		r.Post("/providers/{name}/enable", h.requireAdmin(h.SetProviderEnabled(true)))
		r.Post("/providers/{name}/disable", h.requireAdmin(h.SetProviderEnabled(false)))
		r.Post("/bonus", h.requireAdmin(h.GrantBonus))
	})

	return r
}

// SetProviderEnabled возвращает обработчик включения или отключения провайдера.
func (h *Handler) SetProviderEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		if !h.providerKnown(r, name) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}

		if enabled {
			h.service.EnableProvider(name)
		} else {
			h.service.DisableProvider(name)
		}

		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) providerKnown(r *http.Request, name string) bool {
	status, err := h.service.ProviderStatus(r.Context())
	if err != nil {
		return false
	}
	for _, entry := range status {
		if entry.Name == name {
			return true
		}
	}
	return false
}

var _ Service = (*service.Service)(nil)
