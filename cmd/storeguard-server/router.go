package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storeguard/storeguard"
	"github.com/storeguard/storeguard/middleware"
	"github.com/storeguard/storeguard/permission"
)

func newRouter(svc *storeguard.Service, reg *prometheus.Registry) http.Handler {
	h := &handlers{svc: svc}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Group(func(app chi.Router) {
		app.Use(
			middleware.SecurityHeaders(svc.Production()),
			middleware.ClientInfo(svc),
			middleware.Throttle(svc),
			middleware.CSRF(svc.CSRF()),
		)

		app.Get("/csrf", h.csrfToken)
		app.Post("/login", h.login)
		app.Post("/logout", h.logout)
		app.Post("/refresh", h.refresh)

		app.Get("/cart", h.getCart)
		app.Post("/cart/items", h.addItem)
		app.Patch("/cart/items/{id}", h.updateItem)
		app.Delete("/cart/items/{id}", h.removeItem)
		app.Delete("/cart", h.clearCart)

		app.Group(func(authed chi.Router) {
			authed.Use(middleware.RequireAuth(svc))
			authed.Get("/me", h.me)
			authed.Get("/me/sessions", h.sessions)
		})
		app.With(middleware.RequirePermission(svc, permission.ViewAuditLog)).Get("/admin/audit", h.auditTrail)
		app.With(middleware.RequireRole(svc, permission.Admin)).Get("/admin/security", h.securityReport)
	})
	return r
}
