package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/ambulance-dispatch/internal/middleware"
	"github.com/ukydev/ambulance-dispatch/internal/models"
)

// RouterDeps collects what NewRouter mounts. Auth and Gatherer are optional.
type RouterDeps struct {
	Dispatch    *DispatchHandler
	Health      *HealthHandler
	Auth        *AuthHandler
	AuthMW      *middleware.AuthMiddleware
	RateLimit   *middleware.RateLimitMiddleware
	MaxRequests int
	Window      time.Duration
	Gatherer    prometheus.Gatherer
	Log         logrus.FieldLogger
}

// NewRouter builds the HTTP API.
func NewRouter(d RouterDeps) http.Handler {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(d.Log))
	if d.RateLimit != nil {
		r.Use(d.RateLimit.RateLimit(d.MaxRequests, d.Window))
	}

	r.Get("/health", d.Health.Health)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		if d.Auth != nil {
			r.Post("/auth/login", d.Auth.Login)
			r.Post("/auth/register", d.Auth.Register)
		}

		r.Group(func(r chi.Router) {
			r.Use(d.AuthMW.Authenticate)

			if d.Auth != nil {
				r.Get("/auth/me", d.Auth.GetProfile)
			}
			r.Get("/auth/permissions", GetPermissions)
			r.Get("/stats", d.Dispatch.Stats)

			r.Route("/ambulances", func(r chi.Router) {
				r.Get("/", d.Dispatch.ListAmbulances)
				r.With(d.AuthMW.RequirePermission(models.PermAddRemoveVehicles)).Post("/", d.Dispatch.CreateAmbulance)
				r.Get("/{id}", d.Dispatch.GetAmbulance)
				r.With(d.AuthMW.RequirePermission(models.PermAddRemoveVehicles)).Delete("/{id}", d.Dispatch.RemoveAmbulance)
				r.Patch("/{id}/status", d.Dispatch.SetAmbulanceStatus)
				r.Patch("/{id}/location", d.Dispatch.UpdateAmbulanceLocation)
			})

			r.Route("/incidents", func(r chi.Router) {
				r.Get("/", d.Dispatch.ListIncidents)
				r.With(d.AuthMW.RequirePermission(models.PermCreateIncident)).Post("/", d.Dispatch.CreateIncident)
				r.Get("/{id}", d.Dispatch.GetIncident)
				r.Patch("/{id}", d.Dispatch.UpdateIncident)

				r.Group(func(r chi.Router) {
					r.Use(d.AuthMW.RequirePermission(models.PermAssignAmbulance))
					r.Get("/{id}/candidates", d.Dispatch.Candidates)
					r.Post("/{id}/assign", d.Dispatch.Assign)
					r.Post("/{id}/auto-assign", d.Dispatch.AutoAssign)
					r.Post("/{id}/resolve", d.Dispatch.Resolve)
				})
			})

			r.With(d.AuthMW.RequirePermission(models.PermViewIncidentHistory)).Get("/journal", d.Dispatch.Journal)
		})
	})
	return r
}
