/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api exposes the catalog over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tomoncle/hotellisting/auth"
	"github.com/tomoncle/hotellisting/database"
	"github.com/tomoncle/hotellisting/metrics"
	"github.com/tomoncle/hotellisting/models"
	"github.com/tomoncle/hotellisting/repository"
	"github.com/tomoncle/hotellisting/utils"
)

var logger = utils.NewLogger("API")

// Deps are the collaborators the handlers need.
type Deps struct {
	// UnitOfWork builds a fresh unit of work for each request.
	UnitOfWork func() *repository.UnitOfWork
	Authority  *auth.Authority
	Health     func(ctx context.Context) *database.HealthStatus
	Registry   *prometheus.Registry
	TokenTTL   time.Duration
}

type Options struct {
	RequestTimeout     time.Duration
	LoginRatePerMinute int
	LoginBurst         int
}

type Server struct{ mux *chi.Mux }

// Handlers serves the catalog and account routes.
type Handlers struct {
	newUoW    func() *repository.UnitOfWork
	authority *auth.Authority
	health    func(ctx context.Context) *database.HealthStatus
	validate  *validator.Validate
	tokenTTL  time.Duration
}

func NewServer(deps Deps, opts Options) *Server {
	m := chi.NewRouter()

	m.Use(chimw.RealIP)
	m.Use(chimw.RequestID)
	m.Use(chimw.Recoverer)
	if opts.RequestTimeout > 0 {
		m.Use(Timeout(opts.RequestTimeout))
	}
	m.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS", "HEAD"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Location", "X-Total-Count", "X-Request-Id"},
		MaxAge:         300,
	}))
	m.Use(Metrics)
	m.Use(RequestLogger(logger))

	h := &Handlers{
		newUoW:    deps.UnitOfWork,
		authority: deps.Authority,
		health:    deps.Health,
		validate:  newValidator(),
		tokenTTL:  deps.TokenTTL,
	}
	requireAuth := RequireAuth(deps.Authority)
	requireAdmin := RequireRole(models.RoleAdministrator)
	loginLimiter := NewIPRateLimiter(opts.LoginRatePerMinute, opts.LoginBurst)

	m.Get("/healthz", h.healthz)
	if deps.Registry != nil {
		m.Handle("/metrics", metrics.Handler(deps.Registry))
	}

	m.Route("/countries", func(r chi.Router) {
		r.Get("/", h.getCountries)
		r.Get("/{id}", h.getCountry)
		r.With(requireAuth, requireAdmin).Post("/", h.createCountry)
		r.Put("/{id}", h.updateCountry)
		r.With(requireAuth).Delete("/{id}", h.deleteCountry)
	})
	m.Route("/hotels", func(r chi.Router) {
		r.Get("/", h.getHotels)
		r.With(requireAuth).Get("/{id}", h.getHotel)
		r.With(requireAuth, requireAdmin).Post("/", h.createHotel)
		r.With(requireAuth).Put("/{id}", h.updateHotel)
		r.With(requireAuth).Delete("/{id}", h.deleteHotel)
	})
	m.Route("/accounts", func(r chi.Router) {
		r.Post("/register", h.register)
		r.With(loginLimiter.Middleware).Post("/login", h.login)
	})

	return &Server{mux: m}
}

func (s *Server) Handler() http.Handler { return s.mux }

func (h *Handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"healthy": true})
		return
	}
	status := h.health(r.Context())
	if status == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Service Unavailable", "database is not initialized")
		return
	}
	if !status.Healthy {
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
