// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licman/internal/api/handlers"
	apimiddleware "github.com/autobrr/licman/internal/api/middleware"
	"github.com/autobrr/licman/internal/auth"
	"github.com/autobrr/licman/internal/config"
	"github.com/autobrr/licman/internal/database"
	"github.com/autobrr/licman/internal/i18n"
	"github.com/autobrr/licman/internal/metrics"
	"github.com/autobrr/licman/internal/models"
	"github.com/autobrr/licman/internal/services"
	"github.com/autobrr/licman/internal/web/swagger"
)

// Dependencies holds all the dependencies needed for the API
type Dependencies struct {
	Config         *config.AppConfig
	DB             *database.DB
	AuthService    *auth.Service
	LicenseService *services.LicenseService
	Catalog        *i18n.Catalog
	Properties     *models.PropertyStore
	MetricsManager *metrics.Manager
}

// NewRouter creates and configures the main application router
func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimiddleware.HTTPLogger)
	r.Use(middleware.Recoverer)

	// Create handlers
	localizer := handlers.NewLocalizer(deps.Catalog, deps.Properties)
	authHandler := handlers.NewAuthHandler(deps.AuthService)
	usersHandler := handlers.NewUsersHandler(deps.AuthService)
	licenseHandler := handlers.NewLicenseHandler(deps.LicenseService, localizer)
	localeHandler := handlers.NewLocaleHandler(localizer)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Apply setup check middleware
		r.Use(apimiddleware.RequireSetup(deps.AuthService))

		// Public routes (no auth required)
		r.Post("/auth/setup", authHandler.Setup)
		r.Post("/auth/login", authHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.IsAuthenticated(deps.AuthService))

			// Auth routes
			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.GetCurrentUser)
			r.Put("/auth/change-password", authHandler.ChangePassword)

			// API key management
			r.Route("/api-keys", func(r chi.Router) {
				r.Get("/", authHandler.ListAPIKeys)
				r.Post("/", authHandler.CreateAPIKey)
				r.Delete("/{id}", authHandler.DeleteAPIKey)
			})

			r.Get("/me/locale", localeHandler.GetLocale)
			r.Put("/me/locale", localeHandler.SetLocale)

			// License status and banners are visible to every user
			r.Get("/license", licenseHandler.GetLicense)
			r.Get("/license/banners", licenseHandler.GetBanners)
			r.Post("/license/banners/{kind}/remind-later", licenseHandler.RemindLater)
			r.Post("/license/banners/{kind}/remind-never", licenseHandler.RemindNever)

			// Administration
			r.Group(func(r chi.Router) {
				r.Use(apimiddleware.RequireAdmin)

				r.Put("/license", licenseHandler.SetLicense)
				r.Delete("/license", licenseHandler.ClearLicense)

				r.Get("/license/roles", licenseHandler.ListRoles)
				r.Delete("/license/roles/cache", licenseHandler.ClearRoleCache)
				r.Get("/license/roles/{role}/groups", licenseHandler.GetRoleGroups)
				r.Put("/license/roles/{role}/groups", licenseHandler.SetRoleGroups)
				r.Post("/license/roles/{role}/groups", licenseHandler.AddRoleGroup)
				r.Delete("/license/roles/{role}/groups/{group}", licenseHandler.RemoveRoleGroup)
				r.Get("/license/groups", licenseHandler.SearchGroups)

				r.Route("/users", func(r chi.Router) {
					r.Get("/", usersHandler.ListUsers)
					r.Post("/", usersHandler.CreateUser)
					r.Put("/{userID}", usersHandler.UpdateUser)
					r.Delete("/{userID}", usersHandler.DeleteUser)
				})
			})
		})
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.DB != nil {
			if err := deps.DB.Ping(r.Context()); err != nil {
				log.Error().Err(err).Msg("Health check failed")
				handlers.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		handlers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.MetricsManager != nil {
		r.Get("/metrics", handlers.NewMetricsHandler(deps.MetricsManager).ServeMetrics)
	}

	baseURL := ""
	if deps.Config != nil && deps.Config.Config != nil {
		baseURL = deps.Config.Config.BaseURL
	}
	swaggerHandler, err := swagger.NewHandler(baseURL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load OpenAPI document, API docs disabled")
	} else {
		swaggerHandler.RegisterRoutes(r)
	}

	return r
}
