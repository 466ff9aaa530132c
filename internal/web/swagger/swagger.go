// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package swagger serves the embedded OpenAPI document and a Swagger UI page.
package swagger

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openapiYAML []byte

//go:embed index.html
var swaggerHTML string

type Handler struct {
	spec    map[string]any
	baseURL string
}

func NewHandler(baseURL string) (*Handler, error) {
	var spec map[string]any
	if err := yaml.Unmarshal(openapiYAML, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse OpenAPI document: %w", err)
	}

	return &Handler{
		spec:    spec,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/docs", h.ServeSwaggerUI)
	r.Get("/api/openapi.json", h.ServeOpenAPISpec)
}

func (h *Handler) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	html := strings.ReplaceAll(swaggerHTML, "{{OPENAPI_URL}}", h.baseURL+"/api/openapi.json")
	w.Write([]byte(html))
}

// GetOpenAPISpec returns the raw embedded document.
func GetOpenAPISpec() []byte {
	return openapiYAML
}

func (h *Handler) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	spec := maps.Clone(h.spec)

	if h.baseURL != "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}

		servers := []map[string]any{
			{
				"url":         scheme + "://" + r.Host + h.baseURL,
				"description": "Current server with base URL",
			},
		}

		// Keep existing servers as fallback
		if existing, ok := spec["servers"].([]any); ok {
			for _, s := range existing {
				if server, ok := s.(map[string]any); ok {
					servers = append(servers, server)
				}
			}
		}

		spec["servers"] = servers
	}

	if err := json.NewEncoder(w).Encode(spec); err != nil {
		log.Error().Err(err).Msg("Failed to encode OpenAPI document")
	}
}
