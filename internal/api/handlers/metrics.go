// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licman/internal/metrics"
)

type MetricsHandler struct {
	handler http.Handler
}

func NewMetricsHandler(manager *metrics.Manager) *MetricsHandler {
	return &MetricsHandler{
		handler: promhttp.HandlerFor(
			manager.GetRegistry(),
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
			},
		),
	}
}

func (h *MetricsHandler) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	log.Trace().Msg("Serving Prometheus metrics")
	h.handler.ServeHTTP(w, r)
}
