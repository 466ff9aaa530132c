// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licman/internal/license"
)

// LicenseSource is what the collector scrapes.
type LicenseSource interface {
	State(ctx context.Context) (license.State, license.Details, error)
	RoleGroupCounts(ctx context.Context) (map[string]int, error)
}

type LicenseCollector struct {
	source LicenseSource

	licenseSetDesc        *prometheus.Desc
	stateDesc             *prometheus.Desc
	evaluationDesc        *prometheus.Desc
	daysToExpiryDesc      *prometheus.Desc
	daysToMaintenanceDesc *prometheus.Desc
	roleSeatsDesc         *prometheus.Desc
	roleGroupsDesc        *prometheus.Desc
	scrapeErrorsDesc      *prometheus.Desc
}

func NewLicenseCollector(source LicenseSource) *LicenseCollector {
	return &LicenseCollector{
		source: source,

		licenseSetDesc: prometheus.NewDesc(
			"licman_license_set",
			"Whether a license is installed (1=installed, 0=none)",
			nil,
			nil,
		),
		stateDesc: prometheus.NewDesc(
			"licman_license_state",
			"Current license state, 1 for the active state and 0 for every other",
			[]string{"state"},
			nil,
		),
		evaluationDesc: prometheus.NewDesc(
			"licman_license_evaluation",
			"Whether the installed license is an evaluation license",
			nil,
			nil,
		),
		daysToExpiryDesc: prometheus.NewDesc(
			"licman_license_days_to_expiry",
			"Days until the license expires, negative once expired",
			nil,
			nil,
		),
		daysToMaintenanceDesc: prometheus.NewDesc(
			"licman_license_days_to_maintenance_expiry",
			"Days until software maintenance ends, negative once ended",
			nil,
			nil,
		),
		roleSeatsDesc: prometheus.NewDesc(
			"licman_license_role_seats",
			"Seats granted per licensed role",
			[]string{"role"},
			nil,
		),
		roleGroupsDesc: prometheus.NewDesc(
			"licman_license_role_groups",
			"Number of groups mapped to each role",
			[]string{"role"},
			nil,
		),
		scrapeErrorsDesc: prometheus.NewDesc(
			"licman_license_scrape_errors_total",
			"Errors while collecting license metrics",
			[]string{"type"},
			nil,
		),
	}
}

func (c *LicenseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.licenseSetDesc
	ch <- c.stateDesc
	ch <- c.evaluationDesc
	ch <- c.daysToExpiryDesc
	ch <- c.daysToMaintenanceDesc
	ch <- c.roleSeatsDesc
	ch <- c.roleGroupsDesc
	ch <- c.scrapeErrorsDesc
}

func (c *LicenseCollector) reportError(ch chan<- prometheus.Metric, errorType string) {
	ch <- prometheus.MustNewConstMetric(c.scrapeErrorsDesc, prometheus.CounterValue, 1, errorType)
}

func (c *LicenseCollector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		log.Debug().Msg("No license source, skipping license metrics collection")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, d, err := c.source.State(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to evaluate license for metrics")
		c.reportError(ch, "state")
		return
	}

	ch <- prometheus.MustNewConstMetric(c.licenseSetDesc, prometheus.GaugeValue, boolValue(d.IsLicenseSet()))
	for _, s := range license.States() {
		ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, boolValue(s == state), string(s))
	}
	ch <- prometheus.MustNewConstMetric(c.evaluationDesc, prometheus.GaugeValue, boolValue(d.IsEvaluation()))

	if _, ok := d.ExpiryDate(); ok {
		ch <- prometheus.MustNewConstMetric(c.daysToExpiryDesc, prometheus.GaugeValue, float64(d.DaysToLicenseExpiry()))
	}
	if _, ok := d.MaintenanceExpiryDate(); ok {
		ch <- prometheus.MustNewConstMetric(c.daysToMaintenanceDesc, prometheus.GaugeValue, float64(d.DaysToMaintenanceExpiry()))
	}

	roles := d.Roles()
	for role, seats := range roles {
		ch <- prometheus.MustNewConstMetric(c.roleSeatsDesc, prometheus.GaugeValue, float64(seats), role)
	}

	counts, err := c.source.RoleGroupCounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count role groups for metrics")
		c.reportError(ch, "role_groups")
		return
	}
	for role := range roles {
		ch <- prometheus.MustNewConstMetric(c.roleGroupsDesc, prometheus.GaugeValue, float64(counts[role]), role)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
