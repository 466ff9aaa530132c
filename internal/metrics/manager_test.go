// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/licman/internal/license"
	"github.com/autobrr/licman/internal/license/licensetest"
)

var now = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	details   license.Details
	clustered bool
	counts    map[string]int
	stateErr  error
	countErr  error
}

func (s *fakeSource) State(context.Context) (license.State, license.Details, error) {
	if s.stateErr != nil {
		return "", nil, s.stateErr
	}
	return license.Evaluate(s.details, s.clustered), s.details, nil
}

func (s *fakeSource) RoleGroupCounts(context.Context) (map[string]int, error) {
	return s.counts, s.countErr
}

func signedDetails(t *testing.T, claims license.Claims) license.Details {
	t.Helper()
	signer := licensetest.NewSigner(t, licensetest.DefaultKeyID)
	clock := quartz.NewMock(t)
	clock.Set(now)
	d, err := license.NewFactory(signer.Decoder(), clock).Decode(signer.Sign(t, claims))
	require.NoError(t, err)
	return d
}

func TestNewManager(t *testing.T) {
	manager := NewManager(nil)

	assert.NotNil(t, manager)
	assert.NotNil(t, manager.licenseCollector)
	assert.IsType(t, &prometheus.Registry{}, manager.GetRegistry())
}

func TestManager_RegistryIsolation(t *testing.T) {
	manager1 := NewManager(nil)
	manager2 := NewManager(nil)

	assert.NotSame(t, manager1.registry, manager2.registry, "Each manager should have its own registry")
	assert.NotSame(t, manager1.licenseCollector, manager2.licenseCollector, "Each manager should have its own collector")
}

func TestLicenseCollector_NilSource(t *testing.T) {
	assert.Equal(t, 0, testutil.CollectAndCount(NewLicenseCollector(nil)))
}

func TestLicenseCollector_Unlicensed(t *testing.T) {
	collector := NewLicenseCollector(&fakeSource{details: license.NullDetails{}})

	expected := `
# HELP licman_license_evaluation Whether the installed license is an evaluation license
# TYPE licman_license_evaluation gauge
licman_license_evaluation 0
# HELP licman_license_set Whether a license is installed (1=installed, 0=none)
# TYPE licman_license_set gauge
licman_license_set 0
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"licman_license_set", "licman_license_evaluation"))

	assert.Equal(t, 0, testutil.CollectAndCount(collector, "licman_license_days_to_expiry"))
	assert.Equal(t, len(license.States()), testutil.CollectAndCount(collector, "licman_license_state"))
}

func TestLicenseCollector_Evaluation(t *testing.T) {
	d := signedDetails(t, licensetest.Evaluation(now.AddDate(0, -1, 0), now.AddDate(0, 0, 5)))
	collector := NewLicenseCollector(&fakeSource{details: d, counts: map[string]int{"editor": 3}})

	expected := `
# HELP licman_license_days_to_expiry Days until the license expires, negative once expired
# TYPE licman_license_days_to_expiry gauge
licman_license_days_to_expiry 5
# HELP licman_license_evaluation Whether the installed license is an evaluation license
# TYPE licman_license_evaluation gauge
licman_license_evaluation 1
# HELP licman_license_role_groups Number of groups mapped to each role
# TYPE licman_license_role_groups gauge
licman_license_role_groups{role="editor"} 3
licman_license_role_groups{role="viewer"} 0
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"licman_license_days_to_expiry", "licman_license_evaluation", "licman_license_role_groups"))

	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(collector))
	families, err := registry.Gather()
	require.NoError(t, err)

	active := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "licman_license_state" {
			continue
		}
		for _, m := range mf.GetMetric() {
			active[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(1), active[string(license.StateEvaluationAlmostExpired)])
	assert.Equal(t, float64(0), active[string(license.StateEvaluationActive)])
}

func TestLicenseCollector_Perpetual(t *testing.T) {
	d := signedDetails(t, licensetest.Perpetual(now.AddDate(-1, 0, 0), now.AddDate(0, 0, -3)))
	collector := NewLicenseCollector(&fakeSource{details: d})

	expected := `
# HELP licman_license_days_to_maintenance_expiry Days until software maintenance ends, negative once ended
# TYPE licman_license_days_to_maintenance_expiry gauge
licman_license_days_to_maintenance_expiry -3
# HELP licman_license_role_seats Seats granted per licensed role
# TYPE licman_license_role_seats gauge
licman_license_role_seats{role="editor"} 20
licman_license_role_seats{role="viewer"} 100
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"licman_license_days_to_maintenance_expiry", "licman_license_role_seats"))
	assert.Equal(t, 0, testutil.CollectAndCount(collector, "licman_license_days_to_expiry"), "perpetual licenses never expire")
}

func TestLicenseCollector_Errors(t *testing.T) {
	t.Run("state", func(t *testing.T) {
		collector := NewLicenseCollector(&fakeSource{stateErr: errors.New("database is locked")})
		assert.Equal(t, 1, testutil.CollectAndCount(collector, "licman_license_scrape_errors_total"))
		assert.Equal(t, 0, testutil.CollectAndCount(collector, "licman_license_set"))
	})

	t.Run("role groups", func(t *testing.T) {
		d := signedDetails(t, licensetest.Subscription(now.AddDate(0, -1, 0), now.AddDate(1, 0, 0)))
		collector := NewLicenseCollector(&fakeSource{details: d, countErr: errors.New("database is locked")})
		assert.Equal(t, 1, testutil.CollectAndCount(collector, "licman_license_scrape_errors_total"))
		assert.Equal(t, 0, testutil.CollectAndCount(collector, "licman_license_role_groups"))
		assert.Equal(t, 1, testutil.CollectAndCount(collector, "licman_license_set"))
	})
}
