// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/licman/internal/license"
	"github.com/autobrr/licman/internal/license/licensetest"
)

func TestEvaluate(t *testing.T) {
	days := func(n int) license.Claims { return licensetest.Evaluation(issued, now.AddDate(0, 0, n)) }

	tests := []struct {
		name      string
		claims    *license.Claims
		clustered bool
		want      license.State
	}{
		{name: "no license", want: license.StateUnlicensed},
		{name: "no license clustered", clustered: true, want: license.StateUnlicensedClustering},
		{name: "evaluation active", claims: ptr(days(20)), want: license.StateEvaluationActive},
		{name: "evaluation almost expired", claims: ptr(days(3)), want: license.StateEvaluationAlmostExpired},
		{name: "evaluation expired", claims: ptr(days(-1)), want: license.StateEvaluationExpired},
		{
			name:   "subscription active",
			claims: ptr(licensetest.Subscription(issued, now.AddDate(0, 3, 0))),
			want:   license.StateSubscriptionActive,
		},
		{
			name:   "subscription almost expired",
			claims: ptr(licensetest.Subscription(issued, now.AddDate(0, 0, 30))),
			want:   license.StateSubscriptionAlmostExpired,
		},
		{
			name:   "subscription expired",
			claims: ptr(licensetest.Subscription(issued, now.AddDate(0, 0, -30))),
			want:   license.StateSubscriptionExpired,
		},
		{
			name:   "perpetual in maintenance",
			claims: ptr(licensetest.Perpetual(issued, now.AddDate(1, 0, 0))),
			want:   license.StatePerpetualInMaintenance,
		},
		{
			name:   "perpetual maintenance almost expired",
			claims: ptr(licensetest.Perpetual(issued, now.AddDate(0, 0, 10))),
			want:   license.StatePerpetualMaintenanceAlmostExpired,
		},
		{
			name:   "perpetual maintenance expired",
			claims: ptr(licensetest.Perpetual(issued, now.AddDate(0, 0, -10))),
			want:   license.StatePerpetualMaintenanceExpired,
		},
		{
			name:      "clustered without data center wins over everything",
			claims:    ptr(licensetest.Perpetual(issued, now.AddDate(1, 0, 0))),
			clustered: true,
			want:      license.StateUnlicensedClustering,
		},
		{
			name:      "clustered data center",
			claims:    ptr(licensetest.DataCenter(issued, now.AddDate(1, 0, 0))),
			clustered: true,
			want:      license.StateSubscriptionActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var d license.Details = license.NullDetails{}
			if tt.claims != nil {
				d = f.details(t, *tt.claims)
			}
			assert.Equal(t, tt.want, license.Evaluate(d, tt.clustered))
		})
	}
}

func TestState_UsableAndSeverity(t *testing.T) {
	for _, s := range license.States() {
		switch s {
		case license.StateUnlicensed, license.StateUnlicensedClustering,
			license.StateEvaluationExpired, license.StateSubscriptionExpired:
			assert.False(t, s.Usable(), s)
			assert.Equal(t, license.SeverityError, s.Severity(), s)
		default:
			assert.True(t, s.Usable(), s)
			assert.NotEqual(t, license.SeverityError, s.Severity(), s)
		}
	}

	assert.Equal(t, license.SeverityWarning, license.StatePerpetualMaintenanceExpired.Severity())
	assert.Equal(t, license.SeverityInfo, license.StatePerpetualInMaintenance.Severity())
	assert.Len(t, license.States(), 11)
}

func ptr[T any](v T) *T { return &v }
