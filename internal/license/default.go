// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"time"

	"github.com/coder/quartz"
)

// DefaultDetails backs evaluation licenses and perpetual licenses with a
// maintenance window.
type DefaultDetails struct {
	decoded
}

var _ Details = (*DefaultDetails)(nil)

func newDefaultDetails(raw string, claims *Claims, clock quartz.Clock) *DefaultDetails {
	return &DefaultDetails{decoded: newDecoded(raw, claims, clock)}
}

func (d *DefaultDetails) IsSubscription() bool { return false }

func (d *DefaultDetails) IsPerpetual() bool { return !d.IsEvaluation() }

func (d *DefaultDetails) ExpiryDate() (time.Time, bool) {
	if !d.IsEvaluation() {
		return time.Time{}, false
	}
	return d.claims.LicenseExpires.Time, true
}

func (d *DefaultDetails) IsExpired() bool {
	end, ok := d.ExpiryDate()
	return ok && reached(d.now(), end)
}

func (d *DefaultDetails) IsAlmostExpired() bool {
	end, ok := d.ExpiryDate()
	if !ok {
		return false
	}
	now := d.now()
	return !reached(now, end) && daysUntil(now, end) <= EvaluationWarningDays
}

func (d *DefaultDetails) DaysToLicenseExpiry() int {
	end, ok := d.ExpiryDate()
	if !ok {
		return NoExpiry
	}
	return daysUntil(d.now(), end)
}

// IsMaintenanceAlmostExpired only applies to perpetual licenses; an
// evaluation reports through IsAlmostExpired instead.
func (d *DefaultDetails) IsMaintenanceAlmostExpired() bool {
	if d.IsEvaluation() {
		return false
	}
	now := d.now()
	end := d.maintenanceEnd()
	return !reached(now, end) && daysUntil(now, end) <= MaintenanceWarningDays
}

// IsValidForBuildDate allows evaluations to run any build; a perpetual
// license only covers builds released before its maintenance ended.
func (d *DefaultDetails) IsValidForBuildDate(build time.Time) bool {
	if d.IsEvaluation() || build.IsZero() {
		return true
	}
	return !build.After(d.maintenanceEnd())
}
