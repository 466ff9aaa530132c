// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"time"

	"github.com/coder/quartz"
)

// SubscriptionDetails backs ELA and data center licenses sold for a finite
// term. Maintenance runs for exactly as long as the subscription does.
type SubscriptionDetails struct {
	decoded
}

var _ Details = (*SubscriptionDetails)(nil)

func newSubscriptionDetails(raw string, claims *Claims, clock quartz.Clock) *SubscriptionDetails {
	return &SubscriptionDetails{decoded: newDecoded(raw, claims, clock)}
}

func (d *SubscriptionDetails) IsSubscription() bool { return true }

func (d *SubscriptionDetails) IsPerpetual() bool { return false }

func (d *SubscriptionDetails) end() time.Time { return d.claims.LicenseExpires.Time }

func (d *SubscriptionDetails) ExpiryDate() (time.Time, bool) {
	return d.end(), true
}

func (d *SubscriptionDetails) MaintenanceExpiryDate() (time.Time, bool) {
	return d.end(), true
}

func (d *SubscriptionDetails) IsExpired() bool {
	return reached(d.now(), d.end())
}

func (d *SubscriptionDetails) IsAlmostExpired() bool {
	now := d.now()
	return !reached(now, d.end()) && daysUntil(now, d.end()) <= SubscriptionWarningDays
}

func (d *SubscriptionDetails) DaysToLicenseExpiry() int {
	return daysUntil(d.now(), d.end())
}

func (d *SubscriptionDetails) DaysToMaintenanceExpiry() int {
	return d.DaysToLicenseExpiry()
}

func (d *SubscriptionDetails) IsMaintenanceExpired() bool {
	return d.IsExpired()
}

func (d *SubscriptionDetails) IsMaintenanceAlmostExpired() bool {
	return d.IsAlmostExpired()
}

// IsValidForBuildDate always holds: an active subscription covers every build.
func (d *SubscriptionDetails) IsValidForBuildDate(time.Time) bool {
	return true
}
