// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"math"
	"time"

	"github.com/coder/quartz"
)

// NoExpiry is reported as the number of days left when a date does not apply.
const NoExpiry = math.MaxInt32

const (
	// EvaluationWarningDays is how close to expiry an evaluation counts as almost expired.
	EvaluationWarningDays = 7
	// SubscriptionWarningDays is how close to expiry a subscription counts as almost expired.
	SubscriptionWarningDays = 45
	// MaintenanceWarningDays is how close to the end of maintenance a perpetual
	// license counts as almost expired.
	MaintenanceWarningDays = 45
)

// Details exposes a decoded license. Values are immutable; every time
// dependent facet is computed against the clock on each call.
type Details interface {
	IsLicenseSet() bool
	LicenseString() string
	// Hash identifies the license string without revealing it.
	Hash() string

	LicenseID() string
	Organisation() string
	Description() string
	LicenseType() Type
	Partner() string
	ServerID() string
	MaxUsers() int
	IsUnlimitedUsers() bool
	Roles() map[string]int
	IssuedAt() time.Time

	IsEvaluation() bool
	IsSubscription() bool
	IsELA() bool
	IsDataCenter() bool
	IsPerpetual() bool

	ExpiryDate() (time.Time, bool)
	MaintenanceExpiryDate() (time.Time, bool)

	IsExpired() bool
	IsAlmostExpired() bool
	IsMaintenanceExpired() bool
	IsMaintenanceAlmostExpired() bool

	DaysToLicenseExpiry() int
	DaysToMaintenanceExpiry() int

	// IsValidForBuildDate reports whether this license may run a build
	// released at the given time.
	IsValidForBuildDate(build time.Time) bool
}

// daysUntil rounds partial days up, so anything still in the future is at
// least one day away.
func daysUntil(now, t time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

// reached reports whether the instant t has passed.
func reached(now, t time.Time) bool {
	return !now.Before(t)
}

func hashLicense(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// decoded carries the fields every concrete variant shares.
type decoded struct {
	raw    string
	hash   string
	claims *Claims
	clock  quartz.Clock
}

func newDecoded(raw string, claims *Claims, clock quartz.Clock) decoded {
	return decoded{
		raw:    raw,
		hash:   hashLicense(raw),
		claims: claims,
		clock:  clock,
	}
}

func (d *decoded) now() time.Time { return d.clock.Now() }

func (d *decoded) IsLicenseSet() bool { return true }
func (d *decoded) LicenseString() string { return d.raw }
func (d *decoded) Hash() string { return d.hash }
func (d *decoded) LicenseID() string { return d.claims.ID }
func (d *decoded) Organisation() string { return d.claims.Organisation }
func (d *decoded) Description() string { return d.claims.Description }
func (d *decoded) LicenseType() Type { return d.claims.LicenseType }
func (d *decoded) Partner() string { return d.claims.Partner }
func (d *decoded) ServerID() string { return d.claims.ServerID }
func (d *decoded) MaxUsers() int { return d.claims.MaxUsers }
func (d *decoded) IsUnlimitedUsers() bool { return d.claims.MaxUsers == UnlimitedUsers }
func (d *decoded) Roles() map[string]int { return maps.Clone(d.claims.Roles) }
func (d *decoded) IssuedAt() time.Time { return d.claims.IssuedAt.Time }
func (d *decoded) IsEvaluation() bool { return d.claims.Evaluation }
func (d *decoded) IsELA() bool { return d.claims.Subscription }
func (d *decoded) IsDataCenter() bool { return d.claims.DataCenter }
func (d *decoded) maintenanceEnd() time.Time { return d.claims.MaintenanceExpires.Time }

func (d *decoded) MaintenanceExpiryDate() (time.Time, bool) {
	return d.maintenanceEnd(), true
}

func (d *decoded) DaysToMaintenanceExpiry() int {
	return daysUntil(d.now(), d.maintenanceEnd())
}

func (d *decoded) IsMaintenanceExpired() bool {
	return reached(d.now(), d.maintenanceEnd())
}
