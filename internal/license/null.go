// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import "time"

// NullDetails stands in when no license is installed or the stored one
// cannot be decoded.
type NullDetails struct{}

var _ Details = NullDetails{}

func (NullDetails) IsLicenseSet() bool { return false }
func (NullDetails) LicenseString() string { return "" }
func (NullDetails) Hash() string { return "" }
func (NullDetails) LicenseID() string { return "" }
func (NullDetails) Organisation() string { return "" }
func (NullDetails) Description() string { return "" }
func (NullDetails) LicenseType() Type { return "" }
func (NullDetails) Partner() string { return "" }
func (NullDetails) ServerID() string { return "" }
func (NullDetails) MaxUsers() int { return 0 }
func (NullDetails) IsUnlimitedUsers() bool { return false }
func (NullDetails) Roles() map[string]int { return nil }
func (NullDetails) IssuedAt() time.Time { return time.Time{} }
func (NullDetails) IsEvaluation() bool { return false }
func (NullDetails) IsSubscription() bool { return false }
func (NullDetails) IsELA() bool { return false }
func (NullDetails) IsDataCenter() bool { return false }
func (NullDetails) IsPerpetual() bool { return false }
func (NullDetails) ExpiryDate() (time.Time, bool) { return time.Time{}, false }
func (NullDetails) MaintenanceExpiryDate() (time.Time, bool) { return time.Time{}, false }
func (NullDetails) IsExpired() bool { return false }
func (NullDetails) IsAlmostExpired() bool { return false }
func (NullDetails) IsMaintenanceExpired() bool { return false }
func (NullDetails) IsMaintenanceAlmostExpired() bool { return false }
func (NullDetails) DaysToLicenseExpiry() int { return NoExpiry }
func (NullDetails) DaysToMaintenanceExpiry() int { return NoExpiry }
func (NullDetails) IsValidForBuildDate(time.Time) bool { return false }
