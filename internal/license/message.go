// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Message argument names understood by the catalogs.
const (
	ArgOrganisation = "organisation"
	ArgDays         = "days"
	ArgDate         = "date"
)

// Message keys selected by the builders below.
const (
	KeyStatusUnlicensed                = "license.status.unlicensed"
	KeyStatusUnlicensedClustering      = "license.status.unlicensed_clustering"
	KeyStatusEvaluationActive          = "license.status.evaluation.active"
	KeyStatusEvaluationAlmostExpired   = "license.status.evaluation.almost_expired"
	KeyStatusEvaluationExpired         = "license.status.evaluation.expired"
	KeyStatusSubscriptionActive        = "license.status.subscription.active"
	KeyStatusSubscriptionAlmostExpired = "license.status.subscription.almost_expired"
	KeyStatusSubscriptionExpired       = "license.status.subscription.expired"
	KeyStatusMaintenanceActive         = "license.status.maintenance.active"
	KeyStatusMaintenanceAlmostExpired  = "license.status.maintenance.almost_expired"
	KeyStatusMaintenanceExpired        = "license.status.maintenance.expired"
	KeyExpiryUnlicensed                = "license.expiry.unlicensed"
	KeyExpiryNever                     = "license.expiry.never"
	KeyExpiryExpiresIn                 = "license.expiry.expires_in"
	KeyExpiryExpired                   = "license.expiry.expired"
	KeyMaintenanceUnlicensed           = "license.maintenance.unlicensed"
	KeyMaintenanceSupported            = "license.maintenance.supported"
	KeyMaintenanceUnsupported          = "license.maintenance.unsupported"
)

// Message is a canned, not yet localized, status text.
type Message struct {
	Key      string         `json:"key"`
	Severity Severity       `json:"severity"`
	Args     map[string]any `json:"args,omitempty"`
}

var stateKeys = map[State]string{
	StateUnlicensed:                        KeyStatusUnlicensed,
	StateUnlicensedClustering:              KeyStatusUnlicensedClustering,
	StateEvaluationActive:                  KeyStatusEvaluationActive,
	StateEvaluationAlmostExpired:           KeyStatusEvaluationAlmostExpired,
	StateEvaluationExpired:                 KeyStatusEvaluationExpired,
	StateSubscriptionActive:                KeyStatusSubscriptionActive,
	StateSubscriptionAlmostExpired:         KeyStatusSubscriptionAlmostExpired,
	StateSubscriptionExpired:               KeyStatusSubscriptionExpired,
	StatePerpetualInMaintenance:            KeyStatusMaintenanceActive,
	StatePerpetualMaintenanceAlmostExpired: KeyStatusMaintenanceAlmostExpired,
	StatePerpetualMaintenanceExpired:       KeyStatusMaintenanceExpired,
}

// StatusMessage builds the full status line for a state previously returned
// by Evaluate for the same details.
func StatusMessage(d Details, state State) Message {
	msg := Message{
		Key:      stateKeys[state],
		Severity: state.Severity(),
		Args:     map[string]any{},
	}
	if msg.Key == "" {
		msg.Key = KeyStatusUnlicensed
	}

	if !d.IsLicenseSet() {
		return msg
	}
	msg.Args[ArgOrganisation] = d.Organisation()

	switch state {
	case StateEvaluationActive, StateEvaluationAlmostExpired, StateEvaluationExpired,
		StateSubscriptionActive, StateSubscriptionAlmostExpired, StateSubscriptionExpired:
		if end, ok := d.ExpiryDate(); ok {
			msg.Args[ArgDate] = end
			msg.Args[ArgDays] = clampDays(d.DaysToLicenseExpiry())
		}
	case StatePerpetualInMaintenance, StatePerpetualMaintenanceAlmostExpired, StatePerpetualMaintenanceExpired:
		if end, ok := d.MaintenanceExpiryDate(); ok {
			msg.Args[ArgDate] = end
			msg.Args[ArgDays] = clampDays(d.DaysToMaintenanceExpiry())
		}
	}
	return msg
}

// ExpiryMessage is the brief line describing when the license itself ends.
func ExpiryMessage(d Details) Message {
	if !d.IsLicenseSet() {
		return Message{Key: KeyExpiryUnlicensed, Severity: SeverityError}
	}
	end, ok := d.ExpiryDate()
	if !ok {
		return Message{Key: KeyExpiryNever, Severity: SeverityInfo}
	}
	if d.IsExpired() {
		return Message{
			Key:      KeyExpiryExpired,
			Severity: SeverityError,
			Args:     map[string]any{ArgDate: end},
		}
	}
	severity := SeverityInfo
	if d.IsAlmostExpired() {
		severity = SeverityWarning
	}
	return Message{
		Key:      KeyExpiryExpiresIn,
		Severity: severity,
		Args:     map[string]any{ArgDate: end, ArgDays: d.DaysToLicenseExpiry()},
	}
}

// MaintenanceMessage is the brief line describing access to support and updates.
func MaintenanceMessage(d Details) Message {
	end, ok := d.MaintenanceExpiryDate()
	if !d.IsLicenseSet() || !ok {
		return Message{Key: KeyMaintenanceUnlicensed, Severity: SeverityError}
	}
	if d.IsMaintenanceExpired() {
		return Message{
			Key:      KeyMaintenanceUnsupported,
			Severity: SeverityWarning,
			Args:     map[string]any{ArgDate: end},
		}
	}
	severity := SeverityInfo
	if d.IsMaintenanceAlmostExpired() {
		severity = SeverityWarning
	}
	return Message{
		Key:      KeyMaintenanceSupported,
		Severity: severity,
		Args:     map[string]any{ArgDate: end, ArgDays: d.DaysToMaintenanceExpiry()},
	}
}

// clampDays keeps expired counts readable ("0 days") instead of negative.
func clampDays(days int) int {
	if days < 0 {
		return 0
	}
	return days
}
