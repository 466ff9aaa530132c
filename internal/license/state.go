// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

// State summarizes where a license stands right now. It is derived, never
// stored.
type State string

const (
	StateUnlicensed                        State = "unlicensed"
	StateUnlicensedClustering              State = "unlicensed_clustering"
	StateEvaluationActive                  State = "evaluation_active"
	StateEvaluationAlmostExpired           State = "evaluation_almost_expired"
	StateEvaluationExpired                 State = "evaluation_expired"
	StateSubscriptionActive                State = "subscription_active"
	StateSubscriptionAlmostExpired         State = "subscription_almost_expired"
	StateSubscriptionExpired               State = "subscription_expired"
	StatePerpetualInMaintenance            State = "perpetual_in_maintenance"
	StatePerpetualMaintenanceAlmostExpired State = "perpetual_maintenance_almost_expired"
	StatePerpetualMaintenanceExpired       State = "perpetual_maintenance_expired"
)

// States lists every state in a stable order.
func States() []State {
	return []State{
		StateUnlicensed,
		StateUnlicensedClustering,
		StateEvaluationActive,
		StateEvaluationAlmostExpired,
		StateEvaluationExpired,
		StateSubscriptionActive,
		StateSubscriptionAlmostExpired,
		StateSubscriptionExpired,
		StatePerpetualInMaintenance,
		StatePerpetualMaintenanceAlmostExpired,
		StatePerpetualMaintenanceExpired,
	}
}

// Evaluate derives the current state. A clustered instance without a data
// center license is always reported as unlicensed clustering, whatever else
// the license says.
func Evaluate(d Details, clustered bool) State {
	if clustered && !d.IsDataCenter() {
		return StateUnlicensedClustering
	}
	if !d.IsLicenseSet() {
		return StateUnlicensed
	}

	switch {
	case d.IsEvaluation():
		switch {
		case d.IsExpired():
			return StateEvaluationExpired
		case d.IsAlmostExpired():
			return StateEvaluationAlmostExpired
		default:
			return StateEvaluationActive
		}
	case d.IsSubscription():
		switch {
		case d.IsExpired():
			return StateSubscriptionExpired
		case d.IsAlmostExpired():
			return StateSubscriptionAlmostExpired
		default:
			return StateSubscriptionActive
		}
	default:
		switch {
		case d.IsMaintenanceExpired():
			return StatePerpetualMaintenanceExpired
		case d.IsMaintenanceAlmostExpired():
			return StatePerpetualMaintenanceAlmostExpired
		default:
			return StatePerpetualInMaintenance
		}
	}
}

// Usable reports whether the product may be used at all in this state.
func (s State) Usable() bool {
	switch s {
	case StateUnlicensed, StateUnlicensedClustering, StateEvaluationExpired, StateSubscriptionExpired:
		return false
	default:
		return true
	}
}

func (s State) Severity() Severity {
	switch s {
	case StateUnlicensed, StateUnlicensedClustering, StateEvaluationExpired, StateSubscriptionExpired:
		return SeverityError
	case StateEvaluationAlmostExpired, StateSubscriptionAlmostExpired,
		StatePerpetualMaintenanceAlmostExpired, StatePerpetualMaintenanceExpired:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
