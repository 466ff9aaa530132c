// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"errors"

	"github.com/golang-jwt/jwt/v4"
)

const (
	// HeaderKeyID is the JOSE header naming the public key a license was signed with.
	HeaderKeyID = "kid"

	// SupportedVersions is the range of license format versions this build accepts.
	SupportedVersions = ">= 2.0.0, < 3.0.0"

	// UnlimitedUsers is reported by MaxUsers when the license has no seat cap.
	UnlimitedUsers = -1
)

var (
	ValidMethods = []string{"EdDSA"}

	ErrDecode                    = errors.New("license could not be decoded")
	ErrEmpty                     = errors.New("license string is empty")
	ErrMissingKeyID              = errors.New("license header must contain " + HeaderKeyID)
	ErrUnknownKeyID              = errors.New("license signed with an unknown key")
	ErrMissingIssuedAt           = errors.New("license has invalid or missing iat (issued at) claim")
	ErrMissingVersion            = errors.New("license has missing version claim")
	ErrUnsupportedVersion        = errors.New("license format version is not supported")
	ErrMissingOrganisation       = errors.New("license must name an organisation")
	ErrMissingLicenseExpires     = errors.New("license has invalid or missing license_expires claim")
	ErrMissingMaintenanceExpires = errors.New("license has invalid or missing maintenance_expires claim")
)

// Type is the commercial category a license was sold under.
type Type string

const (
	TypeCommercial    Type = "commercial"
	TypeAcademic      Type = "academic"
	TypeCommunity     Type = "community"
	TypeOpenSource    Type = "open_source"
	TypeDeveloper     Type = "developer"
	TypeStarter       Type = "starter"
	TypeDemonstration Type = "demonstration"
	TypePersonal      Type = "personal"
)

// Claims is the full set of claims carried by a signed license.
//
// Only iat from the registered claims is used. Expiry lives in license_expires
// and maintenance_expires so that an expired license still decodes and can be
// reported as expired instead of being rejected outright.
type Claims struct {
	jwt.RegisteredClaims
	Version            string           `json:"version"`
	Organisation       string           `json:"organisation"`
	Description        string           `json:"description,omitempty"`
	LicenseType        Type             `json:"license_type,omitempty"`
	Evaluation         bool             `json:"evaluation"`
	Subscription       bool             `json:"subscription"`
	DataCenter         bool             `json:"data_center"`
	LicenseExpires     *jwt.NumericDate `json:"license_expires,omitempty"`
	MaintenanceExpires *jwt.NumericDate `json:"maintenance_expires,omitempty"`
	ServerID           string           `json:"server_id,omitempty"`
	MaxUsers           int              `json:"max_users,omitempty"`
	Roles              map[string]int   `json:"roles,omitempty"`
	Partner            string           `json:"partner,omitempty"`
}

var _ jwt.Claims = &Claims{}

// hasFiniteTerm reports whether the license must carry license_expires.
func (c *Claims) hasFiniteTerm() bool {
	return c.Evaluation || c.Subscription
}

func (c *Claims) validate() error {
	if c.IssuedAt == nil {
		return ErrMissingIssuedAt
	}
	if c.Organisation == "" {
		return ErrMissingOrganisation
	}
	if c.hasFiniteTerm() && c.LicenseExpires == nil {
		return ErrMissingLicenseExpires
	}
	if c.MaintenanceExpires == nil {
		if c.LicenseExpires == nil {
			return ErrMissingMaintenanceExpires
		}
		// Finite term licenses are maintained for as long as they run.
		c.MaintenanceExpires = c.LicenseExpires
	}
	if c.LicenseType == "" {
		c.LicenseType = TypeCommercial
	}
	if c.MaxUsers <= 0 {
		c.MaxUsers = UnlimitedUsers
	}
	return nil
}
