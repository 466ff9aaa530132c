// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"strings"

	"github.com/coder/quartz"
	"github.com/rs/zerolog/log"
)

// Factory builds Details values from stored license strings.
type Factory struct {
	decoder Decoder
	clock   quartz.Clock
}

// NewFactory creates a factory. A nil clock means the wall clock.
func NewFactory(decoder Decoder, clock quartz.Clock) *Factory {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Factory{
		decoder: decoder,
		clock:   clock,
	}
}

// Details never fails: an empty or undecodable license yields NullDetails.
func (f *Factory) Details(raw string) Details {
	if strings.TrimSpace(raw) == "" {
		return NullDetails{}
	}

	details, err := f.Decode(raw)
	if err != nil {
		log.Warn().
			Err(err).
			Str("license", MaskLicense(raw)).
			Msg("Stored license could not be decoded, treating instance as unlicensed")
		return NullDetails{}
	}
	return details
}

// Decode is Details for callers that need to know why a license was rejected.
func (f *Factory) Decode(raw string) (Details, error) {
	claims, err := f.decoder.Decode(raw)
	if err != nil {
		return nil, err
	}

	if !claims.Evaluation && (claims.Subscription || (claims.DataCenter && claims.LicenseExpires != nil)) {
		return newSubscriptionDetails(raw, claims, f.clock), nil
	}
	return newDefaultDetails(raw, claims, f.clock), nil
}

// Clock returns the clock details are evaluated against.
func (f *Factory) Clock() quartz.Clock {
	return f.clock
}

// MaskLicense shortens a license string for logging (first 8 chars + ***).
func MaskLicense(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= 8 {
		return "***"
	}
	return raw[:8] + "***"
}
