// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"

	"github.com/google/uuid"
)

// Application property keys.
const (
	KeyLicenseString = "license.string"
	KeyServerID      = "server.id"
	KeyUserLocale    = "user.locale"
)

// LicenseStore keeps the installed license string verbatim.
type LicenseStore struct {
	props *PropertyStore
}

func NewLicenseStore(props *PropertyStore) *LicenseStore {
	return &LicenseStore{props: props}
}

// Get returns the stored license, or "" when none is installed.
func (s *LicenseStore) Get(ctx context.Context) (string, error) {
	raw, _, err := s.props.GetAppProperty(ctx, KeyLicenseString)
	return raw, err
}

func (s *LicenseStore) Set(ctx context.Context, raw string) error {
	return s.props.SetAppProperty(ctx, KeyLicenseString, raw)
}

func (s *LicenseStore) Clear(ctx context.Context) error {
	return s.props.DeleteAppProperty(ctx, KeyLicenseString)
}

// ServerID returns the identifier licenses can be bound to, creating it on
// first use.
func (s *LicenseStore) ServerID(ctx context.Context) (string, error) {
	return s.props.SetIfAbsent(ctx, EntityApp, appEntityID, KeyServerID, uuid.NewString())
}
