// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package banner decides which license banners a user sees and remembers
// when a user asked to be reminded later.
//
// A deferral is stored as "<license hash>:<days>" and hides the banner until
// the number of days left drops to or below <days>. Replacing the license
// changes the hash, which invalidates every stored deferral.
package banner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/licman/internal/license"
)

type Kind string

const (
	KindExpiry      Kind = "expiry"
	KindMaintenance Kind = "maintenance"
	KindClustering  Kind = "clustering"
)

// User property keys.
const (
	KeyExpiryHideUntil      = "license.banner.expiry.hide_until"
	KeyMaintenanceHideUntil = "license.banner.maintenance.hide_until"
	KeyMaintenanceNever     = "license.banner.maintenance.never"
)

// Thresholds are the day counts a deferred banner reappears at, largest first.
var Thresholds = []int{45, 30, 15, 7}

var (
	ErrUnknownKind    = errors.New("unknown banner kind")
	ErrCannotDefer    = errors.New("banner cannot be deferred any further")
	ErrNotDismissible = errors.New("banner cannot be dismissed permanently")
	ErrNoLicense      = errors.New("no license installed")
)

// PropertyStore is the per-user key/value storage banners are kept in.
type PropertyStore interface {
	GetUserProperty(ctx context.Context, userID int, key string) (string, bool, error)
	SetUserProperty(ctx context.Context, userID int, key, value string) error
	DeleteUserProperty(ctx context.Context, userID int, key string) error
	DeleteUserPropertyForAll(ctx context.Context, key string) error
}

type Banner struct {
	Kind           Kind            `json:"kind"`
	Message        license.Message `json:"message"`
	CanRemindLater bool            `json:"canRemindLater"`
	CanRemindNever bool            `json:"canRemindNever"`
}

type Helper struct {
	store PropertyStore
}

func NewHelper(store PropertyStore) *Helper {
	return &Helper{store: store}
}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindExpiry, KindMaintenance, KindClustering:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// NextThreshold returns the largest threshold strictly below days.
func NextThreshold(days int) (int, bool) {
	for _, t := range Thresholds {
		if t < days {
			return t, true
		}
	}
	return 0, false
}

// Banners lists the banners userID should currently see.
func (h *Helper) Banners(ctx context.Context, userID int, d license.Details, clustered bool) ([]Banner, error) {
	banners := make([]Banner, 0, 3)

	if clustered && !d.IsDataCenter() {
		banners = append(banners, Banner{
			Kind:    KindClustering,
			Message: license.StatusMessage(d, license.StateUnlicensedClustering),
		})
	}

	if !d.IsLicenseSet() {
		return banners, nil
	}

	if _, ok := d.ExpiryDate(); ok && (d.IsExpired() || d.IsAlmostExpired()) {
		show, err := h.visible(ctx, userID, KeyExpiryHideUntil, d.Hash(), d.DaysToLicenseExpiry(), d.IsExpired())
		if err != nil {
			return nil, err
		}
		if show {
			banners = append(banners, Banner{
				Kind:           KindExpiry,
				Message:        withOrganisation(license.ExpiryMessage(d), d),
				CanRemindLater: canDefer(d.DaysToLicenseExpiry(), d.IsExpired()),
			})
		}
	}

	// Subscriptions are maintained for exactly their term, so the expiry
	// banner already covers them.
	if d.IsPerpetual() && (d.IsMaintenanceExpired() || d.IsMaintenanceAlmostExpired()) {
		never, err := h.dismissed(ctx, userID, d.Hash())
		if err != nil {
			return nil, err
		}
		if !never {
			show, err := h.visible(ctx, userID, KeyMaintenanceHideUntil, d.Hash(), d.DaysToMaintenanceExpiry(), d.IsMaintenanceExpired())
			if err != nil {
				return nil, err
			}
			if show {
				banners = append(banners, Banner{
					Kind:           KindMaintenance,
					Message:        withOrganisation(license.MaintenanceMessage(d), d),
					CanRemindLater: canDefer(d.DaysToMaintenanceExpiry(), d.IsMaintenanceExpired()),
					CanRemindNever: true,
				})
			}
		}
	}

	return banners, nil
}

// RemindLater hides a banner until the next threshold is reached.
func (h *Helper) RemindLater(ctx context.Context, userID int, kind Kind, d license.Details) error {
	if !d.IsLicenseSet() {
		return ErrNoLicense
	}

	var (
		key     string
		days    int
		expired bool
	)
	switch kind {
	case KindExpiry:
		key, days, expired = KeyExpiryHideUntil, d.DaysToLicenseExpiry(), d.IsExpired()
	case KindMaintenance:
		key, days, expired = KeyMaintenanceHideUntil, d.DaysToMaintenanceExpiry(), d.IsMaintenanceExpired()
	case KindClustering:
		return fmt.Errorf("%w: %s banner shows while the node is unlicensed", ErrCannotDefer, kind)
	default:
		return fmt.Errorf("%w: %q cannot be deferred", ErrUnknownKind, kind)
	}

	if expired {
		return ErrCannotDefer
	}
	threshold, ok := NextThreshold(days)
	if !ok {
		return ErrCannotDefer
	}

	if err := h.store.SetUserProperty(ctx, userID, key, formatHideUntil(d.Hash(), threshold)); err != nil {
		return fmt.Errorf("failed to store %s banner deferral: %w", kind, err)
	}

	log.Debug().Int("userID", userID).Str("kind", string(kind)).Int("daysLeft", days).Int("hideUntil", threshold).Msg("Banner deferred")
	return nil
}

// RemindNever hides the maintenance banner until the license changes.
func (h *Helper) RemindNever(ctx context.Context, userID int, kind Kind, d license.Details) error {
	if kind != KindMaintenance {
		return ErrNotDismissible
	}
	if !d.IsLicenseSet() {
		return ErrNoLicense
	}
	if err := h.store.SetUserProperty(ctx, userID, KeyMaintenanceNever, d.Hash()); err != nil {
		return fmt.Errorf("failed to dismiss maintenance banner: %w", err)
	}
	return nil
}

// Reset forgets every user's banner choices.
func (h *Helper) Reset(ctx context.Context) error {
	for _, key := range []string{KeyExpiryHideUntil, KeyMaintenanceHideUntil, KeyMaintenanceNever} {
		if err := h.store.DeleteUserPropertyForAll(ctx, key); err != nil {
			return fmt.Errorf("failed to reset banner %s: %w", key, err)
		}
	}
	log.Debug().Msg("Reset license banners for all users")
	return nil
}

func (h *Helper) visible(ctx context.Context, userID int, key, hash string, days int, expired bool) (bool, error) {
	if expired {
		return true, nil
	}

	value, ok, err := h.store.GetUserProperty(ctx, userID, key)
	if err != nil {
		return false, fmt.Errorf("failed to read banner state: %w", err)
	}
	if !ok {
		return true, nil
	}

	storedHash, hideUntil, ok := parseHideUntil(value)
	if !ok || storedHash != hash {
		return true, nil
	}
	return days <= hideUntil, nil
}

func (h *Helper) dismissed(ctx context.Context, userID int, hash string) (bool, error) {
	value, ok, err := h.store.GetUserProperty(ctx, userID, KeyMaintenanceNever)
	if err != nil {
		return false, fmt.Errorf("failed to read banner state: %w", err)
	}
	return ok && value == hash, nil
}

func canDefer(days int, expired bool) bool {
	if expired {
		return false
	}
	_, ok := NextThreshold(days)
	return ok
}

func withOrganisation(msg license.Message, d license.Details) license.Message {
	if msg.Args == nil {
		msg.Args = map[string]any{}
	}
	msg.Args[license.ArgOrganisation] = d.Organisation()
	return msg
}

func formatHideUntil(hash string, days int) string {
	return hash + ":" + strconv.Itoa(days)
}

func parseHideUntil(value string) (string, int, bool) {
	hash, days, ok := strings.Cut(value, ":")
	if !ok {
		return "", 0, false
	}
	n, err := strconv.Atoi(days)
	if err != nil {
		return "", 0, false
	}
	return hash, n, true
}
