// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licman/internal/banner"
	"github.com/autobrr/licman/internal/license"
	"github.com/autobrr/licman/internal/models"
)

const DefaultCheckInterval = time.Hour

// LicenseOptions configures a LicenseService.
type LicenseOptions struct {
	// BuildDate is when the running binary was built. Zero skips the check.
	BuildDate     time.Time
	Clustered     bool
	CheckInterval time.Duration
	Clock         quartz.Clock
}

// LicenseService owns the installed license and everything derived from it.
type LicenseService struct {
	licenses *models.LicenseStore
	factory  *license.Factory
	banners  *banner.Helper
	roles    *license.RoleGroupCache
	clock    quartz.Clock

	buildDate     time.Time
	checkInterval time.Duration
	clustered     atomic.Bool

	mu      sync.Mutex
	raw     string
	details license.Details

	stateMu      sync.Mutex
	lastState    license.State
	onTransition func(from, to license.State)
}

func NewLicenseService(licenses *models.LicenseStore, decoder license.Decoder, banners *banner.Helper, roles *license.RoleGroupCache, opts LicenseOptions) *LicenseService {
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	interval := opts.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	s := &LicenseService{
		licenses:      licenses,
		factory:       license.NewFactory(decoder, clock),
		banners:       banners,
		roles:         roles,
		clock:         clock,
		buildDate:     opts.BuildDate,
		checkInterval: interval,
		details:       license.NullDetails{},
	}
	s.clustered.Store(opts.Clustered)
	return s
}

// Status is the full license picture shown to administrators.
type Status struct {
	LicenseSet  bool            `json:"licenseSet"`
	State       license.State   `json:"state"`
	Usable      bool            `json:"usable"`
	Clustered   bool            `json:"clustered"`
	Status      license.Message `json:"status"`
	Expiry      license.Message `json:"expiry"`
	Maintenance license.Message `json:"maintenance"`

	InstanceServerID string `json:"instanceServerId"`

	LicenseID      string         `json:"licenseId,omitempty"`
	Organisation   string         `json:"organisation,omitempty"`
	Description    string         `json:"description,omitempty"`
	LicenseType    license.Type   `json:"licenseType,omitempty"`
	Partner        string         `json:"partner,omitempty"`
	ServerID       string         `json:"serverId,omitempty"`
	MaxUsers       int            `json:"maxUsers,omitempty"`
	UnlimitedUsers bool           `json:"unlimitedUsers"`
	Roles          map[string]int `json:"roles,omitempty"`

	Evaluation   bool `json:"evaluation"`
	Subscription bool `json:"subscription"`
	ELA          bool `json:"ela"`
	DataCenter   bool `json:"dataCenter"`
	Perpetual    bool `json:"perpetual"`

	IssuedAt                *time.Time `json:"issuedAt,omitempty"`
	ExpiryDate              *time.Time `json:"expiryDate,omitempty"`
	MaintenanceExpiryDate   *time.Time `json:"maintenanceExpiryDate,omitempty"`
	DaysToExpiry            *int       `json:"daysToExpiry,omitempty"`
	DaysToMaintenanceExpiry *int       `json:"daysToMaintenanceExpiry,omitempty"`
	ValidForBuild           bool       `json:"validForBuild"`
}

func (s *LicenseService) Clock() quartz.Clock {
	return s.clock
}

func (s *LicenseService) Clustered() bool {
	return s.clustered.Load()
}

func (s *LicenseService) SetClustered(clustered bool) {
	if s.clustered.Swap(clustered) != clustered {
		log.Info().Bool("clustered", clustered).Msg("Cluster mode changed")
	}
}

// Details returns the installed license, re-decoding only when the stored
// string changed.
func (s *LicenseService) Details(ctx context.Context) (license.Details, error) {
	raw, err := s.licenses.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load license")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if raw != s.raw || s.details == nil {
		s.raw = raw
		s.details = s.factory.Details(raw)
	}
	return s.details, nil
}

// State evaluates the current license state.
func (s *LicenseService) State(ctx context.Context) (license.State, license.Details, error) {
	d, err := s.Details(ctx)
	if err != nil {
		return "", nil, err
	}
	return license.Evaluate(d, s.Clustered()), d, nil
}

func (s *LicenseService) GetStatus(ctx context.Context) (*Status, error) {
	state, d, err := s.State(ctx)
	if err != nil {
		return nil, err
	}

	serverID, err := s.licenses.ServerID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load server id")
	}

	status := &Status{
		LicenseSet:       d.IsLicenseSet(),
		State:            state,
		Usable:           state.Usable(),
		Clustered:        s.Clustered(),
		Status:           license.StatusMessage(d, state),
		Expiry:           license.ExpiryMessage(d),
		Maintenance:      license.MaintenanceMessage(d),
		InstanceServerID: serverID,
	}
	if !d.IsLicenseSet() {
		return status, nil
	}

	status.LicenseID = d.LicenseID()
	status.Organisation = d.Organisation()
	status.Description = d.Description()
	status.LicenseType = d.LicenseType()
	status.Partner = d.Partner()
	status.ServerID = d.ServerID()
	status.MaxUsers = d.MaxUsers()
	status.UnlimitedUsers = d.IsUnlimitedUsers()
	status.Roles = d.Roles()
	status.Evaluation = d.IsEvaluation()
	status.Subscription = d.IsSubscription()
	status.ELA = d.IsELA()
	status.DataCenter = d.IsDataCenter()
	status.Perpetual = d.IsPerpetual()
	status.ValidForBuild = d.IsValidForBuildDate(s.buildDate)

	issued := d.IssuedAt()
	status.IssuedAt = &issued
	if end, ok := d.ExpiryDate(); ok {
		days := d.DaysToLicenseExpiry()
		status.ExpiryDate = &end
		status.DaysToExpiry = &days
	}
	if end, ok := d.MaintenanceExpiryDate(); ok {
		days := d.DaysToMaintenanceExpiry()
		status.MaintenanceExpiryDate = &end
		status.DaysToMaintenanceExpiry = &days
	}

	return status, nil
}

// SetLicense validates raw and installs it. Rejections are *license.Error
// values carrying a message key.
func (s *LicenseService) SetLicense(ctx context.Context, raw string) (license.Details, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, license.NewError(license.ErrKeyEmpty, license.ErrEmpty)
	}

	d, err := s.factory.Decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("license", license.MaskLicense(raw)).Msg("Rejected license")
		return nil, license.NewError(license.ErrKeyInvalid, err)
	}

	if bound := d.ServerID(); bound != "" {
		serverID, err := s.licenses.ServerID(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load server id")
		}
		if !strings.EqualFold(bound, serverID) {
			return nil, license.NewError(license.ErrKeyServerMismatch,
				fmt.Errorf("license is bound to server %s, this server is %s", bound, serverID))
		}
	}

	if !d.IsValidForBuildDate(s.buildDate) {
		end, _ := d.MaintenanceExpiryDate()
		return nil, license.NewError(license.ErrKeyBuildTooNew,
			fmt.Errorf("build from %s is newer than maintenance end %s", s.buildDate.Format(time.DateOnly), end.Format(time.DateOnly)))
	}

	if err := s.licenses.Set(ctx, raw); err != nil {
		return nil, errors.Wrap(err, "failed to store license")
	}

	s.mu.Lock()
	s.raw, s.details = raw, d
	s.mu.Unlock()

	s.licenseChanged(ctx)

	log.Info().
		Str("licenseID", d.LicenseID()).
		Str("organisation", d.Organisation()).
		Str("license", license.MaskLicense(raw)).
		Msg("License installed")

	return d, nil
}

func (s *LicenseService) ClearLicense(ctx context.Context) error {
	if err := s.licenses.Clear(ctx); err != nil {
		return errors.Wrap(err, "failed to clear license")
	}

	s.mu.Lock()
	s.raw, s.details = "", license.NullDetails{}
	s.mu.Unlock()

	s.licenseChanged(ctx)

	log.Info().Msg("License removed")
	return nil
}

func (s *LicenseService) licenseChanged(ctx context.Context) {
	if err := s.banners.Reset(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to reset license banners")
	}
	s.roles.Invalidate()
}

// Banners lists the license banners userID should see.
func (s *LicenseService) Banners(ctx context.Context, userID int) ([]banner.Banner, error) {
	d, err := s.Details(ctx)
	if err != nil {
		return nil, err
	}
	return s.banners.Banners(ctx, userID, d, s.Clustered())
}

func (s *LicenseService) RemindLater(ctx context.Context, userID int, kind banner.Kind) error {
	d, err := s.Details(ctx)
	if err != nil {
		return err
	}
	return s.banners.RemindLater(ctx, userID, kind, d)
}

func (s *LicenseService) RemindNever(ctx context.Context, userID int, kind banner.Kind) error {
	d, err := s.Details(ctx)
	if err != nil {
		return err
	}
	return s.banners.RemindNever(ctx, userID, kind, d)
}

// RoleMapping is a licensed role and the groups granted it.
type RoleMapping struct {
	Role   string   `json:"role"`
	Seats  int      `json:"seats"`
	Groups []string `json:"groups"`
}

// Roles lists every role in the installed license with its groups.
func (s *LicenseService) Roles(ctx context.Context) ([]RoleMapping, error) {
	d, err := s.Details(ctx)
	if err != nil {
		return nil, err
	}

	seats := d.Roles()
	names := make([]string, 0, len(seats))
	for role := range seats {
		names = append(names, role)
	}
	sort.Strings(names)

	mappings := make([]RoleMapping, 0, len(names))
	for _, role := range names {
		groups, err := s.roles.Groups(ctx, role)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load groups for role %s", role)
		}
		mappings = append(mappings, RoleMapping{Role: role, Seats: seats[role], Groups: groups})
	}
	return mappings, nil
}

func (s *LicenseService) RoleGroups(ctx context.Context, role string) ([]string, error) {
	if err := s.requireLicensedRole(ctx, role); err != nil {
		return nil, err
	}
	return s.roles.Groups(ctx, role)
}

func (s *LicenseService) SetRoleGroups(ctx context.Context, role string, groups []string) error {
	if err := s.requireLicensedRole(ctx, role); err != nil {
		return err
	}
	return s.roles.SetGroups(ctx, role, groups)
}

func (s *LicenseService) AddRoleGroup(ctx context.Context, role, group string) error {
	if err := s.requireLicensedRole(ctx, role); err != nil {
		return err
	}
	return s.roles.AddGroup(ctx, role, group)
}

func (s *LicenseService) RemoveRoleGroup(ctx context.Context, role, group string) error {
	if err := s.requireLicensedRole(ctx, role); err != nil {
		return err
	}
	return s.roles.RemoveGroup(ctx, role, group)
}

// SearchGroups returns every mapped group matching query.
func (s *LicenseService) SearchGroups(ctx context.Context, query string) ([]string, error) {
	all, err := s.roles.All(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list role groups")
	}

	seen := make(map[string]struct{})
	var groups []string
	for _, gs := range all {
		for _, g := range gs {
			if _, ok := seen[g]; !ok {
				seen[g] = struct{}{}
				groups = append(groups, g)
			}
		}
	}
	return license.SearchGroups(query, groups), nil
}

// RoleGroupCounts reports how many groups each role is mapped to.
func (s *LicenseService) RoleGroupCounts(ctx context.Context) (map[string]int, error) {
	all, err := s.roles.All(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(all))
	for role, groups := range all {
		counts[role] = len(groups)
	}
	return counts, nil
}

// ClearRoleCache drops cached role mappings.
func (s *LicenseService) ClearRoleCache() {
	s.roles.Invalidate()
}

func (s *LicenseService) requireLicensedRole(ctx context.Context, role string) error {
	d, err := s.Details(ctx)
	if err != nil {
		return err
	}
	if _, ok := d.Roles()[role]; !ok {
		return license.NewError(license.ErrKeyRoleNotLicensed, fmt.Errorf("role %q is not in the installed license", role)).With(license.ArgRole, role)
	}
	return nil
}

// OnTransition registers fn to be called by Monitor whenever the state changes.
func (s *LicenseService) OnTransition(fn func(from, to license.State)) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.onTransition = fn
}

// Monitor re-evaluates the license state on every check interval until ctx is
// done, logging each transition.
func (s *LicenseService) Monitor(ctx context.Context) {
	ticker := s.clock.NewTicker(s.checkInterval, "license", "monitor")
	defer ticker.Stop()

	s.check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *LicenseService) check(ctx context.Context) {
	state, d, err := s.State(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to evaluate license state")
		return
	}

	s.stateMu.Lock()
	from := s.lastState
	s.lastState = state
	fn := s.onTransition
	s.stateMu.Unlock()

	if from == state {
		return
	}
	if from == "" {
		log.Info().
			Str("state", string(state)).
			Str("organisation", d.Organisation()).
			Msg("License state")
		return
	}

	event := log.Info()
	switch state.Severity() {
	case license.SeverityError:
		event = log.Error()
	case license.SeverityWarning:
		event = log.Warn()
	}
	event.
		Str("from", string(from)).
		Str("to", string(state)).
		Str("organisation", d.Organisation()).
		Int("daysToExpiry", d.DaysToLicenseExpiry()).
		Int("daysToMaintenanceExpiry", d.DaysToMaintenanceExpiry()).
		Msg("License state changed")

	if fn != nil {
		fn(from, state)
	}
}
