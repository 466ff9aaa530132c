// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/licman/internal/banner"
	"github.com/autobrr/licman/internal/database"
	"github.com/autobrr/licman/internal/license"
	"github.com/autobrr/licman/internal/license/licensetest"
	"github.com/autobrr/licman/internal/models"
)

var (
	now    = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	issued = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc    *LicenseService
	signer *licensetest.Signer
	clock  *quartz.Mock
	props  *models.PropertyStore
}

func newFixture(t *testing.T, opts LicenseOptions) *fixture {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "licman.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := quartz.NewMock(t)
	clock.Set(now)
	opts.Clock = clock

	props := models.NewPropertyStore(db.Conn())
	roles, err := license.NewRoleGroupCache(models.NewRoleGroupStore(db.Conn()))
	require.NoError(t, err)
	t.Cleanup(roles.Close)

	signer := licensetest.NewSigner(t, licensetest.DefaultKeyID)
	svc := NewLicenseService(models.NewLicenseStore(props), signer.Decoder(), banner.NewHelper(props), roles, opts)

	return &fixture{svc: svc, signer: signer, clock: clock, props: props}
}

func requireLicenseError(t *testing.T, err error, key string) {
	t.Helper()
	var licErr *license.Error
	require.ErrorAs(t, err, &licErr)
	assert.Equal(t, key, licErr.Key)
}

func TestLicenseService_SetLicense(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, LicenseOptions{})

	status, err := f.svc.GetStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.LicenseSet)
	assert.Equal(t, license.StateUnlicensed, status.State)
	assert.False(t, status.Usable)
	assert.NotEmpty(t, status.InstanceServerID)

	raw := f.signer.Sign(t, licensetest.Subscription(issued, now.AddDate(0, 0, 90)))
	d, err := f.svc.SetLicense(ctx, "  "+raw+"\n")
	require.NoError(t, err)
	assert.True(t, d.IsSubscription())

	status, err = f.svc.GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.LicenseSet)
	assert.Equal(t, license.StateSubscriptionActive, status.State)
	assert.True(t, status.Usable)
	assert.Equal(t, "Acme Corp", status.Organisation)
	assert.Equal(t, map[string]int{"editor": 20, "viewer": 100}, status.Roles)
	require.NotNil(t, status.DaysToExpiry)
	assert.Equal(t, 90, *status.DaysToExpiry)
	assert.True(t, status.ValidForBuild)

	stored, _, err := f.props.GetAppProperty(ctx, models.KeyLicenseString)
	require.NoError(t, err)
	assert.Equal(t, raw, stored, "surrounding whitespace is not stored")

	again, err := f.svc.SetLicense(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, again.Hash(), d.Hash())
}

func TestLicenseService_SetLicenseRejections(t *testing.T) {
	ctx := t.Context()

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t, LicenseOptions{})
		_, err := f.svc.SetLicense(ctx, " \t ")
		requireLicenseError(t, err, license.ErrKeyEmpty)
		assert.ErrorIs(t, err, license.ErrEmpty)
	})

	t.Run("garbage", func(t *testing.T) {
		f := newFixture(t, LicenseOptions{})
		_, err := f.svc.SetLicense(ctx, "not-a-license")
		requireLicenseError(t, err, license.ErrKeyInvalid)
	})

	t.Run("other server", func(t *testing.T) {
		f := newFixture(t, LicenseOptions{})
		claims := licensetest.Subscription(issued, now.AddDate(1, 0, 0))
		claims.ServerID = "11111111-2222-3333-4444-555555555555"
		_, err := f.svc.SetLicense(ctx, f.signer.Sign(t, claims))
		requireLicenseError(t, err, license.ErrKeyServerMismatch)
	})

	t.Run("this server in another case", func(t *testing.T) {
		f := newFixture(t, LicenseOptions{})
		serverID, err := models.NewLicenseStore(f.props).ServerID(ctx)
		require.NoError(t, err)

		claims := licensetest.Subscription(issued, now.AddDate(1, 0, 0))
		claims.ServerID = strings.ToUpper(serverID)
		_, err = f.svc.SetLicense(ctx, f.signer.Sign(t, claims))
		require.NoError(t, err)
	})

	t.Run("build newer than maintenance", func(t *testing.T) {
		f := newFixture(t, LicenseOptions{BuildDate: now})
		_, err := f.svc.SetLicense(ctx, f.signer.Sign(t, licensetest.Perpetual(issued, now.AddDate(0, 0, -1))))
		requireLicenseError(t, err, license.ErrKeyBuildTooNew)

		status, err := f.svc.GetStatus(ctx)
		require.NoError(t, err)
		assert.False(t, status.LicenseSet, "rejected license must not be stored")
	})
}

func TestLicenseService_ClearLicense(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, LicenseOptions{})

	_, err := f.svc.SetLicense(ctx, f.signer.Sign(t, licensetest.Perpetual(issued, now.AddDate(0, 0, 20))))
	require.NoError(t, err)

	require.NoError(t, f.svc.RemindLater(ctx, 1, banner.KindMaintenance))
	banners, err := f.svc.Banners(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, banners)

	require.NoError(t, f.svc.ClearLicense(ctx))
	state, _, err := f.svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.StateUnlicensed, state)

	_, ok, err := f.props.GetUserProperty(ctx, 1, banner.KeyMaintenanceHideUntil)
	require.NoError(t, err)
	assert.False(t, ok, "license change resets banner deferrals")
}

func TestLicenseService_Clustered(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, LicenseOptions{Clustered: true})

	_, err := f.svc.SetLicense(ctx, f.signer.Sign(t, licensetest.Subscription(issued, now.AddDate(1, 0, 0))))
	require.NoError(t, err)

	state, _, err := f.svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.StateUnlicensedClustering, state)

	_, err = f.svc.SetLicense(ctx, f.signer.Sign(t, licensetest.DataCenter(issued, now.AddDate(1, 0, 0))))
	require.NoError(t, err)
	state, _, err = f.svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.StateSubscriptionActive, state)

	f.svc.SetClustered(false)
	assert.False(t, f.svc.Clustered())
}

func TestLicenseService_Roles(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, LicenseOptions{})

	err := f.svc.AddRoleGroup(ctx, "editor", "writers")
	requireLicenseError(t, err, license.ErrKeyRoleNotLicensed)

	_, err = f.svc.SetLicense(ctx, f.signer.Sign(t, licensetest.Subscription(issued, now.AddDate(1, 0, 0))))
	require.NoError(t, err)

	require.NoError(t, f.svc.AddRoleGroup(ctx, "editor", "writers"))
	require.NoError(t, f.svc.SetRoleGroups(ctx, "viewer", []string{"staff", "contractors"}))

	err = f.svc.AddRoleGroup(ctx, "admin", "root")
	requireLicenseError(t, err, license.ErrKeyRoleNotLicensed)

	mappings, err := f.svc.Roles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []RoleMapping{
		{Role: "editor", Seats: 20, Groups: []string{"writers"}},
		{Role: "viewer", Seats: 100, Groups: []string{"contractors", "staff"}},
	}, mappings)

	groups, err := f.svc.SearchGroups(ctx, "stf")
	require.NoError(t, err)
	assert.Equal(t, []string{"staff"}, groups)

	counts, err := f.svc.RoleGroupCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"editor": 1, "viewer": 2}, counts)

	require.NoError(t, f.svc.RemoveRoleGroup(ctx, "editor", "writers"))
	groups, err = f.svc.RoleGroups(ctx, "editor")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestLicenseService_Monitor(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	f := newFixture(t, LicenseOptions{CheckInterval: 24 * time.Hour})
	_, err := f.svc.SetLicense(ctx, f.signer.Sign(t, licensetest.Evaluation(issued, now.AddDate(0, 0, 8))))
	require.NoError(t, err)

	type transition struct{ from, to license.State }
	transitions := make(chan transition, 4)
	f.svc.OnTransition(func(from, to license.State) {
		transitions <- transition{from, to}
	})

	// the first evaluation only records the state
	f.svc.check(ctx)
	assert.Empty(t, transitions)

	trap := f.clock.Trap().NewTicker("license", "monitor")
	defer trap.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.svc.Monitor(ctx)
	}()

	call := trap.MustWait(ctx)
	call.MustRelease(ctx)

	// 7 days left
	f.clock.Advance(24 * time.Hour).MustWait(ctx)
	require.Equal(t, transition{license.StateEvaluationActive, license.StateEvaluationAlmostExpired}, <-transitions)

	for range 6 {
		f.clock.Advance(24 * time.Hour).MustWait(ctx)
	}
	f.clock.Advance(24 * time.Hour).MustWait(ctx)
	require.Equal(t, transition{license.StateEvaluationAlmostExpired, license.StateEvaluationExpired}, <-transitions)

	cancel()
	<-done
	assert.Empty(t, transitions)
}

func TestLicenseService_CheckTransitions(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, LicenseOptions{})

	var transitions [][2]license.State
	f.svc.OnTransition(func(from, to license.State) {
		transitions = append(transitions, [2]license.State{from, to})
	})

	f.svc.check(ctx)
	f.svc.check(ctx)
	assert.Empty(t, transitions, "startup and unchanged state are not transitions")

	_, err := f.svc.SetLicense(ctx, f.signer.Sign(t, licensetest.Subscription(issued, now.AddDate(1, 0, 0))))
	require.NoError(t, err)
	f.svc.check(ctx)

	assert.Equal(t, [][2]license.State{{license.StateUnlicensed, license.StateSubscriptionActive}}, transitions)
}
