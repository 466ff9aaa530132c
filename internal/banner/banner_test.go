// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package banner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/licman/internal/license"
	"github.com/autobrr/licman/internal/license/licensetest"
)

var (
	now    = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	issued = now.AddDate(-1, 0, 0)
)

type memoryStore struct {
	mu    sync.Mutex
	props map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{props: map[string]string{}}
}

func propKey(userID int, key string) string {
	return fmt.Sprintf("%d/%s", userID, key)
}

func (s *memoryStore) GetUserProperty(_ context.Context, userID int, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.props[propKey(userID, key)]
	return v, ok, nil
}

func (s *memoryStore) SetUserProperty(_ context.Context, userID int, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[propKey(userID, key)] = value
	return nil
}

func (s *memoryStore) DeleteUserProperty(_ context.Context, userID int, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.props, propKey(userID, key))
	return nil
}

func (s *memoryStore) DeleteUserPropertyForAll(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.props {
		var id int
		var name string
		if _, err := fmt.Sscanf(k, "%d/%s", &id, &name); err == nil && name == key {
			delete(s.props, k)
		}
	}
	return nil
}

type env struct {
	helper  *Helper
	store   *memoryStore
	clock   *quartz.Mock
	signer  *licensetest.Signer
	factory *license.Factory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(now)
	signer := licensetest.NewSigner(t, licensetest.DefaultKeyID)
	store := newMemoryStore()
	return &env{
		helper:  NewHelper(store),
		store:   store,
		clock:   clock,
		signer:  signer,
		factory: license.NewFactory(signer.Decoder(), clock),
	}
}

func (e *env) details(t *testing.T, claims license.Claims) license.Details {
	t.Helper()
	d, err := e.factory.Decode(e.signer.Sign(t, claims))
	require.NoError(t, err)
	return d
}

func kinds(banners []Banner) []Kind {
	out := make([]Kind, 0, len(banners))
	for _, b := range banners {
		out = append(out, b.Kind)
	}
	return out
}

func TestNextThreshold(t *testing.T) {
	tests := []struct {
		days int
		want int
		ok   bool
	}{
		{days: 90, want: 45, ok: true},
		{days: 46, want: 45, ok: true},
		{days: 45, want: 30, ok: true},
		{days: 31, want: 30, ok: true},
		{days: 30, want: 15, ok: true},
		{days: 16, want: 15, ok: true},
		{days: 15, want: 7, ok: true},
		{days: 8, want: 7, ok: true},
		{days: 7},
		{days: 1},
		{days: 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d days", tt.days), func(t *testing.T) {
			got, ok := NextThreshold(tt.days)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBanners_Visibility(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	tests := []struct {
		name      string
		details   license.Details
		clustered bool
		want      []Kind
	}{
		{name: "no license", details: license.NullDetails{}, want: []Kind{}},
		{name: "no license clustered", details: license.NullDetails{}, clustered: true, want: []Kind{KindClustering}},
		{
			name:    "healthy subscription",
			details: e.details(t, licensetest.Subscription(issued, now.AddDate(0, 6, 0))),
			want:    []Kind{},
		},
		{
			name:    "subscription almost expired",
			details: e.details(t, licensetest.Subscription(issued, now.AddDate(0, 0, 40))),
			want:    []Kind{KindExpiry},
		},
		{
			name:    "evaluation outside warning window",
			details: e.details(t, licensetest.Evaluation(issued, now.AddDate(0, 0, 20))),
			want:    []Kind{},
		},
		{
			name:    "evaluation expired",
			details: e.details(t, licensetest.Evaluation(issued, now.AddDate(0, 0, -1))),
			want:    []Kind{KindExpiry},
		},
		{
			name:    "perpetual maintenance ending",
			details: e.details(t, licensetest.Perpetual(issued, now.AddDate(0, 0, 20))),
			want:    []Kind{KindMaintenance},
		},
		{
			name:      "clustered perpetual",
			details:   e.details(t, licensetest.Perpetual(issued, now.AddDate(0, 0, -20))),
			clustered: true,
			want:      []Kind{KindClustering, KindMaintenance},
		},
		{
			name:      "clustered data center",
			details:   e.details(t, licensetest.DataCenter(issued, now.AddDate(1, 0, 0))),
			clustered: true,
			want:      []Kind{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			banners, err := e.helper.Banners(ctx, 1, tt.details, tt.clustered)
			require.NoError(t, err)
			assert.Equal(t, tt.want, kinds(banners))
		})
	}
}

func TestRemindLater_HidesUntilNextThreshold(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	d := e.details(t, licensetest.Subscription(issued, now.AddDate(0, 0, 40)))

	banners, err := e.helper.Banners(ctx, 1, d, false)
	require.NoError(t, err)
	require.Len(t, banners, 1)
	assert.True(t, banners[0].CanRemindLater)
	assert.False(t, banners[0].CanRemindNever)
	assert.Equal(t, "Acme Corp", banners[0].Message.Args[license.ArgOrganisation])

	require.NoError(t, e.helper.RemindLater(ctx, 1, KindExpiry, d))
	value, ok, _ := e.store.GetUserProperty(ctx, 1, KeyExpiryHideUntil)
	require.True(t, ok)
	assert.Equal(t, d.Hash()+":30", value)

	banners, err = e.helper.Banners(ctx, 1, d, false)
	require.NoError(t, err)
	assert.Empty(t, banners, "deferred banner should be hidden")

	other, err := e.helper.Banners(ctx, 2, d, false)
	require.NoError(t, err)
	assert.Len(t, other, 1, "deferral is per user")

	// 31 days left: still hidden
	e.clock.Advance(9 * 24 * time.Hour)
	banners, err = e.helper.Banners(ctx, 1, d, false)
	require.NoError(t, err)
	assert.Empty(t, banners)

	// 30 days left: back
	e.clock.Advance(24 * time.Hour)
	banners, err = e.helper.Banners(ctx, 1, d, false)
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindExpiry}, kinds(banners))
}

func TestRemindLater_CannotDefer(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	expired := e.details(t, licensetest.Subscription(issued, now.AddDate(0, 0, -3)))
	assert.ErrorIs(t, e.helper.RemindLater(ctx, 1, KindExpiry, expired), ErrCannotDefer)

	lastWeek := e.details(t, licensetest.Evaluation(issued, now.AddDate(0, 0, 5)))
	assert.ErrorIs(t, e.helper.RemindLater(ctx, 1, KindExpiry, lastWeek), ErrCannotDefer)

	banners, err := e.helper.Banners(ctx, 1, lastWeek, false)
	require.NoError(t, err)
	require.Len(t, banners, 1)
	assert.False(t, banners[0].CanRemindLater)

	assert.ErrorIs(t, e.helper.RemindLater(ctx, 1, KindExpiry, license.NullDetails{}), ErrNoLicense)
	assert.ErrorIs(t, e.helper.RemindLater(ctx, 1, KindClustering, lastWeek), ErrCannotDefer)
	assert.ErrorIs(t, e.helper.RemindLater(ctx, 1, Kind("bogus"), lastWeek), ErrUnknownKind)
}

func TestExpiredBannerIgnoresStoredDeferral(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	d := e.details(t, licensetest.Subscription(issued, now.AddDate(0, 0, 10)))

	require.NoError(t, e.helper.RemindLater(ctx, 1, KindExpiry, d))
	banners, err := e.helper.Banners(ctx, 1, d, false)
	require.NoError(t, err)
	assert.Empty(t, banners)

	e.clock.Advance(11 * 24 * time.Hour)
	banners, err = e.helper.Banners(ctx, 1, d, false)
	require.NoError(t, err)
	require.Len(t, banners, 1)
	assert.Equal(t, license.KeyExpiryExpired, banners[0].Message.Key)
}

func TestRemindNever(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	d := e.details(t, licensetest.Perpetual(issued, now.AddDate(0, 0, -1)))

	assert.ErrorIs(t, e.helper.RemindNever(ctx, 1, KindExpiry, d), ErrNotDismissible)
	assert.ErrorIs(t, e.helper.RemindLater(ctx, 1, KindMaintenance, d), ErrCannotDefer)

	require.NoError(t, e.helper.RemindNever(ctx, 1, KindMaintenance, d))
	banners, err := e.helper.Banners(ctx, 1, d, false)
	require.NoError(t, err)
	assert.Empty(t, banners)

	// a new license brings the banner back
	renewed := e.details(t, licensetest.Perpetual(now, now.AddDate(0, 0, 10)))
	banners, err = e.helper.Banners(ctx, 1, renewed, false)
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindMaintenance}, kinds(banners))
}

func TestDeferralScopedToLicense(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	first := e.details(t, licensetest.Subscription(issued, now.AddDate(0, 0, 40)))
	require.NoError(t, e.helper.RemindLater(ctx, 1, KindExpiry, first))

	claims := licensetest.Subscription(issued, now.AddDate(0, 0, 40))
	claims.ID = "lic-renewed"
	second := e.details(t, claims)

	banners, err := e.helper.Banners(ctx, 1, second, false)
	require.NoError(t, err)
	assert.Len(t, banners, 1, "deferral of another license must not apply")
}

func TestReset(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	d := e.details(t, licensetest.Perpetual(issued, now.AddDate(0, 0, 40)))

	for _, user := range []int{1, 2} {
		require.NoError(t, e.helper.RemindLater(ctx, user, KindMaintenance, d))
		require.NoError(t, e.helper.RemindNever(ctx, user, KindMaintenance, d))
	}
	require.NoError(t, e.store.SetUserProperty(ctx, 1, "user.locale", "de"))

	require.NoError(t, e.helper.Reset(ctx))

	for _, user := range []int{1, 2} {
		banners, err := e.helper.Banners(ctx, user, d, false)
		require.NoError(t, err)
		assert.Len(t, banners, 1)
	}
	_, ok, _ := e.store.GetUserProperty(ctx, 1, "user.locale")
	assert.True(t, ok, "unrelated properties survive a reset")
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Maintenance")
	require.NoError(t, err)
	assert.Equal(t, KindMaintenance, k)

	_, err = ParseKind("bogus")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseHideUntil(t *testing.T) {
	hash, days, ok := parseHideUntil(formatHideUntil("abc", 15))
	require.True(t, ok)
	assert.Equal(t, "abc", hash)
	assert.Equal(t, 15, days)

	_, _, ok = parseHideUntil("abc")
	assert.False(t, ok)
	_, _, ok = parseHideUntil("abc:x")
	assert.False(t, ok)
}
