// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/licman/internal/database"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { db.Close() })
	return db.Conn()
}

func TestPropertyStore(t *testing.T) {
	ctx := t.Context()
	store := NewPropertyStore(newTestDB(t))

	_, ok, err := store.GetAppProperty(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetAppProperty(ctx, "a", "1"))
	require.NoError(t, store.SetAppProperty(ctx, "a", "2"))
	value, ok, err := store.GetAppProperty(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", value, "set should overwrite")

	// user and app namespaces are separate
	_, ok, err = store.GetUserProperty(ctx, 0, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetUserProperty(ctx, 1, "banner", "x"))
	require.NoError(t, store.SetUserProperty(ctx, 2, "banner", "y"))
	require.NoError(t, store.SetUserProperty(ctx, 2, "user.locale", "de"))

	props, err := store.List(ctx, EntityUser, 2)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"banner": "y", "user.locale": "de"}, props)

	require.NoError(t, store.DeleteUserPropertyForAll(ctx, "banner"))
	for _, id := range []int{1, 2} {
		_, ok, err := store.GetUserProperty(ctx, id, "banner")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	_, ok, err = store.GetUserProperty(ctx, 2, "user.locale")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.DeleteAppProperty(ctx, "a"))
	_, ok, err = store.GetAppProperty(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := store.SetIfAbsent(ctx, EntityApp, 0, "once", "first")
	require.NoError(t, err)
	second, err := store.SetIfAbsent(ctx, EntityApp, 0, "once", "second")
	require.NoError(t, err)
	assert.Equal(t, "first", first)
	assert.Equal(t, "first", second)
}

func TestLicenseStore(t *testing.T) {
	ctx := t.Context()
	store := NewLicenseStore(NewPropertyStore(newTestDB(t)))

	raw, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, raw)

	// stored verbatim, whitespace included
	require.NoError(t, store.Set(ctx, " eyJ.payload.sig\n"))
	raw, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, " eyJ.payload.sig\n", raw)

	require.NoError(t, store.Clear(ctx))
	raw, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, raw)

	id, err := store.ServerID(ctx)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	again, err := store.ServerID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again, "server id must be stable")
}

func TestRoleGroupStore(t *testing.T) {
	ctx := t.Context()
	store := NewRoleGroupStore(newTestDB(t))

	groups, err := store.ListGroups(ctx, "editor")
	require.NoError(t, err)
	assert.Empty(t, groups)

	require.NoError(t, store.AddGroup(ctx, "editor", "writers"))
	require.NoError(t, store.AddGroup(ctx, "editor", "writers"), "adding twice is a no-op")
	require.NoError(t, store.AddGroup(ctx, "editor", "copy-desk"))
	require.NoError(t, store.AddGroup(ctx, "viewer", "staff"))

	groups, err = store.ListGroups(ctx, "editor")
	require.NoError(t, err)
	assert.Equal(t, []string{"copy-desk", "writers"}, groups)

	require.NoError(t, store.RemoveGroup(ctx, "editor", "copy-desk"))
	assert.ErrorIs(t, store.RemoveGroup(ctx, "editor", "copy-desk"), ErrRoleGroupNotFound)

	require.NoError(t, store.ReplaceGroups(ctx, "viewer", []string{"everyone", "guests"}))

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"editor": {"writers"},
		"viewer": {"everyone", "guests"},
	}, all)

	require.NoError(t, store.ReplaceGroups(ctx, "viewer", nil))
	all, err = store.ListAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, all, "viewer")
}

func TestUserStore(t *testing.T) {
	ctx := t.Context()
	store := NewUserStore(newTestDB(t))

	exists, err := store.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	admin, err := store.Create(ctx, "admin", "hash-1", true)
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)

	_, err = store.Create(ctx, "ADMIN", "hash-2", false)
	assert.ErrorIs(t, err, ErrUserAlreadyExists, "usernames are case-insensitive")

	bob, err := store.Create(ctx, "bob", "hash-3", false)
	require.NoError(t, err)
	assert.False(t, bob.IsAdmin)

	got, err := store.GetByUsername(ctx, "Bob")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, got.ID)

	require.NoError(t, store.UpdatePassword(ctx, bob.ID, "hash-4"))
	got, err = store.Get(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "hash-4", got.PasswordHash)

	require.NoError(t, store.SetAdmin(ctx, bob.ID, true))
	admins, err := store.CountAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, admins)

	users, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "admin", users[0].Username)

	require.NoError(t, store.Delete(ctx, bob.ID))
	_, err = store.Get(ctx, bob.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, store.Delete(ctx, bob.ID), ErrUserNotFound)
	assert.ErrorIs(t, store.UpdatePassword(ctx, 999, "x"), ErrUserNotFound)
}

func TestAPIKeyStore(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)
	users := NewUserStore(db)
	store := NewAPIKeyStore(db)

	alice, err := users.Create(ctx, "alice", "h", true)
	require.NoError(t, err)
	bob, err := users.Create(ctx, "bob", "h", false)
	require.NoError(t, err)

	raw, key, err := store.Create(ctx, alice.ID, "ci")
	require.NoError(t, err)
	assert.Len(t, raw, 64)
	assert.Equal(t, HashAPIKey(raw), key.KeyHash)
	assert.Equal(t, alice.ID, key.UserID)

	_, _, err = store.Create(ctx, bob.ID, "laptop")
	require.NoError(t, err)

	keys, err := store.ListByUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ci", keys[0].Name)

	validated, err := store.ValidateAPIKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, key.ID, validated.ID)

	_, err = store.ValidateAPIKey(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	assert.ErrorIs(t, store.Delete(ctx, bob.ID, key.ID), ErrAPIKeyNotFound, "keys can only be deleted by their owner")
	require.NoError(t, store.Delete(ctx, alice.ID, key.ID))

	_, err = store.ValidateAPIKey(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}
