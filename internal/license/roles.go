// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package license

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

const roleGroupsTTL = 10 * time.Minute

var ErrEmptyGroup = errors.New("group name cannot be empty")

// RoleGroupStore persists which user groups are granted each license role.
type RoleGroupStore interface {
	ListGroups(ctx context.Context, role string) ([]string, error)
	ListAll(ctx context.Context) (map[string][]string, error)
	AddGroup(ctx context.Context, role, group string) error
	RemoveGroup(ctx context.Context, role, group string) error
	ReplaceGroups(ctx context.Context, role string, groups []string) error
}

// RoleGroupCache is a read-through cache in front of a RoleGroupStore.
//
// Loads hold the read lock until the loaded value is visible in the cache and
// invalidation takes the write lock, so a load that raced a mutation can never
// repopulate the cache with the old mapping.
type RoleGroupCache struct {
	store RoleGroupStore
	cache *ristretto.Cache
	mu    sync.RWMutex
}

func NewRoleGroupCache(store RoleGroupStore) (*RoleGroupCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create role group cache: %w", err)
	}

	return &RoleGroupCache{
		store: store,
		cache: cache,
	}, nil
}

func cacheKey(role string) string {
	return "role_groups:" + role
}

// Groups returns the groups mapped to role.
func (c *RoleGroupCache) Groups(ctx context.Context, role string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key := cacheKey(role)
	if cached, found := c.cache.Get(key); found {
		if groups, ok := cached.([]string); ok {
			return slices.Clone(groups), nil
		}
	}

	groups, err := c.store.ListGroups(ctx, role)
	if err != nil {
		return nil, err
	}

	c.cache.SetWithTTL(key, slices.Clone(groups), int64(len(groups)+1), roleGroupsTTL)
	c.cache.Wait()

	return groups, nil
}

// AddGroup maps group to role.
func (c *RoleGroupCache) AddGroup(ctx context.Context, role, group string) error {
	group, err := NormalizeGroup(group)
	if err != nil {
		return err
	}
	return c.mutate(func() error {
		return c.store.AddGroup(ctx, role, group)
	})
}

// RemoveGroup unmaps group from role.
func (c *RoleGroupCache) RemoveGroup(ctx context.Context, role, group string) error {
	group, err := NormalizeGroup(group)
	if err != nil {
		return err
	}
	return c.mutate(func() error {
		return c.store.RemoveGroup(ctx, role, group)
	})
}

// SetGroups replaces every group mapped to role.
func (c *RoleGroupCache) SetGroups(ctx context.Context, role string, groups []string) error {
	normalized := make([]string, 0, len(groups))
	for _, g := range groups {
		n, err := NormalizeGroup(g)
		if err != nil {
			return err
		}
		if !slices.Contains(normalized, n) {
			normalized = append(normalized, n)
		}
	}
	return c.mutate(func() error {
		return c.store.ReplaceGroups(ctx, role, normalized)
	})
}

// All returns every persisted mapping, bypassing the cache.
func (c *RoleGroupCache) All(ctx context.Context) (map[string][]string, error) {
	return c.store.ListAll(ctx)
}

// Invalidate drops every cached mapping.
func (c *RoleGroupCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Clear()
	log.Debug().Msg("Role group cache cleared")
}

func (c *RoleGroupCache) Close() {
	c.cache.Close()
}

func (c *RoleGroupCache) mutate(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := fn()
	// Clear even on failure; the store may have partially applied the change.
	c.cache.Clear()
	return err
}

// NormalizeGroup puts a group name into NFC form and trims surrounding space.
func NormalizeGroup(group string) (string, error) {
	group = strings.TrimSpace(norm.NFC.String(group))
	if group == "" {
		return "", ErrEmptyGroup
	}
	return group, nil
}

// SearchGroups filters groups by a fuzzy, case-insensitive query. Matches are
// ordered best first; an empty query returns every group sorted by name.
func SearchGroups(query string, groups []string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		out := slices.Clone(groups)
		sort.Strings(out)
		return out
	}

	ranks := fuzzy.RankFindNormalizedFold(query, groups)
	sort.Sort(ranks)

	out := make([]string, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, r.Target)
	}
	return out
}
