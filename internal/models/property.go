// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Entity types owning a property set.
const (
	EntityApp  = "app"
	EntityUser = "user"
)

const appEntityID = 0

// PropertyStore is a key/value store scoped to an entity: the application
// itself or a single user.
type PropertyStore struct {
	db *sql.DB
}

func NewPropertyStore(db *sql.DB) *PropertyStore {
	return &PropertyStore{db: db}
}

func (s *PropertyStore) Get(ctx context.Context, entityType string, entityID int, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM properties
		WHERE entity_type = ? AND entity_id = ? AND key = ?
	`, entityType, entityID, key).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get property %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PropertyStore) Set(ctx context.Context, entityType string, entityID int, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (entity_type, entity_id, key, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id, key)
		DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, entityType, entityID, key, value)
	if err != nil {
		return fmt.Errorf("failed to set property %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent stores value unless key already has one, and returns whichever
// value ends up stored.
func (s *PropertyStore) SetIfAbsent(ctx context.Context, entityType string, entityID int, key, value string) (string, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (entity_type, entity_id, key, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id, key) DO NOTHING
	`, entityType, entityID, key, value); err != nil {
		return "", fmt.Errorf("failed to set property %s: %w", key, err)
	}

	stored, ok, err := s.Get(ctx, entityType, entityID, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("property %s vanished after insert", key)
	}
	return stored, nil
}

func (s *PropertyStore) Delete(ctx context.Context, entityType string, entityID int, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM properties
		WHERE entity_type = ? AND entity_id = ? AND key = ?
	`, entityType, entityID, key)
	if err != nil {
		return fmt.Errorf("failed to delete property %s: %w", key, err)
	}
	return nil
}

// DeleteKeyForAll removes key from every entity of the given type.
func (s *PropertyStore) DeleteKeyForAll(ctx context.Context, entityType, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM properties WHERE entity_type = ? AND key = ?
	`, entityType, key)
	if err != nil {
		return fmt.Errorf("failed to delete property %s: %w", key, err)
	}
	return nil
}

func (s *PropertyStore) List(ctx context.Context, entityType string, entityID int) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM properties
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY key
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	defer rows.Close()

	props := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		props[key] = value
	}
	return props, rows.Err()
}

func (s *PropertyStore) GetAppProperty(ctx context.Context, key string) (string, bool, error) {
	return s.Get(ctx, EntityApp, appEntityID, key)
}

func (s *PropertyStore) SetAppProperty(ctx context.Context, key, value string) error {
	return s.Set(ctx, EntityApp, appEntityID, key, value)
}

func (s *PropertyStore) DeleteAppProperty(ctx context.Context, key string) error {
	return s.Delete(ctx, EntityApp, appEntityID, key)
}

func (s *PropertyStore) GetUserProperty(ctx context.Context, userID int, key string) (string, bool, error) {
	return s.Get(ctx, EntityUser, userID, key)
}

func (s *PropertyStore) SetUserProperty(ctx context.Context, userID int, key, value string) error {
	return s.Set(ctx, EntityUser, userID, key, value)
}

func (s *PropertyStore) DeleteUserProperty(ctx context.Context, userID int, key string) error {
	return s.Delete(ctx, EntityUser, userID, key)
}

func (s *PropertyStore) DeleteUserPropertyForAll(ctx context.Context, key string) error {
	return s.DeleteKeyForAll(ctx, EntityUser, key)
}
