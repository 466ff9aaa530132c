// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrRoleGroupNotFound = errors.New("group is not mapped to role")

// RoleGroupStore persists the license role to user group mapping.
type RoleGroupStore struct {
	db *sql.DB
}

func NewRoleGroupStore(db *sql.DB) *RoleGroupStore {
	return &RoleGroupStore{db: db}
}

func (s *RoleGroupStore) ListGroups(ctx context.Context, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_name FROM license_role_groups
		WHERE role = ?
		ORDER BY group_name
	`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups for role %s: %w", role, err)
	}
	defer rows.Close()

	groups := []string{}
	for rows.Next() {
		var group string
		if err := rows.Scan(&group); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

func (s *RoleGroupStore) ListAll(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, group_name FROM license_role_groups
		ORDER BY role, group_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list role groups: %w", err)
	}
	defer rows.Close()

	mapping := make(map[string][]string)
	for rows.Next() {
		var role, group string
		if err := rows.Scan(&role, &group); err != nil {
			return nil, err
		}
		mapping[role] = append(mapping[role], group)
	}
	return mapping, rows.Err()
}

func (s *RoleGroupStore) AddGroup(ctx context.Context, role, group string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO license_role_groups (role, group_name)
		VALUES (?, ?)
		ON CONFLICT (role, group_name) DO NOTHING
	`, role, group)
	if err != nil {
		return fmt.Errorf("failed to add group %s to role %s: %w", group, role, err)
	}
	return nil
}

func (s *RoleGroupStore) RemoveGroup(ctx context.Context, role, group string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM license_role_groups WHERE role = ? AND group_name = ?
	`, role, group)
	if err != nil {
		return fmt.Errorf("failed to remove group %s from role %s: %w", group, role, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRoleGroupNotFound
	}
	return nil
}

func (s *RoleGroupStore) ReplaceGroups(ctx context.Context, role string, groups []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM license_role_groups WHERE role = ?`, role); err != nil {
		return fmt.Errorf("failed to clear groups for role %s: %w", role, err)
	}

	for _, group := range groups {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO license_role_groups (role, group_name)
			VALUES (?, ?)
			ON CONFLICT (role, group_name) DO NOTHING
		`, role, group); err != nil {
			return fmt.Errorf("failed to add group %s to role %s: %w", group, role, err)
		}
	}

	return tx.Commit()
}
