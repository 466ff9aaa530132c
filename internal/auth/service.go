// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/licman/internal/models"
)

const (
	SessionName = "user_session"

	SessionKeyAuthenticated = "authenticated"
	SessionKeyUserID        = "user_id"
	SessionKeyUsername      = "username"

	MinPasswordLength = 8
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotSetup           = errors.New("initial setup not completed")
	ErrAlreadySetup       = errors.New("initial setup already completed")
	ErrLastAdmin          = errors.New("cannot remove the last administrator")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrEmptyUsername      = errors.New("username cannot be empty")
)

// dummyHash is verified against when a username does not exist, so that
// unknown users take as long to reject as wrong passwords.
var dummyHash, _ = HashPassword("licman-dummy-password")

type Service struct {
	users   *models.UserStore
	apiKeys *models.APIKeyStore
	store   *sessions.CookieStore
}

func NewService(db *sql.DB, sessionSecret string) *Service {
	store := sessions.NewCookieStore([]byte(sessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &Service{
		users:   models.NewUserStore(db),
		apiKeys: models.NewAPIKeyStore(db),
		store:   store,
	}
}

func (s *Service) GetSessionStore() *sessions.CookieStore {
	return s.store
}

func (s *Service) IsSetupComplete(ctx context.Context) (bool, error) {
	return s.users.Exists(ctx)
}

// SetupUser creates the first user, who is always an administrator.
func (s *Service) SetupUser(ctx context.Context, username, password string) (*models.User, error) {
	complete, err := s.IsSetupComplete(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check setup status: %w", err)
	}
	if complete {
		return nil, ErrAlreadySetup
	}
	return s.CreateUser(ctx, username, password, true)
}

func (s *Service) CreateUser(ctx context.Context, username, password string, isAdmin bool) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.Create(ctx, username, hash, isAdmin)
	if err != nil {
		return nil, err
	}

	log.Info().Str("username", user.Username).Bool("admin", user.IsAdmin).Msg("User created")
	return user, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	complete, err := s.IsSetupComplete(ctx)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, ErrNotSetup
	}

	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, models.ErrUserNotFound) {
		_, _ = VerifyPassword(password, dummyHash)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if NeedsRehash(user.PasswordHash) {
		if hash, err := HashPassword(password); err == nil {
			if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
				log.Warn().Err(err).Str("username", user.Username).Msg("Failed to upgrade password hash")
			} else {
				user.PasswordHash = hash
			}
		}
	}

	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id int) (*models.User, error) {
	return s.users.Get(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]*models.User, error) {
	return s.users.List(ctx)
}

// SetAdmin grants or revokes administrator rights. The last administrator
// cannot be demoted.
func (s *Service) SetAdmin(ctx context.Context, id int, isAdmin bool) error {
	if !isAdmin {
		if err := s.ensureNotLastAdmin(ctx, id); err != nil {
			return err
		}
	}
	return s.users.SetAdmin(ctx, id, isAdmin)
}

// DeleteUser removes a user along with their API keys and properties.
func (s *Service) DeleteUser(ctx context.Context, id int) error {
	if err := s.ensureNotLastAdmin(ctx, id); err != nil {
		return err
	}
	return s.users.Delete(ctx, id)
}

func (s *Service) ensureNotLastAdmin(ctx context.Context, id int) error {
	user, err := s.users.Get(ctx, id)
	if err != nil {
		return err
	}
	if !user.IsAdmin {
		return nil
	}

	admins, err := s.users.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return ErrLastAdmin
	}
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID int, oldPassword, newPassword string) error {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := VerifyPassword(oldPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	return s.setPassword(ctx, user.ID, newPassword)
}

// ResetPassword sets a new password without knowing the old one.
func (s *Service) ResetPassword(ctx context.Context, username, newPassword string) error {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, user.ID, newPassword)
}

func (s *Service) setPassword(ctx context.Context, userID int, password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.users.UpdatePassword(ctx, userID, hash)
}

func (s *Service) CreateAPIKey(ctx context.Context, userID int, name string) (string, *models.APIKey, error) {
	return s.apiKeys.Create(ctx, userID, strings.TrimSpace(name))
}

func (s *Service) ListAPIKeys(ctx context.Context, userID int) ([]*models.APIKey, error) {
	return s.apiKeys.ListByUser(ctx, userID)
}

func (s *Service) DeleteAPIKey(ctx context.Context, userID, id int) error {
	return s.apiKeys.Delete(ctx, userID, id)
}

// ValidateAPIKey resolves an API key to the user owning it.
func (s *Service) ValidateAPIKey(ctx context.Context, rawKey string) (*models.User, error) {
	apiKey, err := s.apiKeys.ValidateAPIKey(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	return s.users.Get(ctx, apiKey.UserID)
}
