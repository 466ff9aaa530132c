// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autobrr/licman/internal/auth"
	"github.com/autobrr/licman/internal/config"
	"github.com/autobrr/licman/internal/database"
	"github.com/autobrr/licman/internal/models"
)

func readPassword(prompt string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print(prompt)
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	var password string
	if _, err := fmt.Scanln(&password); err != nil {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return password, nil
}

func checkPassword(password string) error {
	if len(password) < auth.MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters long", auth.MinPasswordLength)
	}
	return nil
}

func RunCreateUserCommand() *cobra.Command {
	var configDir, dataDir, username, password string
	var admin bool

	command := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user account",
		Long: `Create a user account without starting the server.

The first account is always an administrator. Later accounts are regular
users unless --admin is given.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/licman/config.toml
- Windows: %APPDATA%\licman\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Initialize configuration
			cfg, err := config.New(configDir)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// Override data directory if provided
			if dataDir != "" {
				cfg.SetDataDir(dataDir)
			}

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			ctx := cmd.Context()
			authService := auth.NewService(db.Conn(), cfg.Config.SessionSecret)

			setupDone, err := authService.IsSetupComplete(ctx)
			if err != nil {
				return fmt.Errorf("failed to check setup status: %w", err)
			}

			if username == "" {
				fmt.Print("Enter username: ")
				if _, err := fmt.Scanln(&username); err != nil {
					return fmt.Errorf("failed to read username: %w", err)
				}
			}

			username = strings.TrimSpace(username)
			if username == "" {
				return fmt.Errorf("username cannot be empty")
			}

			if password == "" {
				password, err = readPassword("Enter password: ")
				if err != nil {
					return err
				}
			}

			if err := checkPassword(password); err != nil {
				return err
			}

			var user *models.User
			if setupDone {
				user, err = authService.CreateUser(ctx, username, password, admin)
			} else {
				user, err = authService.SetupUser(ctx, username, password)
			}
			if errors.Is(err, models.ErrUserAlreadyExists) {
				return fmt.Errorf("user '%s' already exists", username)
			}
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			role := "user"
			if user.IsAdmin {
				role = "administrator"
			}
			cmd.Printf("User '%s' created successfully with ID: %d (%s)\n", user.Username, user.ID, role)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
	command.Flags().StringVar(&username, "username", "",
		"username for the new account")
	command.Flags().StringVar(&password, "password", "",
		"password for the new account (will prompt if not provided)")
	command.Flags().BoolVar(&admin, "admin", false,
		"grant administrator rights (the first account always has them)")

	return command
}

func RunChangePasswordCommand() *cobra.Command {
	var configDir, dataDir, username, newPassword string

	command := &cobra.Command{
		Use:   "change-password",
		Short: "Change the password of an existing user",
		Long: `Change the password of an existing user account.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/licman/config.toml
- Windows: %APPDATA%\licman\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			if dataDir != "" {
				cfg.SetDataDir(dataDir)
			}

			dbPath := cfg.GetDatabasePath()
			if _, err := os.Stat(dbPath); os.IsNotExist(err) {
				return fmt.Errorf("database not found at %s. Create a user first with 'create-user' command", dbPath)
			}

			db, err := database.New(dbPath)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			ctx := cmd.Context()
			authService := auth.NewService(db.Conn(), cfg.Config.SessionSecret)

			exists, err := authService.IsSetupComplete(ctx)
			if err != nil {
				return fmt.Errorf("failed to check setup status: %w", err)
			}
			if !exists {
				return fmt.Errorf("no user account found. Create a user first with 'create-user' command")
			}

			if username == "" {
				fmt.Print("Enter username: ")
				if _, err := fmt.Scanln(&username); err != nil {
					return fmt.Errorf("failed to read username: %w", err)
				}
			}

			if newPassword == "" {
				newPassword, err = readPassword("Enter new password: ")
				if err != nil {
					return err
				}
			}

			if err := checkPassword(newPassword); err != nil {
				return err
			}

			if err := authService.ResetPassword(ctx, username, newPassword); err != nil {
				if errors.Is(err, models.ErrUserNotFound) {
					return fmt.Errorf("username '%s' not found", username)
				}
				return fmt.Errorf("failed to update password: %w", err)
			}

			cmd.Printf("Password changed successfully for user '%s'\n", username)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
	command.Flags().StringVar(&username, "username", "",
		"user whose password to change")
	command.Flags().StringVar(&newPassword, "new-password", "",
		"new password (will prompt if not provided)")

	return command
}
