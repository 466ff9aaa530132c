// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/licman/internal/banner"
	"github.com/autobrr/licman/internal/config"
	"github.com/autobrr/licman/internal/database"
	"github.com/autobrr/licman/internal/i18n"
	"github.com/autobrr/licman/internal/license"
	"github.com/autobrr/licman/internal/models"
	"github.com/autobrr/licman/internal/services"
)

// newLicenseService wires the license service from configuration. The
// returned func releases the role cache.
func newLicenseService(cfg *config.AppConfig, db *database.DB) (*services.LicenseService, func(), error) {
	keys, err := license.ParsePublicKeys(cfg.LicenseKeys())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load license keys: %w", err)
	}
	if len(keys) == 0 {
		log.Warn().Str("config", cfg.ConfigPath()).Msg("No license verification keys configured in [license.keys], every license will be rejected")
	}

	built, err := cfg.BuildDate(buildDate())
	if err != nil {
		return nil, nil, err
	}

	roles, err := license.NewRoleGroupCache(models.NewRoleGroupStore(db.Conn()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create role cache: %w", err)
	}

	props := models.NewPropertyStore(db.Conn())
	svc := services.NewLicenseService(
		models.NewLicenseStore(props),
		license.NewDecoder(keys),
		banner.NewHelper(props),
		roles,
		services.LicenseOptions{
			BuildDate:     built,
			Clustered:     cfg.Clustered(),
			CheckInterval: cfg.LicenseCheckInterval(),
		},
	)

	return svc, roles.Close, nil
}

type licenseFlags struct {
	configDir string
	dataDir   string
}

func (f *licenseFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
}

// open loads config, database and license service. The returned func closes
// all of them.
func (f *licenseFlags) open() (*config.AppConfig, *services.LicenseService, func(), error) {
	cfg, err := config.New(f.configDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}
	if f.dataDir != "" {
		cfg.SetDataDir(f.dataDir)
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	svc, closeRoles, err := newLicenseService(cfg, db)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	return cfg, svc, func() {
		closeRoles()
		db.Close()
	}, nil
}

func RunLicenseCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "license",
		Short: "Inspect or change the installed license",
	}

	command.AddCommand(runLicenseStatusCommand())
	command.AddCommand(runLicenseSetCommand())
	command.AddCommand(runLicenseClearCommand())

	return command
}

func runLicenseStatusCommand() *cobra.Command {
	var (
		flags  licenseFlags
		asJSON bool
		locale string
	)

	command := &cobra.Command{
		Use:   "status",
		Short: "Show the installed license and its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, svc, closeAll, err := flags.open()
			if err != nil {
				return err
			}
			defer closeAll()

			status, err := svc.GetStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get license status: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			if locale == "" {
				locale = cfg.Config.DefaultLocale
			}
			catalog, err := i18n.New(cfg.Config.DefaultLocale)
			if err != nil {
				return fmt.Errorf("failed to load message catalogs: %w", err)
			}
			return printStatus(cmd.OutOrStdout(), catalog, locale, status)
		},
	}

	flags.register(command)
	command.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	command.Flags().StringVar(&locale, "locale", "", "language for status messages (defaults to defaultLocale)")

	return command
}

func printStatus(out io.Writer, catalog *i18n.Catalog, locale string, status *services.Status) error {
	tag := catalog.Match(locale)
	formatter := catalog.DateFormatter(tag)

	tw := table.NewWriter()
	tw.Style().Options = table.OptionsNoBordersAndSeparators
	row := func(name, value string) {
		tw.AppendRow(table.Row{name + ":", value})
	}
	date := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return formatter.Format(*t)
	}

	row("Server ID", status.InstanceServerID)
	row("State", string(status.State))
	row("Status", catalog.Render(tag, status.Status))

	if status.LicenseSet {
		row("License ID", status.LicenseID)
		row("Organisation", status.Organisation)
		row("Type", string(status.LicenseType))
		if status.UnlimitedUsers {
			row("Users", "unlimited")
		} else {
			row("Users", fmt.Sprintf("%d", status.MaxUsers))
		}
		row("Issued", date(status.IssuedAt))
		row("Expires", date(status.ExpiryDate))
		row("Expiry", catalog.Render(tag, status.Expiry))
		row("Maintenance until", date(status.MaintenanceExpiryDate))
		row("Maintenance", catalog.Render(tag, status.Maintenance))
		for _, role := range slices.Sorted(maps.Keys(status.Roles)) {
			row("Role "+role, fmt.Sprintf("%d seats", status.Roles[role]))
		}
	}

	_, err := fmt.Fprintln(out, tw.Render())
	return err
}

func runLicenseSetCommand() *cobra.Command {
	var (
		flags licenseFlags
		file  string
	)

	command := &cobra.Command{
		Use:   "set [license]",
		Short: "Install a license",
		Long: `Install a signed license string.

The license can be passed as an argument, read from --file, or piped on stdin
when neither is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readLicense(cmd, args, file)
			if err != nil {
				return err
			}

			_, svc, closeAll, err := flags.open()
			if err != nil {
				return err
			}
			defer closeAll()

			d, err := svc.SetLicense(cmd.Context(), raw)
			if err != nil {
				var licErr *license.Error
				if errors.As(err, &licErr) {
					return fmt.Errorf("license rejected (%s): %w", licErr.Key, licErr.Err)
				}
				return err
			}

			state, _, err := svc.State(cmd.Context())
			if err != nil {
				return err
			}

			cmd.Printf("License %s for %s installed (%s)\n", d.LicenseID(), d.Organisation(), state)
			return nil
		},
	}

	flags.register(command)
	command.Flags().StringVar(&file, "file", "", "read the license from this file")

	return command
}

func readLicense(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case len(args) == 1:
		return args[0], nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read license file: %w", err)
		}
		return string(data), nil
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read license from stdin: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", fmt.Errorf("no license given: pass it as an argument, with --file, or on stdin")
		}
		return string(data), nil
	}
}

func runLicenseClearCommand() *cobra.Command {
	var flags licenseFlags

	command := &cobra.Command{
		Use:   "clear",
		Short: "Remove the installed license",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, closeAll, err := flags.open()
			if err != nil {
				return err
			}
			defer closeAll()

			if err := svc.ClearLicense(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear license: %w", err)
			}

			cmd.Println("License removed")
			return nil
		},
	}

	flags.register(command)

	return command
}
