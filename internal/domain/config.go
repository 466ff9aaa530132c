// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config represents the application configuration
type Config struct {
	Host           string        `toml:"host" mapstructure:"host"`
	Port           int           `toml:"port" mapstructure:"port"`
	BaseURL        string        `toml:"baseUrl" mapstructure:"baseUrl"`
	SessionSecret  string        `toml:"sessionSecret" mapstructure:"sessionSecret"`
	LogLevel       string        `toml:"logLevel" mapstructure:"logLevel"`
	LogPath        string        `toml:"logPath" mapstructure:"logPath"`
	DataDir        string        `toml:"dataDir" mapstructure:"dataDir"`
	MetricsEnabled bool          `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	PprofEnabled   bool          `toml:"pprofEnabled" mapstructure:"pprofEnabled"`
	Clustered      bool          `toml:"clustered" mapstructure:"clustered"`
	DefaultLocale  string        `toml:"defaultLocale" mapstructure:"defaultLocale"`
	License        LicenseConfig `toml:"license" mapstructure:"license"`
	HTTPTimeouts   HTTPTimeouts  `toml:"httpTimeouts" mapstructure:"httpTimeouts"`
}

// HTTPTimeouts represents HTTP server timeout configuration
type HTTPTimeouts struct {
	ReadTimeout  int `toml:"readTimeout" mapstructure:"readTimeout"`   // seconds
	WriteTimeout int `toml:"writeTimeout" mapstructure:"writeTimeout"` // seconds
	IdleTimeout  int `toml:"idleTimeout" mapstructure:"idleTimeout"`   // seconds
}

// LicenseConfig holds the keys licenses are verified with and how often the
// installed license is re-evaluated.
type LicenseConfig struct {
	CheckInterval string `toml:"checkInterval" mapstructure:"checkInterval"`
	// BuildDate overrides the date the running build is considered released
	// on, in YYYY-MM-DD form. Empty uses the date baked into the binary.
	BuildDate string `toml:"buildDate" mapstructure:"buildDate"`
	// Keys maps key ids to base64 encoded Ed25519 public keys.
	Keys map[string]string `toml:"keys" mapstructure:"keys"`
}
