// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/licman/internal/domain"
)

const (
	envPrefix            = "LICMAN__"
	configFileName       = "config.toml"
	databaseFileName     = "licman.db"
	defaultCheckInterval = time.Hour
)

// envKeys maps config keys to the environment variables that override them.
var envKeys = map[string]string{
	"host":                      "HOST",
	"port":                      "PORT",
	"baseUrl":                   "BASE_URL",
	"sessionSecret":             "SESSION_SECRET",
	"logLevel":                  "LOG_LEVEL",
	"logPath":                   "LOG_PATH",
	"dataDir":                   "DATA_DIR",
	"metricsEnabled":            "METRICS_ENABLED",
	"pprofEnabled":              "PPROF_ENABLED",
	"clustered":                 "CLUSTERED",
	"defaultLocale":             "DEFAULT_LOCALE",
	"license.checkInterval":     "LICENSE_CHECK_INTERVAL",
	"license.buildDate":         "LICENSE_BUILD_DATE",
	"httpTimeouts.readTimeout":  "HTTP_TIMEOUTS_READ_TIMEOUT",
	"httpTimeouts.writeTimeout": "HTTP_TIMEOUTS_WRITE_TIMEOUT",
	"httpTimeouts.idleTimeout":  "HTTP_TIMEOUTS_IDLE_TIMEOUT",
}

type AppConfig struct {
	Config *domain.Config

	viper      *viper.Viper
	configPath string

	mu        sync.RWMutex
	listeners []func(domain.Config)
	logWriter io.WriteCloser
}

// New loads the configuration at configDir, which may be a directory or a
// direct path to a .toml file. A default config is written if none exists.
func New(configDir string) (*AppConfig, error) {
	c := &AppConfig{
		viper:  viper.New(),
		Config: &domain.Config{},
	}

	if configDir == "" {
		configDir = GetDefaultConfigDir()
	}
	c.configPath = c.resolveConfigPath(configDir)

	c.defaults()
	if err := c.bindEnv(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(c.configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(c.configPath); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		log.Info().Str("path", c.configPath).Msg("Created default configuration file")
	}

	c.viper.SetConfigFile(c.configPath)
	c.viper.SetConfigType("toml")
	if err := c.viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", c.configPath, err)
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if c.Config.SessionSecret == "" {
		return nil, fmt.Errorf("sessionSecret must be set in %s or %sSESSION_SECRET", c.configPath, envPrefix)
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("host", "localhost")
	c.viper.SetDefault("port", 7476)
	c.viper.SetDefault("baseUrl", "")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("pprofEnabled", false)
	c.viper.SetDefault("clustered", false)
	c.viper.SetDefault("defaultLocale", "en")
	c.viper.SetDefault("license.checkInterval", defaultCheckInterval.String())
	c.viper.SetDefault("license.buildDate", "")
	c.viper.SetDefault("httpTimeouts.readTimeout", 60)
	c.viper.SetDefault("httpTimeouts.writeTimeout", 120)
	c.viper.SetDefault("httpTimeouts.idleTimeout", 180)
}

func (c *AppConfig) bindEnv() error {
	for key, env := range envKeys {
		if err := c.viper.BindEnv(key, envPrefix+env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// resolveConfigPath accepts a .toml path, an existing file, or a directory.
func (c *AppConfig) resolveConfigPath(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".toml") {
		return path
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path
	}
	return filepath.Join(path, configFileName)
}

// ConfigPath is the file the configuration was read from.
func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

func (c *AppConfig) SetDataDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Config.DataDir = dir
}

// GetDatabasePath places the database in dataDir, or next to the config file
// when no data dir is configured.
func (c *AppConfig) GetDatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := c.Config.DataDir
	if dir == "" {
		dir = filepath.Dir(c.configPath)
	}
	return filepath.Join(dir, databaseFileName)
}

// LicenseCheckInterval is how often the license monitor re-evaluates.
func (c *AppConfig) LicenseCheckInterval() time.Duration {
	raw := c.Config.License.CheckInterval
	if raw == "" {
		return defaultCheckInterval
	}
	interval, err := time.ParseDuration(raw)
	if err != nil || interval <= 0 {
		log.Warn().Str("checkInterval", raw).Dur("default", defaultCheckInterval).Msg("Invalid license check interval, using default")
		return defaultCheckInterval
	}
	return interval
}

// BuildDate returns the configured build date override, or fallback when
// none is set.
func (c *AppConfig) BuildDate(fallback time.Time) (time.Time, error) {
	raw := strings.TrimSpace(c.Config.License.BuildDate)
	if raw == "" {
		return fallback, nil
	}
	date, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid license.buildDate %q: %w", raw, err)
	}
	return date, nil
}

// LicenseKeys returns the configured verification keys.
func (c *AppConfig) LicenseKeys() map[string]string {
	keys := make(map[string]string, len(c.Config.License.Keys))
	for id, key := range c.Config.License.Keys {
		keys[id] = key
	}
	return keys
}

// Clustered reports the current cluster flag, which may change on reload.
func (c *AppConfig) Clustered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Config.Clustered
}

// OnChange registers fn to run with the new configuration after each reload.
func (c *AppConfig) OnChange(fn func(domain.Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Watch reloads logLevel and clustered whenever the config file changes.
// Other settings need a restart.
func (c *AppConfig) Watch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		c.reload(e.Name)
	})
	c.viper.WatchConfig()
	log.Debug().Str("path", c.configPath).Msg("Watching configuration for changes")
}

func (c *AppConfig) reload(name string) {
	var next domain.Config
	if err := c.viper.Unmarshal(&next); err != nil {
		log.Error().Err(err).Str("file", name).Msg("Failed to reload configuration")
		return
	}

	c.mu.Lock()
	changed := next.LogLevel != c.Config.LogLevel || next.Clustered != c.Config.Clustered
	c.Config.LogLevel = next.LogLevel
	c.Config.Clustered = next.Clustered
	current := *c.Config
	listeners := append([]func(domain.Config){}, c.listeners...)
	c.mu.Unlock()

	if !changed {
		log.Debug().Str("file", name).Msg("Configuration changed, nothing to reload")
		return
	}

	setLogLevel(current.LogLevel)
	log.Info().
		Str("logLevel", current.LogLevel).
		Bool("clustered", current.Clustered).
		Msg("Configuration reloaded")

	for _, fn := range listeners {
		fn(current)
	}
}

// ApplyLogConfig sets the global log level and, when logPath is configured,
// adds a rotating log file next to the console output.
func (c *AppConfig) ApplyLogConfig() {
	setLogLevel(c.Config.LogLevel)

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if c.Config.LogPath == "" {
		log.Logger = log.Output(console)
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.Config.LogPath), 0755); err != nil {
		log.Error().Err(err).Str("path", c.Config.LogPath).Msg("Failed to create log directory, logging to console only")
		log.Logger = log.Output(console)
		return
	}

	c.logWriter = &lumberjack.Logger{
		Filename:   c.Config.LogPath,
		MaxSize:    50, // MB
		MaxBackups: 3,
	}
	log.Logger = log.Output(zerolog.MultiLevelWriter(console, c.logWriter))
	log.Info().Str("path", c.Config.LogPath).Msg("Logging to file")
}

// Close releases the log file, if any.
func (c *AppConfig) Close() error {
	if c.logWriter == nil {
		return nil
	}
	return c.logWriter.Close()
}

func setLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		log.Warn().Str("logLevel", level).Msg("Unknown log level, using info")
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// GetDefaultConfigDir returns the OS specific config directory.
func GetDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		// docker images mount their config volume at /config
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "licman")
	}

	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "licman")
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "licman")
}

func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

var defaultConfigTemplate = template.Must(template.New("config").Parse(`# config.toml - licman configuration

# Hostname / IP
# Default: "localhost"
host = "{{ .Host }}"

# Port
# Default: 7476
port = {{ .Port }}

# Base URL, set when serving under a subpath behind a reverse proxy
#baseUrl = "/licman/"

# Session secret, generated on first start. Changing it logs everyone out.
sessionSecret = "{{ .SessionSecret }}"

# Log level: TRACE, DEBUG, INFO, WARN, ERROR. Reloaded without restart.
logLevel = "INFO"

# Log file path, rotated at 50MB. Console only when unset.
#logPath = "log/licman.log"

# Data directory for the database. Defaults to the config directory.
#dataDir = "/var/lib/licman"

# Expose Prometheus metrics at /metrics
metricsEnabled = false

# Set when several nodes share one database. Requires a data center license.
# Reloaded without restart.
clustered = false

# Language used when a user has no preference and the browser sends none
# that is supported (en, de, fr).
defaultLocale = "en"

[license]
# How often the installed license is re-evaluated
checkInterval = "1h"

# Public keys that licenses are verified with, by key id (base64 Ed25519)
[license.keys]
#primary = "base64-encoded-public-key"

[httpTimeouts]
# seconds
readTimeout = 60
writeTimeout = 120
idleTimeout = 180
`))

// WriteDefaultConfig writes a config with a fresh session secret to path.
// An existing file is left untouched.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	secret, err := generateSecureToken(32)
	if err != nil {
		return err
	}

	host := "localhost"
	if os.Getenv("XDG_CONFIG_HOME") == "/config" {
		host = "0.0.0.0"
	}

	var buf bytes.Buffer
	if err := defaultConfigTemplate.Execute(&buf, domain.Config{
		Host:          host,
		Port:          7476,
		SessionSecret: secret,
	}); err != nil {
		return fmt.Errorf("failed to render default config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
