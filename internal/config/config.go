// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete husky configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Backend is the AI backend and thread API.
	Backend BackendConfig `toml:"backend" json:"backend"`

	// Quota is the anonymous daily usage quota.
	Quota QuotaConfig `toml:"quota" json:"quota"`

	// Storage is where client state and local history live.
	Storage StorageConfig `toml:"storage" json:"storage"`

	// User carries the optional identity sent with chat requests.
	User UserConfig `toml:"user" json:"user"`

	// Logging configures the zap logger.
	Logging LoggingConfig `toml:"logging" json:"logging"`

	// UI configures the REPL front-end.
	UI UIConfig `toml:"ui" json:"ui"`
}

// BackendConfig contains the backend endpoints and transport settings.
type BackendConfig struct {
	// BaseURL is the directory web application's API root.
	BaseURL string `toml:"base_url" json:"base_url"`
	// ChatPath is the streaming chat endpoint.
	ChatPath string `toml:"chat_path" json:"chat_path"`
	// ThreadPath creates a thread record.
	ThreadPath string `toml:"thread_path" json:"thread_path"`
	// TitlePath sets the thread title.
	TitlePath string `toml:"title_path" json:"title_path"`
	// DuplicatePath clones a shared thread.
	DuplicatePath string `toml:"duplicate_path" json:"duplicate_path"`
	// FeedbackPath receives feedback on an answer.
	FeedbackPath string `toml:"feedback_path" json:"feedback_path"`
	// TimeoutSecs bounds non-streaming requests. Streams are not timed out.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries is the retry budget for non-streaming requests.
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// RequestsPerSecond throttles outgoing requests (0 = unlimited).
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	// Burst is the limiter burst size.
	Burst int `toml:"burst" json:"burst"`
}

// QuotaConfig contains the anonymous usage quota.
type QuotaConfig struct {
	// DailyLimit is the number of turns an anonymous visitor may submit per day.
	DailyLimit int `toml:"daily_limit" json:"daily_limit"`
}

// StorageConfig contains local persistence settings.
type StorageConfig struct {
	// Dir is the data directory (default: ~/.husky).
	Dir string `toml:"dir" json:"dir"`
	// StateFile is the SQLite file holding counters, cookies and tokens.
	StateFile string `toml:"state_file" json:"state_file"`
	// HistoryEnabled mirrors finished turns into local thread files.
	HistoryEnabled bool `toml:"history_enabled" json:"history_enabled"`
	// MaxThreads limits stored threads (0 = unlimited).
	MaxThreads int `toml:"max_threads" json:"max_threads"`
}

// UserConfig contains the identity attached to chat requests.
type UserConfig struct {
	Name        string `toml:"name" json:"name"`
	Email       string `toml:"email" json:"email"`
	DirectoryID string `toml:"directory_id" json:"directory_id"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `toml:"development" json:"development"`
	// File is an optional log file; empty logs to stderr.
	File string `toml:"file" json:"file"`
}

// UIConfig contains REPL settings.
type UIConfig struct {
	// Markdown renders finished answers with glamour on a TTY.
	Markdown bool `toml:"markdown" json:"markdown"`
	// Theme is the glamour style: dark, light, auto.
	Theme string `toml:"theme" json:"theme"`
	// Width is the word-wrap width for rendered answers.
	Width int `toml:"width" json:"width"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Backend: BackendConfig{
			BaseURL:           "http://localhost:3000",
			ChatPath:          "/api/husky/chat",
			ThreadPath:        "/api/husky/threads",
			TitlePath:         "/api/husky/threads/title",
			DuplicatePath:     "/api/husky/threads/duplicate",
			FeedbackPath:      "/api/husky/feedback",
			TimeoutSecs:       30,
			MaxRetries:        3,
			RequestsPerSecond: 5,
			Burst:             10,
		},

		Quota: QuotaConfig{
			DailyLimit: 5,
		},

		Storage: StorageConfig{
			StateFile:      "state.db",
			HistoryEnabled: true,
			MaxThreads:     200,
		},

		Logging: LoggingConfig{
			Level: "info",
		},

		UI: UIConfig{
			Markdown: true,
			Theme:    "dark",
			Width:    100,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the husky configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".husky"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// DataDir returns the resolved storage directory.
func (c *Config) DataDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	return ConfigDir()
}

// StatePath returns the resolved SQLite state file path.
func (c *Config) StatePath() (string, error) {
	if filepath.IsAbs(c.Storage.StateFile) {
		return c.Storage.StateFile, nil
	}
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.StateFile), nil
}

// ThreadsDir returns the directory for local thread history.
func (c *Config) ThreadsDir() (string, error) {
	dir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "threads"), nil
}

// Timeout returns the non-streaming request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSecs) * time.Second
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files may hold a session token and should be 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	var loadErr error

	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			cfg, err := LoadFromPath(tomlPath)
			if err == nil {
				return cfg, nil
			}
			loadErr = err
		}
	}

	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			cfg, err := LoadFromPath(jsonPath)
			if err == nil {
				return cfg, nil
			}
			loadErr = err
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Return defaults (with any load error for informational purposes)
	return cfg, loadErr
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON loads configuration from a JSON file.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Backend
	b, db := &cfg.Backend, defaults.Backend
	if b.BaseURL == "" {
		b.BaseURL = db.BaseURL
	}
	if b.ChatPath == "" {
		b.ChatPath = db.ChatPath
	}
	if b.ThreadPath == "" {
		b.ThreadPath = db.ThreadPath
	}
	if b.TitlePath == "" {
		b.TitlePath = db.TitlePath
	}
	if b.DuplicatePath == "" {
		b.DuplicatePath = db.DuplicatePath
	}
	if b.FeedbackPath == "" {
		b.FeedbackPath = db.FeedbackPath
	}
	if b.TimeoutSecs == 0 {
		b.TimeoutSecs = db.TimeoutSecs
	}
	if b.MaxRetries == 0 {
		b.MaxRetries = db.MaxRetries
	}
	if b.Burst == 0 {
		b.Burst = db.Burst
	}

	// Quota
	if cfg.Quota.DailyLimit == 0 {
		cfg.Quota.DailyLimit = defaults.Quota.DailyLimit
	}

	// Storage
	if cfg.Storage.StateFile == "" {
		cfg.Storage.StateFile = defaults.Storage.StateFile
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}

	// UI
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
	if cfg.UI.Width == 0 {
		cfg.UI.Width = defaults.UI.Width
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var sb strings.Builder
	sb.WriteString("# husky configuration file\n")
	sb.WriteString("# Generated by husky - edit with care\n\n")

	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// ==========================================================================
	// Backend
	// ==========================================================================

	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "backend.base_url",
			Message: fmt.Sprintf("invalid URL '%s'", c.Backend.BaseURL),
		})
	}

	paths := map[string]string{
		"backend.chat_path":      c.Backend.ChatPath,
		"backend.thread_path":    c.Backend.ThreadPath,
		"backend.title_path":     c.Backend.TitlePath,
		"backend.duplicate_path": c.Backend.DuplicatePath,
		"backend.feedback_path":  c.Backend.FeedbackPath,
	}
	for field, p := range paths {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("path '%s' must start with '/'", p),
			})
		}
	}

	if c.Backend.TimeoutSecs < 1 || c.Backend.TimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "backend.timeout_secs",
			Message: fmt.Sprintf("must be 1-600, got %d", c.Backend.TimeoutSecs),
		})
	}
	if c.Backend.MaxRetries < 1 || c.Backend.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "backend.max_retries",
			Message: fmt.Sprintf("must be 1-10, got %d", c.Backend.MaxRetries),
		})
	}
	if c.Backend.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "backend.requests_per_second",
			Message: "cannot be negative",
		})
	}
	if c.Backend.Burst < 1 {
		errs = append(errs, ValidationError{
			Field:   "backend.burst",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Backend.Burst),
		})
	}

	// ==========================================================================
	// Quota and storage
	// ==========================================================================

	if c.Quota.DailyLimit < 1 {
		errs = append(errs, ValidationError{
			Field:   "quota.daily_limit",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Quota.DailyLimit),
		})
	}
	if c.Storage.MaxThreads < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.max_threads",
			Message: "cannot be negative",
		})
	}

	// ==========================================================================
	// Logging and UI
	// ==========================================================================

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies HUSKY_* environment variables.
//
//   - HUSKY_BASE_URL: overrides backend.base_url
//   - HUSKY_DAILY_LIMIT: overrides quota.daily_limit
//   - HUSKY_DATA_DIR: overrides storage.dir
//   - HUSKY_LOG_LEVEL: overrides logging.level
//   - HUSKY_LOG_DEV: overrides logging.development
//   - HUSKY_USER_NAME / HUSKY_USER_EMAIL / HUSKY_DIRECTORY_ID: override [user]
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HUSKY_BASE_URL"); v != "" {
		c.Backend.BaseURL = strings.TrimSuffix(v, "/")
	}

	if v := os.Getenv("HUSKY_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Quota.DailyLimit = n
		}
	}

	if v := os.Getenv("HUSKY_DATA_DIR"); v != "" {
		c.Storage.Dir = v
	}

	if v := os.Getenv("HUSKY_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("HUSKY_LOG_DEV"); v != "" {
		c.Logging.Development = v == "1" || strings.ToLower(v) == "true"
	}

	if v := os.Getenv("HUSKY_USER_NAME"); v != "" {
		c.User.Name = v
	}
	if v := os.Getenv("HUSKY_USER_EMAIL"); v != "" {
		c.User.Email = v
	}
	if v := os.Getenv("HUSKY_DIRECTORY_ID"); v != "" {
		c.User.DirectoryID = v
	}
}

// =============================================================================
// GLOBAL INSTANCE
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
