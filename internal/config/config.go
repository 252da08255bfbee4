package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// RestoreTimeoutSeconds bounds a whole restore (safety capture + commit).
	// On timeout the commit is rolled back and the live collection is unchanged.
	RestoreTimeoutSeconds int `json:"restore_timeout_seconds"`

	// SchedulerTickSeconds is the interval between retention scheduler ticks.
	SchedulerTickSeconds int `json:"scheduler_tick_seconds"`

	// AllowDuplicateScheduled disables skipping of scheduled captures whose content
	// hash equals the latest scheduled capsule for the owner.
	// Manual captures are never skipped regardless of this setting.
	AllowDuplicateScheduled bool `json:"allow_duplicate_scheduled,omitempty"`

	// AllowedPaths is an allowlist of directories for export operations.
	// Paths outside ~/.tcap/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
	// When true, any directory is allowed (but symlink and extension checks still apply).
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is the log output format (text, json).
	LogFormat string `json:"log_format,omitempty"`

	// HTTPBind is the interface the HTTP API binds to.
	HTTPBind string `json:"http_bind,omitempty"`

	// HTTPPort is the port the HTTP API listens on.
	HTTPPort int `json:"http_port,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RestoreTimeoutSeconds: 30,
		SchedulerTickSeconds:  60,
		LogLevel:              "info",
		LogFormat:             "text",
		HTTPBind:              "127.0.0.1",
		HTTPPort:              8422,
	}
}

// RestoreTimeout returns RestoreTimeoutSeconds as a duration.
func (c *Config) RestoreTimeout() time.Duration {
	if c == nil || c.RestoreTimeoutSeconds <= 0 {
		return time.Duration(DefaultConfig().RestoreTimeoutSeconds) * time.Second
	}
	return time.Duration(c.RestoreTimeoutSeconds) * time.Second
}

// SchedulerTick returns SchedulerTickSeconds as a duration.
func (c *Config) SchedulerTick() time.Duration {
	if c == nil || c.SchedulerTickSeconds <= 0 {
		return time.Duration(DefaultConfig().SchedulerTickSeconds) * time.Second
	}
	return time.Duration(c.SchedulerTickSeconds) * time.Second
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.tcap.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.tcap) and repo (.tcap) directories.
// Repo config is found by walking upward from startDir to find the nearest .tcap/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .tcap/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".tcap", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.RestoreTimeoutSeconds = firstNonZero(overlay.RestoreTimeoutSeconds, base.RestoreTimeoutSeconds)
	result.SchedulerTickSeconds = firstNonZero(overlay.SchedulerTickSeconds, base.SchedulerTickSeconds)
	result.DBMaxOpenConns = firstNonZero(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstNonZero(overlay.DBMaxIdleConns, base.DBMaxIdleConns)
	result.HTTPPort = firstNonZero(overlay.HTTPPort, base.HTTPPort)

	result.LogLevel = firstNonEmpty(overlay.LogLevel, base.LogLevel)
	result.LogFormat = firstNonEmpty(overlay.LogFormat, base.LogFormat)
	result.HTTPBind = firstNonEmpty(overlay.HTTPBind, base.HTTPBind)

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths
	result.AllowDuplicateScheduled = base.AllowDuplicateScheduled || overlay.AllowDuplicateScheduled

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstNonZero(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
