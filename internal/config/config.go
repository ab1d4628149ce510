package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds application configuration.
type Config struct {
	// SortKey is the default sort criterion for folders without saved settings.
	// One of: name, size, date, type, attributes.
	SortKey string `json:"sort_key,omitempty" validate:"omitempty,oneof=name size date type attributes"`

	// SortDescending reverses the default sort order.
	SortDescending bool `json:"sort_descending,omitempty"`

	// FoldersMixed sorts directories among files instead of grouping them first.
	FoldersMixed bool `json:"folders_mixed,omitempty"`

	// InsertUnsorted appends newly created items at the end of the view
	// instead of splicing them into their sorted position.
	InsertUnsorted bool `json:"insert_unsorted,omitempty"`

	// ShowHidden shows items with the hidden attribute.
	ShowHidden bool `json:"show_hidden,omitempty"`

	// HideExtensions hides known file extensions in virtual folders.
	// Real folders always show on-disk names.
	HideExtensions bool `json:"hide_extensions,omitempty"`

	// PathCase controls how paths from change notifications are matched.
	// "auto" picks insensitive on windows and darwin, sensitive elsewhere.
	PathCase string `json:"path_case,omitempty" validate:"omitempty,oneof=auto sensitive insensitive"`

	// ViewMode is the default view mode for folders without saved settings.
	ViewMode string `json:"view_mode,omitempty" validate:"omitempty,oneof=extra-large-icons large-icons icons small-icons list details thumbnails tiles"`

	// Columns lists the checked columns shown in details view.
	Columns []string `json:"columns,omitempty" validate:"dive,oneof=name type size modified attributes extension"`

	// ColumnWorkers is the number of background workers computing column values.
	ColumnWorkers int `json:"column_workers,omitempty" validate:"gte=0,lte=64"`

	// ResolveAttempts bounds metadata re-reads for a changed item.
	ResolveAttempts int `json:"resolve_attempts,omitempty" validate:"gte=0,lte=10"`

	// ResolveBackoffMs is the initial wait between re-read attempts.
	ResolveBackoffMs int `json:"resolve_backoff_ms,omitempty" validate:"gte=0,lte=5000"`

	// RescanIntervalSec enables a periodic reconciliation pass against the
	// directory listing. 0 disables it; notifications alone drive the view.
	RescanIntervalSec int `json:"rescan_interval_sec,omitempty" validate:"gte=0"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`

	// LogFormat is console or json.
	LogFormat string `json:"log_format,omitempty" validate:"omitempty,oneof=console json"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" validate:"gte=0"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" validate:"gte=0"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		SortKey:          "name",
		PathCase:         "auto",
		ViewMode:         "details",
		Columns:          []string{"name", "type", "size", "modified"},
		ColumnWorkers:    4,
		ResolveAttempts:  3,
		ResolveBackoffMs: 20,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

var validate = validator.New()

// Validate checks field values against their allowed ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CaseInsensitivePaths resolves PathCase for the running platform.
func (c *Config) CaseInsensitivePaths() bool {
	switch c.PathCase {
	case "insensitive":
		return true
	case "sensitive":
		return false
	}
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// ResolveBackoff returns the initial wait between metadata re-read attempts.
func (c *Config) ResolveBackoff() time.Duration {
	return time.Duration(c.ResolveBackoffMs) * time.Millisecond
}

// RescanInterval returns the periodic reconciliation interval (0 = disabled).
func (c *Config) RescanInterval() time.Duration {
	return time.Duration(c.RescanIntervalSec) * time.Second
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.dirsync.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.dirsync) and repo (.dirsync) directories.
// Repo config is found by walking upward from startDir to find the nearest .dirsync/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .dirsync/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".dirsync", "config.json")
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
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
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
	merged := Merge(DefaultConfig(), cfg)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Strings and ints: overlay wins if non-zero, else base
	result.SortKey = pickString(overlay.SortKey, base.SortKey)
	result.PathCase = pickString(overlay.PathCase, base.PathCase)
	result.ViewMode = pickString(overlay.ViewMode, base.ViewMode)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pickString(overlay.LogFormat, base.LogFormat)

	result.ColumnWorkers = pickInt(overlay.ColumnWorkers, base.ColumnWorkers)
	result.ResolveAttempts = pickInt(overlay.ResolveAttempts, base.ResolveAttempts)
	result.ResolveBackoffMs = pickInt(overlay.ResolveBackoffMs, base.ResolveBackoffMs)
	result.RescanIntervalSec = pickInt(overlay.RescanIntervalSec, base.RescanIntervalSec)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.SortDescending = base.SortDescending || overlay.SortDescending
	result.FoldersMixed = base.FoldersMixed || overlay.FoldersMixed
	result.InsertUnsorted = base.InsertUnsorted || overlay.InsertUnsorted
	result.ShowHidden = base.ShowHidden || overlay.ShowHidden
	result.HideExtensions = base.HideExtensions || overlay.HideExtensions

	// Arrays: merge and deduplicate
	result.Columns = mergeStringSlice(base.Columns, overlay.Columns)

	return result
}

func pickString(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
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
