// Package config loads recordcache settings from JSONC files and flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

var (
	ErrConfigInvalid      = errors.New("invalid config")
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrCacheDirEmpty      = errors.New("cache_dir cannot be empty")
	ErrBadTimeout         = errors.New("rebuild_timeout must be a non-negative duration")
)

// Config holds all configuration options.
type Config struct {
	// From config files
	CacheDir             string
	Source               string
	RebuildTimeout       time.Duration
	FallbackOnCacheError bool
	CaseInsensitiveUsers bool

	// Resolved paths
	EffectiveCwd string // Absolute working directory (from -C flag or os.Getwd)
	CacheDirAbs  string
	SourceAbs    string // Empty if no source is configured

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// fileConfig is the on-disk form. Pointers tell "unset" from zero values so
// a later file can turn a flag back off.
type fileConfig struct {
	CacheDir             *string `json:"cache_dir,omitempty"`
	Source               *string `json:"source,omitempty"`
	RebuildTimeout       *string `json:"rebuild_timeout,omitempty"`
	FallbackOnCacheError *bool   `json:"fallback_on_cache_error,omitempty"`
	CaseInsensitiveUsers *bool   `json:"case_insensitive_users,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		CacheDir: ".recordcache",
	}
}

// FileName is the project config file name.
const FileName = ".recordcache.json"

// globalPath returns $XDG_CONFIG_HOME/recordcache/config.json, falling back to
// ~/.config. Empty if neither is known.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "recordcache", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "recordcache", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride  string            // -C/--cwd; if empty, os.Getwd() is used
	ConfigPath       string            // -c/--config
	CacheDirOverride string            // --cache-dir
	SourceOverride   string            // --source
	Env              map[string]string // environment variables
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config
// 3. Project config file (.recordcache.json, if it exists)
// 4. Explicit config file via ConfigPath
// 5. CLI overrides.
//
// Paths in the returned Config are resolved against the working directory.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if path := globalPath(input.Env); path != "" {
		loaded, err := loadFile(&cfg, path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = path
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false

	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		if _, err := os.Stat(projectPath); err != nil {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, input.ConfigPath)
		}
	}

	loaded, err := loadFile(&cfg, projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectPath
	}

	if input.CacheDirOverride != "" {
		cfg.CacheDir = input.CacheDirOverride
	}

	if input.SourceOverride != "" {
		cfg.Source = input.SourceOverride
	}

	if cfg.CacheDir == "" {
		return Config{}, ErrCacheDirEmpty
	}

	cfg.EffectiveCwd = workDir
	cfg.CacheDirAbs = resolve(workDir, cfg.CacheDir)

	if cfg.Source != "" {
		cfg.SourceAbs = resolve(workDir, cfg.Source)
	}

	return cfg, nil
}

func resolve(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workDir, path)
}

// loadFile merges the file at path into cfg. A missing file is only an error
// when mustExist is set.
func loadFile(cfg *Config, path string, mustExist bool) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return false, nil
		}

		if mustExist {
			return false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}

		return false, nil
	}

	fc, err := parse(data)
	if err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	if err := merge(cfg, fc); err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return true, nil
}

func parse(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig

	if err := json.Unmarshal(standardized, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return fc, nil
}

func merge(cfg *Config, fc fileConfig) error {
	if fc.CacheDir != nil {
		if *fc.CacheDir == "" {
			return ErrCacheDirEmpty
		}

		cfg.CacheDir = *fc.CacheDir
	}

	if fc.Source != nil {
		cfg.Source = *fc.Source
	}

	if fc.RebuildTimeout != nil {
		d, err := time.ParseDuration(*fc.RebuildTimeout)
		if err != nil || d < 0 {
			return fmt.Errorf("%w: %q", ErrBadTimeout, *fc.RebuildTimeout)
		}

		cfg.RebuildTimeout = d
	}

	if fc.FallbackOnCacheError != nil {
		cfg.FallbackOnCacheError = *fc.FallbackOnCacheError
	}

	if fc.CaseInsensitiveUsers != nil {
		cfg.CaseInsensitiveUsers = *fc.CaseInsensitiveUsers
	}

	return nil
}

// Format renders cfg as JSONC, the way it would be written to a file.
func Format(cfg Config) (string, error) {
	fc := fileConfig{
		CacheDir:             &cfg.CacheDirAbs,
		FallbackOnCacheError: &cfg.FallbackOnCacheError,
		CaseInsensitiveUsers: &cfg.CaseInsensitiveUsers,
	}

	if cfg.SourceAbs != "" {
		fc.Source = &cfg.SourceAbs
	}

	if cfg.RebuildTimeout > 0 {
		s := cfg.RebuildTimeout.String()
		fc.RebuildTimeout = &s
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return "", err
	}

	v, err := hujson.Parse(data)
	if err != nil {
		return "", err
	}

	v.Format()

	return string(v.Pack()), nil
}
