// Package config loads poseidon's on-disk tunables (data directory,
// page size, table capacity, buffer pool size) the same way the
// ticket tool loads its own config: JSONC via hujson, global then
// project then CLI-override precedence, durable writes via
// natefinch/atomic.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrDirEmpty           = errors.New("dir cannot be empty")
)

// Config holds the tunables Store.Open needs, plus the shell's default
// traversal depth.
type Config struct {
	Dir           string `json:"dir,omitempty"`
	PageSize      uint32 `json:"page_size,omitempty"`
	TableCapacity uint64 `json:"table_capacity,omitempty"`
	PoolFrames    int    `json:"pool_frames,omitempty"`
	DefaultHops   int    `json:"default_hops,omitempty"`

	// InstanceID tags the graph this config describes, so two
	// .poseidon.json files never get mistaken for the same instance
	// purely on directory name. DefaultConfig sets a fresh UUID, a loaded
	// file's own value replaces it when present, and Save writes it out.
	InstanceID string `json:"instance_id,omitempty"`
}

// DefaultConfig returns the configuration a fresh install starts with.
func DefaultConfig() Config {
	return Config{
		Dir:         ".poseidon",
		DefaultHops: 3,
		InstanceID:  uuid.NewString(),
	}
}

// FileName is the default project config file name.
const FileName = ".poseidon.json"

// Sources tracks which config files contributed to a loaded Config.
type Sources struct {
	Global  string
	Project string
}

// getGlobalConfigPath returns $XDG_CONFIG_HOME/poseidon/config.json if
// set, otherwise ~/.config/poseidon/config.json. Empty if neither the
// environment nor the home directory can be resolved.
func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "poseidon", "config.json")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "poseidon", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "poseidon", "config.json")
	}

	return ""
}

// Load resolves configuration with the following precedence (highest
// wins): defaults, global user config, project config (.poseidon.json
// or an explicit configPath), then cliOverrides.Dir when
// hasDirOverride is set.
func Load(workDir, configPath string, cliOverrides Config, hasDirOverride bool, env []string) (Config, Sources, error) {
	cfg := DefaultConfig()

	var sources Sources

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return Config{}, Sources{}, err
	}
	sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, Sources{}, err
	}
	sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	if hasDirOverride {
		cfg.Dir = cliOverrides.Dir
	}

	if err := validate(cfg); err != nil {
		return Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

func loadGlobalConfig(env []string) (Config, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, explicitEmpty, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}
	if !loaded {
		return Config{}, "", nil
	}
	if explicitEmpty["dir"] {
		return Config{}, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, ErrDirEmpty)
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var cfgFile string
	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}
		mustExist = true

		if _, err := os.Stat(cfgFile); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, FileName)
		mustExist = false
	}

	cfg, explicitEmpty, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}
	if !loaded {
		return Config{}, "", nil
	}
	if explicitEmpty["dir"] {
		return Config{}, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, cfgFile, ErrDirEmpty)
	}

	return cfg, cfgFile, nil
}

func loadConfigFile(path string, mustExist bool) (Config, map[string]bool, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, nil, false, nil
		}
		if mustExist {
			return Config{}, nil, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}
		return Config{}, nil, false, nil
	}

	cfg, explicitEmpty, err := parse(data)
	if err != nil {
		return Config{}, nil, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, explicitEmpty, true, nil
}

func parse(data []byte) (Config, map[string]bool, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]any
	_ = json.Unmarshal(standardized, &raw)

	explicitEmpty := make(map[string]bool)
	if val, exists := raw["dir"]; exists {
		if str, ok := val.(string); ok && str == "" {
			explicitEmpty["dir"] = true
		}
	}

	return cfg, explicitEmpty, nil
}

func merge(base, overlay Config) Config {
	if overlay.Dir != "" {
		base.Dir = overlay.Dir
	}
	if overlay.PageSize != 0 {
		base.PageSize = overlay.PageSize
	}
	if overlay.TableCapacity != 0 {
		base.TableCapacity = overlay.TableCapacity
	}
	if overlay.PoolFrames != 0 {
		base.PoolFrames = overlay.PoolFrames
	}
	if overlay.DefaultHops != 0 {
		base.DefaultHops = overlay.DefaultHops
	}
	if overlay.InstanceID != "" {
		base.InstanceID = overlay.InstanceID
	}
	return base
}

func validate(cfg Config) error {
	if cfg.Dir == "" {
		return ErrDirEmpty
	}
	return nil
}

// Format returns cfg as formatted JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}
	return string(data), nil
}

// Save durably writes cfg as the project config file at
// filepath.Join(workDir, FileName), via a rename-into-place so a crash
// mid-write never leaves a truncated config behind.
func Save(workDir string, cfg Config) error {
	data, err := Format(cfg)
	if err != nil {
		return err
	}
	path := filepath.Join(workDir, FileName)
	return atomic.WriteFile(path, bytes.NewReader([]byte(data+"\n")))
}
