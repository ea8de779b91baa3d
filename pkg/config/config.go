// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nokeedev/objtx/pkg/resolver"
	"github.com/nokeedev/objtx/pkg/types"
	"github.com/nokeedev/objtx/pkg/utils"
)

// CurrentVersion is the only configuration version understood
const CurrentVersion = "1.0"

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig loads and validates a configuration file, JSON or YAML
func (m *Manager) LoadConfig(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := m.ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = filepath.Dir(path)
	} else if !filepath.IsAbs(cfg.ProjectRoot) {
		cfg.ProjectRoot = filepath.Join(filepath.Dir(path), cfg.ProjectRoot)
	}
	if abs, err := filepath.Abs(cfg.ProjectRoot); err == nil {
		cfg.ProjectRoot = abs
	}

	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig decodes configuration data, trying JSON first and YAML second.
// Defaults are applied; the result is not validated.
func (m *Manager) ParseConfig(data []byte) (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		cfg = types.ProjectConfig{}
		if yamlErr := yaml.Unmarshal(data, &cfg); yamlErr != nil {
			return nil, fmt.Errorf("failed to parse config as JSON or YAML: %w", yamlErr)
		}
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// SaveConfig writes cfg to path, as YAML for .yaml/.yml files and JSON otherwise
func (m *Manager) SaveConfig(path string, cfg *types.ProjectConfig) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *types.ProjectConfig) error {
	if cfg.Version != CurrentVersion {
		return fmt.Errorf("%w: unsupported config version: %s", ErrInvalidConfig, cfg.Version)
	}

	if _, err := resolver.ForFamily(cfg.Compiler.Family, cfg.ProjectRoot); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Compiler.Parallelism < 0 {
		return fmt.Errorf("%w: compiler parallelism must not be negative", ErrInvalidConfig)
	}

	if len(cfg.Sources) == 0 {
		return fmt.Errorf("%w: no source patterns defined", ErrInvalidConfig)
	}
	if _, err := utils.NewPatternMatcher(cfg.Sources); err != nil {
		return fmt.Errorf("%w: sources: %v", ErrInvalidConfig, err)
	}
	if _, err := utils.NewPatternMatcher(cfg.Exclude); err != nil {
		return fmt.Errorf("%w: exclude: %v", ErrInvalidConfig, err)
	}

	if cfg.ObjectDir == "" {
		return fmt.Errorf("%w: object directory not specified", ErrInvalidConfig)
	}
	if cfg.TempDir == "" {
		return fmt.Errorf("%w: temporary directory not specified", ErrInvalidConfig)
	}
	objectDir, tempDir := ObjectDir(cfg), TempDir(cfg)
	if types.Overlaps(objectDir, tempDir) {
		return fmt.Errorf("%w: object directory %s and temporary directory %s overlap", ErrInvalidConfig, objectDir, tempDir)
	}

	for i, opts := range cfg.PerSource {
		if len(opts.Patterns) == 0 {
			return fmt.Errorf("%w: perSource[%d]: no patterns defined", ErrInvalidConfig, i)
		}
		if _, err := utils.NewPatternMatcher(opts.Patterns); err != nil {
			return fmt.Errorf("%w: perSource[%d]: %v", ErrInvalidConfig, i, err)
		}
	}

	if cfg.Logging != nil && cfg.Logging.Level != "" {
		switch cfg.Logging.Level {
		case types.LogLevelDebug, types.LogLevelInfo, types.LogLevelWarn, types.LogLevelError:
		default:
			return fmt.Errorf("%w: invalid log level: %s", ErrInvalidConfig, cfg.Logging.Level)
		}
	}

	if cfg.Watch != nil && cfg.Watch.SettlingDelay < 0 {
		return fmt.Errorf("%w: watch settling delay must not be negative", ErrInvalidConfig)
	}

	return nil
}

// GetDefaultConfig returns a default configuration for a compiler family
func (m *Manager) GetDefaultConfig(family types.CompilerFamily) *types.ProjectConfig {
	enabled := true
	incremental := true

	cfg := &types.ProjectConfig{
		Version:                 CurrentVersion,
		Sources:                 DefaultSourcePatterns(family),
		IncrementalAfterFailure: &incremental,
		Compiler: types.CompilerConfig{
			Family: family,
		},
		Notifications: &types.NotificationConfig{
			Enabled: &enabled,
		},
		Logging: &types.LoggingConfig{
			Level: types.LogLevelInfo,
		},
		Watch: &types.WatchConfig{
			SettlingDelay: 500,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in unset fields
func ApplyDefaults(cfg *types.ProjectConfig) {
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}
	if cfg.Compiler.Family == "" {
		cfg.Compiler.Family = types.FamilyGCC
	}
	if cfg.ObjectDir == "" {
		cfg.ObjectDir = filepath.Join("build", "objs")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join("build", "tmp", "objtx")
	}
}

// DefaultSourcePatterns returns the source globs usual for a compiler family
func DefaultSourcePatterns(family types.CompilerFamily) []string {
	patterns := []string{"src/**/*.c", "src/**/*.cpp", "src/**/*.cc", "src/**/*.cxx"}
	if family == types.FamilyClang {
		patterns = append(patterns, "src/**/*.m", "src/**/*.mm")
	}
	return patterns
}

// ObjectDir returns the absolute object directory of cfg
func ObjectDir(cfg *types.ProjectConfig) string {
	return absPath(cfg.ProjectRoot, cfg.ObjectDir)
}

// TempDir returns the absolute temporary directory of cfg
func TempDir(cfg *types.ProjectConfig) string {
	return absPath(cfg.ProjectRoot, cfg.TempDir)
}

func absPath(root, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}

// NotificationsEnabled reports whether desktop notifications are on
func NotificationsEnabled(cfg *types.ProjectConfig) bool {
	if cfg.Notifications == nil || cfg.Notifications.Enabled == nil {
		return true
	}
	return *cfg.Notifications.Enabled
}
