// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kibitzer/kibitzer/pkg/types"
)

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// LoadConfig loads configuration from a file
func (m *Manager) LoadConfig(path string) (*types.KibitzerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.KibitzerConfig

	// Try JSON first
	jsonErr := json.Unmarshal(data, &cfg)
	if jsonErr == nil {
		return m.validateConfig(&cfg)
	}

	cfg = types.KibitzerConfig{}
	yamlErr := yaml.Unmarshal(data, &cfg)
	if yamlErr == nil {
		return m.validateConfig(&cfg)
	}

	return nil, fmt.Errorf("failed to parse config as JSON (%v) or YAML: %w", jsonErr, yamlErr)
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(config *types.KibitzerConfig) error {
	if config.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %s", config.Version)
	}

	if len(config.Engines) == 0 {
		return fmt.Errorf("no engines defined")
	}

	engineNames := make(map[string]bool)
	for i, engine := range config.Engines {
		if err := m.validateEngine(engine); err != nil {
			return fmt.Errorf("engine %d: %w", i, err)
		}
		if engineNames[engine.Name] {
			return fmt.Errorf("duplicate engine name: %s", engine.Name)
		}
		engineNames[engine.Name] = true
	}

	if config.Pool.Size < 0 {
		return fmt.Errorf("pool size must be >= 0")
	}
	if config.Pool.QueueSize < 0 {
		return fmt.Errorf("pool queue size must be >= 0")
	}
	if config.Pool.JobTimeoutMs < 0 {
		return fmt.Errorf("pool job timeout must be >= 0")
	}
	if config.Pool.MaxRestarts < 0 {
		return fmt.Errorf("pool max restarts must be >= 0")
	}

	switch config.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDefaultConfig returns a configuration skeleton for one engine
func (m *Manager) GetDefaultConfig(enginePath string) *types.KibitzerConfig {
	return &types.KibitzerConfig{
		Version: "1.0",
		Engines: []types.EngineConfig{
			{
				Name: "default",
				Path: enginePath,
				Options: map[string]string{
					"Hash": "128",
				},
			},
		},
		Pool: types.PoolConfig{
			Size:         1,
			JobTimeoutMs: 30000,
			MaxRestarts:  1,
		},
		Notifications: types.NotificationConfig{
			Enabled: true,
		},
		Logging: types.LoggingConfig{
			Level: "info",
		},
	}
}

// Private methods

func (m *Manager) validateConfig(cfg *types.KibitzerConfig) (*types.KibitzerConfig, error) {
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) validateEngine(engine types.EngineConfig) error {
	if engine.Name == "" {
		return fmt.Errorf("missing name")
	}
	if engine.Path == "" {
		return fmt.Errorf("missing executable path")
	}
	return nil
}
