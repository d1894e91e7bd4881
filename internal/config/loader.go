package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads a simulation file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Defaults are applied and the result is validated.
func LoadConfig(path string) (*SimulationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read simulation file: %w", err)
	}

	cfg, err := ParseConfig(data, path)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig parses simulation data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*SimulationConfig, error) {
	var cfg SimulationConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON simulation: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML simulation: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse simulation (unknown format %s): %w", ext, err)
		}
	}

	return &cfg, nil
}

// ApplyDefaults fills unset plan fields.
//
// A plan without its own resolution inherits the file-level resolution,
// which itself defaults to DefaultResolution.
func ApplyDefaults(cfg *SimulationConfig) {
	if cfg.Resolution <= 0 {
		cfg.Resolution = DefaultResolution
	}
	if cfg.Name == "" {
		cfg.Name = "simulation"
	}

	for i := range cfg.Scenarios {
		plan := &cfg.Scenarios[i].Execution
		if plan.Resolution <= 0 {
			plan.Resolution = cfg.Resolution
		}
		if plan.TickExecutionStrategy == "" {
			plan.TickExecutionStrategy = StrategySliceTime
		}
		if plan.Type == "" {
			plan.Type = PlanTypeLinear
		}
	}
}

// WriteConfig writes a simulation file, choosing the format from the extension.
func WriteConfig(path string, cfg *SimulationConfig) error {
	var (
		data []byte
		err  error
	)

	if strings.ToLower(filepath.Ext(path)) == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to encode simulation: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write simulation file: %w", err)
	}
	return nil
}
