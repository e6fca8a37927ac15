// Package config provides configuration loading and management for
// flimtrack. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Threshold parameters select the segmentation decision boundary
	Threshold struct {
		// Method is one of "otsu", "adaptive" or "manual"
		Method string `yaml:"method"`

		// ManualValue is the normalized threshold for the manual method;
		// leaving it unset is a configuration error for that method
		ManualValue *float64 `yaml:"manualValue"`

		// AdaptiveWindow is the odd neighborhood side length for the
		// adaptive method, in pixels
		AdaptiveWindow int `yaml:"adaptiveWindow"`

		// AdaptiveOffset is subtracted from the local mean
		AdaptiveOffset float64 `yaml:"adaptiveOffset"`
	} `yaml:"threshold"`

	// Segmentation parameters filter labeled regions
	Segmentation struct {
		// MinArea discards connected components below this pixel count
		MinArea int `yaml:"minArea"`

		// MaxArea discards components above this pixel count when > 0
		// (merged-cell artifacts)
		MaxArea int `yaml:"maxArea"`

		// MaxHoleArea fills enclosed background pockets up to this size
		// before labeling; 0 disables hole filling
		MaxHoleArea int `yaml:"maxHoleArea"`
	} `yaml:"segmentation"`

	// Lifetime parameters control raw value interpretation
	Lifetime struct {
		// ScaleFactor divides raw 16-bit lifetime values into
		// nanoseconds (0-65535 spanning 0-10 ns gives 6553.5)
		ScaleFactor float64 `yaml:"scaleFactor"`

		// Convert enables the raw-to-nanoseconds division
		Convert bool `yaml:"convert"`

		// ZeroInvalid treats raw zero as "no lifetime estimate"
		ZeroInvalid bool `yaml:"zeroInvalid"`
	} `yaml:"lifetime"`

	// Tracking parameters bound the cross-frame identity matching
	Tracking struct {
		// MaxCentroidDistance is the displacement tolerance in pixels
		MaxCentroidDistance float64 `yaml:"maxCentroidDistance"`

		// MaxAreaRatio is the larger-over-smaller area tolerance
		MaxAreaRatio float64 `yaml:"maxAreaRatio"`

		// GapTolerance is the number of consecutive unmatched frames a
		// cell survives before it is lost
		GapTolerance int `yaml:"gapTolerance"`
	} `yaml:"tracking"`

	// Processing parameters
	Processing struct {
		// NumWorkers bounds parallel frame analysis; frame analysis is
		// independent per time point, tracking always runs sequentially
		NumWorkers int `yaml:"numWorkers"`

		// Verbose controls step progress output
		Verbose bool `yaml:"verbose"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Directory receives reports, overlays and the results database
		Directory string `yaml:"directory"`

		// PixelSizeUm is the physical pixel size for metadata, 0 if unknown
		PixelSizeUm float64 `yaml:"pixelSizeUm"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Threshold.Method = "otsu"
	cfg.Threshold.AdaptiveWindow = 35
	cfg.Threshold.AdaptiveOffset = 0.05

	cfg.Segmentation.MinArea = 100
	cfg.Segmentation.MaxArea = 0
	cfg.Segmentation.MaxHoleArea = 50

	cfg.Lifetime.ScaleFactor = 6553.5
	cfg.Lifetime.Convert = true
	cfg.Lifetime.ZeroInvalid = true

	cfg.Tracking.MaxCentroidDistance = 50
	cfg.Tracking.MaxAreaRatio = 2.0
	cfg.Tracking.GapTolerance = 1

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.Verbose = true

	cfg.Output.Directory = "output"

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
