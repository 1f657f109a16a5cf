// Package config loads the propagation tuning parameters from JSON. Fields
// are pointers so a partial file overrides only what it names; everything
// else keeps the engine defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marianaschaefer/geoapi/internal/classify"
)

// TuningConfig mirrors classify.Params with optional fields.
type TuningConfig struct {
	Neighbors           *int     `json:"neighbors,omitempty"`
	Gamma               *float64 `json:"gamma,omitempty"`
	Alpha               *float64 `json:"alpha,omitempty"`
	MaxIterations       *int     `json:"max_iterations,omitempty"`
	Tolerance           *float64 `json:"tolerance,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	MaxRounds           *int     `json:"max_rounds,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Partial configs are
// safe: omitted fields stay nil.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg TuningConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// Params applies the overrides on top of base and returns engine parameters.
func (c *TuningConfig) Params(base classify.Params) classify.Params {
	if c == nil {
		return base
	}
	if c.Neighbors != nil {
		base.Neighbors = *c.Neighbors
	}
	if c.Gamma != nil {
		base.Gamma = *c.Gamma
	}
	if c.Alpha != nil {
		base.Alpha = *c.Alpha
	}
	if c.MaxIterations != nil {
		base.MaxIterations = *c.MaxIterations
	}
	if c.Tolerance != nil {
		base.Tolerance = *c.Tolerance
	}
	if c.ConfidenceThreshold != nil {
		base.ConfidenceThreshold = *c.ConfidenceThreshold
	}
	if c.MaxRounds != nil {
		base.MaxRounds = *c.MaxRounds
	}
	return base
}
