// Package config holds the tunable surface of the pipeline, loaded from a
// YAML file with sensible defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all metadiff configuration.
type Config struct {
	Design    DesignConfig    `yaml:"design"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Voom      VoomConfig      `yaml:"voom"`
	FDR       FDRConfig       `yaml:"fdr"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DesignConfig fixes the reference health state all contrasts compare
// against.
type DesignConfig struct {
	Reference string `yaml:"reference"`
}

// NormalizeConfig sets the missing-gene-length policy.
type NormalizeConfig struct {
	DropMissingLengths bool `yaml:"drop_missing_lengths"`
}

// VoomConfig tunes the mean-variance trend smoother.
type VoomConfig struct {
	Span float64 `yaml:"span"`
}

// FDRConfig tunes q-value estimation. FallbackPi0 re-runs a too-small
// comparison group with the conservative pi0 = 1 instead of failing.
type FDRConfig struct {
	MinTests    int  `yaml:"min_tests"`
	FallbackPi0 bool `yaml:"fallback_pi0"`
}

// EnrichConfig sets the hit-selection rule for over-representation tests.
type EnrichConfig struct {
	QCutoff float64 `yaml:"q_cutoff"`
}

// LoggingConfig sets the zap level (debug, info, warn, error).
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Design:    DesignConfig{Reference: "healthy"},
		Normalize: NormalizeConfig{DropMissingLengths: true},
		Voom:      VoomConfig{Span: 0.5},
		FDR:       FDRConfig{MinTests: 20, FallbackPi0: true},
		Enrich:    EnrichConfig{QCutoff: 0.05},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config on top of the defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would make a stage silently misbehave.
func (c *Config) Validate() error {
	if c.Design.Reference == "" {
		return fmt.Errorf("config: design.reference must be set")
	}
	if c.Voom.Span <= 0 || c.Voom.Span > 1 {
		return fmt.Errorf("config: voom.span %g must be in (0, 1]", c.Voom.Span)
	}
	if c.Enrich.QCutoff <= 0 || c.Enrich.QCutoff >= 1 {
		return fmt.Errorf("config: enrich.q_cutoff %g must be in (0, 1)", c.Enrich.QCutoff)
	}
	if c.FDR.MinTests < 0 {
		return fmt.Errorf("config: fdr.min_tests must not be negative")
	}
	return nil
}
