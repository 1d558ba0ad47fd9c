// Package config loads the YAML configuration of forge-patch.
//
// Example:
//
//	workspace_dir: .
//	policy:
//	  denied_patterns: [".git/**", "vendor/**"]
//	  max_files: 20
//	  max_lines_changed: 1000
//	preview:
//	  highlight: true
//	  style: monokai
//	logging:
//	  verbosity: normal
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alecthomas/chroma/v2/styles"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/forge-patch/pkg/transaction"
)

// FileName is the configuration file looked up in the workspace root when
// no explicit path is given.
const FileName = ".forge-patch.yaml"

// Config represents the configuration of a forge-patch run
type Config struct {
	// Workspace directory all patch paths are resolved against
	WorkspaceDir string `yaml:"workspace_dir" json:"workspace_dir"`

	// Limits on what a single patch may touch
	Policy transaction.PolicyConfig `yaml:"policy" json:"policy"`

	// Dry-run preview rendering
	Preview PreviewConfig `yaml:"preview" json:"preview"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Path of the file this config was loaded from, if any
	ConfigFilePath string `yaml:"-" json:"-"`
}

// PreviewConfig controls how diff previews are rendered on a terminal
type PreviewConfig struct {
	Highlight bool   `yaml:"highlight" json:"highlight"`
	Style     string `yaml:"style" json:"style"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Verbosity controls logging level: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity"`

	// Dir overrides the log directory (default ~/.forge/logs)
	Dir string `yaml:"dir" json:"dir"`
}

// DefaultConfig returns a default configuration suitable for most use cases
func DefaultConfig() *Config {
	return &Config{
		WorkspaceDir: ".",
		Policy: transaction.PolicyConfig{
			DeniedPatterns: []string{".git/**"},
		},
		Preview: PreviewConfig{
			Highlight: true,
			Style:     "monokai",
		},
		Logging: LoggingConfig{
			Verbosity: "normal",
		},
	}
}

// Load reads a YAML configuration file on top of DefaultConfig and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	config.WorkspaceDir = ""
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.ConfigFilePath = path

	// A relative workspace_dir is relative to the file that names it.
	switch {
	case config.WorkspaceDir == "":
		config.WorkspaceDir = "."
	case !filepath.IsAbs(config.WorkspaceDir):
		config.WorkspaceDir = filepath.Join(filepath.Dir(path), config.WorkspaceDir)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return config, nil
}

// Discover loads FileName from workspaceDir if it exists, and otherwise
// returns DefaultConfig with WorkspaceDir set.
func Discover(workspaceDir string) (*Config, error) {
	path := filepath.Join(workspaceDir, FileName)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			config := DefaultConfig()
			config.WorkspaceDir = workspaceDir
			return config, nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	config, err := Load(path)
	if err != nil {
		return nil, err
	}
	// A workspace-local config is always relative to its own directory.
	config.WorkspaceDir = workspaceDir
	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.WorkspaceDir == "" {
		return fmt.Errorf("workspace directory is required")
	}

	if c.Policy.MaxFiles < 0 {
		return fmt.Errorf("max_files cannot be negative")
	}

	if c.Policy.MaxLinesChanged < 0 {
		return fmt.Errorf("max_lines_changed cannot be negative")
	}

	if _, err := transaction.NewPatternMatcher(c.Policy.AllowedPatterns, c.Policy.DeniedPatterns); err != nil {
		return err
	}

	if c.Preview.Style == "" {
		c.Preview.Style = "monokai"
	}
	if _, ok := styles.Registry[c.Preview.Style]; !ok {
		return fmt.Errorf("unknown preview style: %s", c.Preview.Style)
	}

	// Set default verbosity if not specified
	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}

	validLevels := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validLevels[c.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}

	return nil
}

// NewPolicy builds the transaction policy described by the configuration.
func (c *Config) NewPolicy() (*transaction.Policy, error) {
	return transaction.NewPolicy(c.Policy)
}
