package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConflictPolicy defines what happens when a destination file already exists
type ConflictPolicy string

const (
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictFail      ConflictPolicy = "fail-if-exists"
	ConflictSkip      ConflictPolicy = "skip-if-exists"
)

// Baseline selects how the per-cycle total byte count is estimated
type Baseline string

const (
	BaselineRecursive Baseline = "recursive"
	BaselineTopLevel  Baseline = "top-level"
)

const (
	defaultStatusIntervalMs = 250
	defaultListenAddr       = "127.0.0.1:8787"
)

// ParseConflictPolicy maps a configured value to a ConflictPolicy.
// Legacy config.properties files name a copy option instead; every one of
// them replaced the destination, so they all mean overwrite.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.TrimSpace(s) {
	case string(ConflictOverwrite), "REPLACE_EXISTING", "COPY_ATTRIBUTES", "ATOMIC_MOVE":
		return ConflictOverwrite, nil
	case string(ConflictFail):
		return ConflictFail, nil
	case string(ConflictSkip):
		return ConflictSkip, nil
	default:
		return "", fmt.Errorf("invalid conflict policy %q (must be overwrite, fail-if-exists, or skip-if-exists)", s)
	}
}

// UnmarshalYAML validates the policy while decoding
func (p *ConflictPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseConflictPolicy(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Config represents the complete dropsyncd configuration
type Config struct {
	Source           string         `yaml:"source"`
	Destination      string         `yaml:"destination"`
	PollIntervalMs   int64          `yaml:"poll_interval_ms"`
	ConflictPolicy   ConflictPolicy `yaml:"conflict_policy"`
	Baseline         Baseline       `yaml:"baseline"`
	Workers          int            `yaml:"workers"`
	StatusIntervalMs int64          `yaml:"status_interval_ms"`
	MinFreeBytes     uint64         `yaml:"min_free_bytes"`
	Ignore           []string       `yaml:"ignore"`
	Watch            bool           `yaml:"watch"`
	StateDir         string         `yaml:"state_dir"`
	Serve            ServeConfig    `yaml:"serve"`

	statusIntervalSet bool
}

// ServeConfig configures the local status server
type ServeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	TokenFile  string `yaml:"token_file"`
}

// Load reads and parses the configuration file. Files ending in
// .properties are read in the legacy key=value format, everything else as YAML.
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	if strings.EqualFold(filepath.Ext(path), ".properties") {
		return LoadProperties(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML configuration data and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// status_interval_ms: 0 is a legal value, so remember whether it was set
	var probe struct {
		StatusIntervalMs *int64 `yaml:"status_interval_ms"`
	}
	if err := yaml.Unmarshal(data, &probe); err == nil && probe.StatusIntervalMs != nil {
		cfg.statusIntervalSet = true
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	c.expandEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// expandEnv expands environment variables in all path fields
func (c *Config) expandEnv() {
	c.Source = os.ExpandEnv(c.Source)
	c.Destination = os.ExpandEnv(c.Destination)
	c.StateDir = os.ExpandEnv(c.StateDir)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.TokenFile = os.ExpandEnv(c.Serve.TokenFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.ConflictPolicy == "" {
		c.ConflictPolicy = ConflictOverwrite
	}
	if c.Baseline == "" {
		c.Baseline = BaselineRecursive
	}
	if c.Workers == 0 {
		c.Workers = 1
	}
	if !c.statusIntervalSet && c.StatusIntervalMs == 0 {
		c.StatusIntervalMs = defaultStatusIntervalMs
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir()
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = defaultListenAddr
	}
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "dropsyncd")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "dropsyncd")
	}
	return filepath.Join(os.TempDir(), "dropsyncd")
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source is required")
	}
	if c.Destination == "" {
		return fmt.Errorf("destination is required")
	}

	if !filepath.IsAbs(c.Source) {
		return fmt.Errorf("source must be an absolute path: %s", c.Source)
	}
	if !filepath.IsAbs(c.Destination) {
		return fmt.Errorf("destination must be an absolute path: %s", c.Destination)
	}
	if filepath.Clean(c.Source) == filepath.Clean(c.Destination) {
		return fmt.Errorf("source and destination must differ: %s", c.Source)
	}
	if isWithin(c.Source, c.Destination) {
		return fmt.Errorf("destination must not be inside source: %s", c.Destination)
	}

	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be a positive integer, got %d", c.PollIntervalMs)
	}

	if _, err := ParseConflictPolicy(string(c.ConflictPolicy)); err != nil {
		return err
	}

	switch c.Baseline {
	case BaselineRecursive, BaselineTopLevel:
		// valid
	default:
		return fmt.Errorf("invalid baseline: %s (must be recursive or top-level)", c.Baseline)
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.StatusIntervalMs < 0 {
		return fmt.Errorf("status_interval_ms must not be negative, got %d", c.StatusIntervalMs)
	}

	if c.Serve.Enabled && c.Serve.TokenFile == "" {
		return fmt.Errorf("serve.token_file is required when serve is enabled")
	}

	return nil
}

// PollInterval returns the configured cycle period
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// StatusInterval returns the minimum gap between two progress updates for one file
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalMs) * time.Millisecond
}

// isWithin reports whether target lies strictly inside base
func isWithin(base, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
