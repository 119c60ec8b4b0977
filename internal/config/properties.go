package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/magiconair/properties"
)

// Key sets understood in .properties files. The first name of each pair is
// preferred; the second is the spelling used by the older poller entry point.
var (
	propSource       = []string{"sourceFolder", "sourceFolderPath"}
	propDestination  = []string{"destinationFolder", "destinationFolderPath"}
	propPollInterval = []string{"pollingInterval", "pollIntervalMs"}
	propCopyOption   = []string{"copyOption", "conflictPolicy"}
)

// LoadProperties reads a legacy config.properties file. Only the four
// core keys are mapped; everything else keeps its default.
func LoadProperties(path string) (*Config, error) {
	p, err := properties.LoadFile(path, properties.ISO_8859_1)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return fromProperties(p)
}

// ParseProperties decodes properties data held in memory
func ParseProperties(data string) (*Config, error) {
	p, err := properties.LoadString(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return fromProperties(p)
}

func fromProperties(p *properties.Properties) (*Config, error) {
	cfg := &Config{
		Source:      lookup(p, propSource),
		Destination: lookup(p, propDestination),
	}

	if raw := lookup(p, propPollInterval); raw != "" {
		ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: pollingInterval %q is not an integer", raw)
		}
		cfg.PollIntervalMs = ms
	}

	if raw := lookup(p, propCopyOption); raw != "" {
		policy, err := ParseConflictPolicy(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		cfg.ConflictPolicy = policy
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func lookup(p *properties.Properties, keys []string) string {
	for _, k := range keys {
		if v, ok := p.Get(k); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
