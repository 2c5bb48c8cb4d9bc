package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the engine's knobs.
type Config struct {
	// PrepatchDepth bounds the enrichment fixpoint recursion.
	PrepatchDepth int `yaml:"prepatchDepth"`

	// PrepatchDontRepeat stops an enrichment trigger from firing twice
	// within one fixpoint branch.
	PrepatchDontRepeat bool `yaml:"prepatchDontRepeat"`

	// SubactionDontRepeat stops a cascade trigger from firing twice
	// across the whole action tree of one transaction.
	SubactionDontRepeat bool `yaml:"subactionDontRepeat"`

	// AttemptLimit bounds root-level retries on transient store errors.
	AttemptLimit int `yaml:"attemptLimit"`

	// CreatedAt/UpdatedAt toggle timestamp auto-population, handled by
	// the store adapter.
	CreatedAt bool `yaml:"createdAt"`
	UpdatedAt bool `yaml:"updatedAt"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		PrepatchDepth:       4,
		PrepatchDontRepeat:  true,
		SubactionDontRepeat: true,
		AttemptLimit:        2,
	}
}

// LoadConfig reads a YAML config file over the defaults. Keys absent from
// the file keep their default value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
