// Package config holds the checking-run configuration: exploration
// bounds, fault switches and harness settings, with defaults overlaid
// by an optional JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
)

// Config is the full run configuration shared by the check and
// simulate commands.
type Config struct {
	// Participants is the participant count for explorer runs.
	Participants int `json:"participants"`

	// MaxDepth bounds the exploration depth in events.
	MaxDepth int `json:"max_depth"`

	// MaxCrashesPerParty bounds crash faults; zero disables crashes.
	MaxCrashesPerParty int `json:"max_crashes_per_party"`

	EnableLoss        bool `json:"enable_loss"`
	EnableDuplication bool `json:"enable_duplication"`
	EnableTimeout     bool `json:"enable_timeout"`

	// Search is "bfs" (shortest counterexamples) or "dfs".
	Search string `json:"search"`

	// Workers is the BFS expansion worker count.
	Workers int `json:"workers"`

	// Runs is the number of random scenarios for simulate.
	Runs int `json:"runs"`

	// Seed seeds scenario generation; zero means time-based.
	Seed int64 `json:"seed"`

	// MaxSteps and FaultCutoff bound each simulated scenario.
	MaxSteps    int `json:"max_steps"`
	FaultCutoff int `json:"fault_cutoff"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Participants:       2,
		MaxDepth:           20,
		MaxCrashesPerParty: 1,
		EnableTimeout:      true,
		Search:             "bfs",
		Workers:            4,
		Runs:               200,
		MaxSteps:           1000,
		FaultCutoff:        40,
	}
}

// Load reads a JSON config file over the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(data, config); err != nil {
		return nil, err
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the bounds.
func (c *Config) Validate() error {
	if c.Participants < 1 {
		return fmt.Errorf("participants must be >= 1, got %d", c.Participants)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max_depth must be >= 1, got %d", c.MaxDepth)
	}
	if c.MaxCrashesPerParty < 0 {
		return fmt.Errorf("max_crashes_per_party must be >= 0, got %d", c.MaxCrashesPerParty)
	}
	if c.Search != "bfs" && c.Search != "dfs" {
		return fmt.Errorf("search must be bfs or dfs, got %q", c.Search)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.Runs < 1 {
		return fmt.Errorf("runs must be >= 1, got %d", c.Runs)
	}
	if c.MaxSteps < 1 || c.FaultCutoff < 0 || c.FaultCutoff >= c.MaxSteps {
		return fmt.Errorf("need 0 <= fault_cutoff < max_steps, got %d and %d", c.FaultCutoff, c.MaxSteps)
	}
	return nil
}
