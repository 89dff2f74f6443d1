// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jacobian

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/curioloop/sparsejac/cpr"
	"github.com/curioloop/sparsejac/numdiff"
)

var (
	// ErrDimension is returned when a vector length disagrees with the problem.
	ErrDimension = numdiff.ErrDimension
	// ErrBounds is returned when a lower bound exceeds its upper bound.
	ErrBounds = numdiff.ErrBounds
	// ErrNotReady is returned when values are requested before Setup.
	ErrNotReady = errors.New("jacobian: engine is not set up")
	// ErrConfig is returned for an invalid configuration.
	ErrConfig = errors.New("jacobian: invalid config")
)

const (
	// StrategyNumeric estimates derivatives by grouped finite differences.
	StrategyNumeric = "numeric"
	// StrategyAnalytic takes exact derivatives from a Delegate.
	StrategyAnalytic = "analytic"
)

// Config selects and tunes the derivative strategy.
//
//	strategy: numeric        # numeric | analytic
//	step: 1.4901161193847656e-08
//	order: natural           # natural | largest-first
//	workers: 4
type Config struct {
	Strategy string  `yaml:"strategy"`
	Step     float64 `yaml:"step"`
	Order    string  `yaml:"order"`
	Workers  int     `yaml:"workers"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Strategy: StrategyNumeric,
		Step:     numdiff.DefaultStep,
		Order:    cpr.Natural.String(),
		Workers:  1,
	}
}

// ParseConfig decodes a YAML document on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Strategy != StrategyNumeric && c.Strategy != StrategyAnalytic:
		return fmt.Errorf("%w: unknown strategy %q", ErrConfig, c.Strategy)
	case !(c.Step > 0) || c.Step >= 1:
		return fmt.Errorf("%w: step %g must lie in (0, 1)", ErrConfig, c.Step)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers %d must not be negative", ErrConfig, c.Workers)
	}
	if _, err := cpr.ParseOrder(c.Order); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}
